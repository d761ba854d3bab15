package queue

import "sync"

// Signal states published by consumers
const (
	signalStarted   = "started"
	signalCompleted = "completed"
	signalFailed    = "failed"
)

// signal is one lifecycle transition of a job
type signal struct {
	State  string    `json:"state"`
	Result []byte    `json:"result,omitempty"`
	Error  *JobError `json:"error,omitempty"`
}

// signalHandle is the Handle shared by both drivers. Transitions are applied
// at most once; a terminal transition implies started.
type signalHandle struct {
	id      string
	started chan struct{}
	done    chan struct{}

	startOnce sync.Once
	doneOnce  sync.Once
	closeOnce sync.Once

	mu      sync.Mutex
	result  []byte
	err     error
	release func()
}

func newSignalHandle(id string, release func()) *signalHandle {
	return &signalHandle{
		id:      id,
		started: make(chan struct{}),
		done:    make(chan struct{}),
		release: release,
	}
}

func (h *signalHandle) ID() string               { return h.id }
func (h *signalHandle) Started() <-chan struct{} { return h.started }
func (h *signalHandle) Done() <-chan struct{}    { return h.done }

func (h *signalHandle) Outcome() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

func (h *signalHandle) Close() {
	h.closeOnce.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

func (h *signalHandle) markStarted() {
	h.startOnce.Do(func() { close(h.started) })
}

func (h *signalHandle) finish(result []byte, err error) {
	h.doneOnce.Do(func() {
		h.mu.Lock()
		h.result, h.err = result, err
		h.mu.Unlock()
		h.markStarted()
		close(h.done)
	})
}

func (h *signalHandle) apply(s signal) {
	switch s.State {
	case signalStarted:
		h.markStarted()
	case signalCompleted:
		h.finish(s.Result, nil)
	case signalFailed:
		jobErr := s.Error
		if jobErr == nil {
			jobErr = &JobError{Code: CodeFailed, Message: "job failed"}
		}
		h.finish(nil, jobErr)
	}
}

func (h *signalHandle) isDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
