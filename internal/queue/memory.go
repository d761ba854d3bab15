package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMemoryBuffer = 1024

type memJob struct {
	id        string
	partition Partition
	payload   []byte
	timeout   time.Duration

	state       JobState
	lastErr     string
	result      []byte
	completedAt *time.Time
	cancel      context.CancelFunc
	handles     []*signalHandle
}

// Memory is an in-process Queue and Consumer. Jobs do not survive a restart.
type Memory struct {
	mu          sync.Mutex
	queues      map[Partition]chan *memJob
	jobs        map[string]*memJob
	handlers    map[Partition]JobFunc
	concurrency map[Partition]int
	retention   time.Duration
	closed      bool
	log         *slog.Logger
}

// NewMemory creates an in-process queue. concurrency sets the number of
// worker slots per partition; partitions missing from the map get one.
func NewMemory(concurrency map[Partition]int, retention time.Duration, log *slog.Logger) *Memory {
	m := &Memory{
		queues:      make(map[Partition]chan *memJob),
		jobs:        make(map[string]*memJob),
		handlers:    make(map[Partition]JobFunc),
		concurrency: make(map[Partition]int),
		retention:   retention,
		log:         log.With("component", "queue", "driver", "memory"),
	}
	for _, p := range Partitions {
		m.queues[p] = make(chan *memJob, defaultMemoryBuffer)
		n := concurrency[p]
		if n <= 0 {
			n = 1
		}
		m.concurrency[p] = n
	}
	return m
}

func (m *Memory) Enqueue(ctx context.Context, partition Partition, payload []byte, opts ...Option) (Handle, error) {
	o := applyOptions(opts)
	if o.jobID == "" {
		o.jobID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	q, ok := m.queues[partition]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}
	if _, exists := m.jobs[o.jobID]; exists {
		return nil, fmt.Errorf("job %s already exists", o.jobID)
	}
	m.pruneLocked()

	job := &memJob{
		id:        o.jobID,
		partition: partition,
		payload:   payload,
		timeout:   o.timeout,
		state:     JobStatePending,
	}
	h := newSignalHandle(job.id, nil)
	job.handles = append(job.handles, h)

	select {
	case q <- job:
	default:
		return nil, fmt.Errorf("partition %s is full", partition)
	}
	m.jobs[job.id] = job

	return h, nil
}

func (m *Memory) Handle(partition Partition, fn JobFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[partition] = fn
}

// Run starts the worker slots of every partition with a handler and blocks
// until ctx is cancelled and in-flight jobs have returned.
func (m *Memory) Run(ctx context.Context) error {
	m.mu.Lock()
	handlers := make(map[Partition]JobFunc, len(m.handlers))
	for p, fn := range m.handlers {
		handlers[p] = fn
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for p, fn := range handlers {
		q := m.queues[p]
		for i := 0; i < m.concurrency[p]; i++ {
			wg.Add(1)
			go func(fn JobFunc) {
				defer wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case job := <-q:
						m.process(ctx, job, fn)
					}
				}
			}(fn)
		}
		m.log.Info("partition consumer started", "partition", p, "concurrency", m.concurrency[p])
	}

	wg.Wait()
	return nil
}

func (m *Memory) process(ctx context.Context, job *memJob, fn JobFunc) {
	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if job.timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, job.timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	m.mu.Lock()
	if job.state != JobStatePending {
		// canceled while waiting in the queue
		m.mu.Unlock()
		return
	}
	job.state = JobStateActive
	job.cancel = cancel
	for _, h := range job.handles {
		h.markStarted()
	}
	m.mu.Unlock()

	out, err := execute(jobCtx, fn, job.payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	job.completedAt = &now
	job.cancel = nil
	if err != nil {
		jobErr := failureOf(jobCtx, err)
		job.state = JobStateFailed
		job.lastErr = jobErr.Message
		for _, h := range job.handles {
			h.finish(nil, jobErr)
		}
		m.log.Warn("job failed", "partition", job.partition, "job_id", job.id, "code", jobErr.Code, "error", err)
		return
	}

	job.state = JobStateCompleted
	job.result = out
	for _, h := range job.handles {
		h.finish(out, nil)
	}
}

func (m *Memory) Lookup(ctx context.Context, partition Partition, jobID string) (*JobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.partition != partition {
		return nil, ErrJobNotFound
	}

	return &JobInfo{
		ID:          job.id,
		Partition:   job.partition,
		State:       job.state,
		LastError:   job.lastErr,
		ResultSize:  len(job.result),
		CompletedAt: job.completedAt,
	}, nil
}

func (m *Memory) Cancel(ctx context.Context, partition Partition, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.partition != partition {
		return ErrJobNotFound
	}

	switch job.state {
	case JobStatePending:
		now := time.Now()
		job.state = JobStateFailed
		job.lastErr = "job canceled"
		job.completedAt = &now
		for _, h := range job.handles {
			h.finish(nil, &JobError{Code: CodeCanceled, Message: "job canceled"})
		}
	case JobStateActive:
		if job.cancel != nil {
			job.cancel()
		}
	}
	return nil
}

func (m *Memory) Stats(ctx context.Context) ([]PartitionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byPartition := make(map[Partition]*PartitionStats)
	for _, p := range Partitions {
		byPartition[p] = &PartitionStats{Partition: p}
	}
	for _, job := range m.jobs {
		s := byPartition[job.partition]
		switch job.state {
		case JobStatePending:
			s.Pending++
		case JobStateActive:
			s.Active++
		case JobStateCompleted:
			s.Completed++
		case JobStateFailed:
			s.Failed++
		}
	}

	stats := make([]PartitionStats, 0, len(Partitions))
	for _, p := range Partitions {
		stats = append(stats, *byPartition[p])
	}
	return stats, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// pruneLocked drops finished jobs older than the retention window
func (m *Memory) pruneLocked() {
	if m.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.retention)
	for id, job := range m.jobs {
		if job.completedAt != nil && job.completedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}
