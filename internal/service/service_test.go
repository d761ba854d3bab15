package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docuprompt/api/internal/model"
	"github.com/docuprompt/api/internal/queue"
)

const eventWait = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sessionEvent struct {
	session string
	event   any
}

// recorder is an EventSink that keeps events in emission order
type recorder struct {
	ch chan sessionEvent
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan sessionEvent, 256)}
}

func (r *recorder) Emit(sessionID string, event any) {
	r.ch <- sessionEvent{session: sessionID, event: event}
}

func (r *recorder) next(t *testing.T) sessionEvent {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(eventWait):
		t.Fatal("timed out waiting for event")
		return sessionEvent{}
	}
}

func (r *recorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case e := <-r.ch:
		t.Fatalf("unexpected event %#v", e.event)
	case <-time.After(d):
	}
}

func startQueue(t *testing.T, handlers map[queue.Partition]queue.JobFunc) *queue.Memory {
	t.Helper()

	q := queue.NewMemory(map[queue.Partition]int{queue.PartitionInference: 4, queue.PartitionRender: 2}, time.Hour, discardLogger())
	for p, fn := range handlers {
		q.Handle(p, fn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return q
}

// fixedInference answers every job with content
func fixedInference(content string) queue.JobFunc {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		return json.Marshal(model.TaskResult{Type: model.ResultTypeText, Content: content})
	}
}

func totalJobs(t *testing.T, q queue.Queue, p queue.Partition) int {
	t.Helper()
	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	for _, s := range stats {
		if s.Partition == p {
			return s.Pending + s.Active + s.Completed + s.Failed
		}
	}
	return 0
}
