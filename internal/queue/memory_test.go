package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startMemory(t *testing.T, handlers map[Partition]JobFunc) *Memory {
	t.Helper()

	m := NewMemory(map[Partition]int{PartitionInference: 2, PartitionRender: 1}, time.Hour, discardLogger())
	for p, fn := range handlers {
		m.Handle(p, fn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		m.Close()
	})
	return m
}

func waitDone(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestMemory_CompletesJob(t *testing.T) {
	m := startMemory(t, map[Partition]JobFunc{
		PartitionInference: func(ctx context.Context, payload []byte) ([]byte, error) {
			return append([]byte("echo:"), payload...), nil
		},
	})

	h, err := m.Enqueue(context.Background(), PartitionInference, []byte("hi"))
	require.NoError(t, err)
	defer h.Close()

	waitDone(t, h)

	select {
	case <-h.Started():
	default:
		t.Fatal("started should be closed once done")
	}

	out, err := h.Outcome()
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(out))

	info, err := m.Lookup(context.Background(), PartitionInference, h.ID())
	require.NoError(t, err)
	assert.Equal(t, JobStateCompleted, info.State)
	assert.Equal(t, 7, info.ResultSize)
	assert.NotNil(t, info.CompletedAt)
}

func TestMemory_FailedJob(t *testing.T) {
	m := startMemory(t, map[Partition]JobFunc{
		PartitionRender: func(ctx context.Context, payload []byte) ([]byte, error) {
			return nil, errors.New("boom")
		},
	})

	h, err := m.Enqueue(context.Background(), PartitionRender, nil)
	require.NoError(t, err)
	waitDone(t, h)

	_, err = h.Outcome()
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, CodeFailed, jobErr.Code)
	assert.Equal(t, "boom", jobErr.Message)

	info, err := m.Lookup(context.Background(), PartitionRender, h.ID())
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, info.State)
	assert.Equal(t, "boom", info.LastError)
}

func TestMemory_PanicBecomesFailure(t *testing.T) {
	m := startMemory(t, map[Partition]JobFunc{
		PartitionRender: func(ctx context.Context, payload []byte) ([]byte, error) {
			panic("bad job")
		},
	})

	h, err := m.Enqueue(context.Background(), PartitionRender, nil)
	require.NoError(t, err)
	waitDone(t, h)

	_, err = h.Outcome()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad job")
}

func TestMemory_WorkerDeadlineIsTimeout(t *testing.T) {
	m := startMemory(t, map[Partition]JobFunc{
		PartitionInference: func(ctx context.Context, payload []byte) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	h, err := m.Enqueue(context.Background(), PartitionInference, nil, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	waitDone(t, h)

	_, err = h.Outcome()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMemory_PartitionsAreIndependent(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	m := startMemory(t, map[Partition]JobFunc{
		PartitionInference: func(ctx context.Context, payload []byte) ([]byte, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil, nil
		},
		PartitionRender: func(ctx context.Context, payload []byte) ([]byte, error) {
			return []byte("rendered"), nil
		},
	})

	// saturate both inference slots
	for i := 0; i < 2; i++ {
		_, err := m.Enqueue(context.Background(), PartitionInference, nil)
		require.NoError(t, err)
	}

	h, err := m.Enqueue(context.Background(), PartitionRender, nil)
	require.NoError(t, err)
	waitDone(t, h)

	out, err := h.Outcome()
	require.NoError(t, err)
	assert.Equal(t, "rendered", string(out))
}

func TestMemory_CancelPendingJob(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	m := startMemory(t, map[Partition]JobFunc{
		PartitionRender: func(ctx context.Context, payload []byte) ([]byte, error) {
			<-block
			return nil, nil
		},
	})

	first, err := m.Enqueue(context.Background(), PartitionRender, nil)
	require.NoError(t, err)
	<-first.Started()

	second, err := m.Enqueue(context.Background(), PartitionRender, nil)
	require.NoError(t, err)

	require.NoError(t, m.Cancel(context.Background(), PartitionRender, second.ID()))
	waitDone(t, second)

	_, err = second.Outcome()
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, CodeCanceled, jobErr.Code)
}

func TestMemory_CancelActiveJob(t *testing.T) {
	m := startMemory(t, map[Partition]JobFunc{
		PartitionInference: func(ctx context.Context, payload []byte) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	h, err := m.Enqueue(context.Background(), PartitionInference, nil)
	require.NoError(t, err)
	<-h.Started()

	require.NoError(t, m.Cancel(context.Background(), PartitionInference, h.ID()))
	waitDone(t, h)

	_, err = h.Outcome()
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, CodeCanceled, jobErr.Code)
}

func TestMemory_LookupUnknown(t *testing.T) {
	m := NewMemory(nil, time.Hour, discardLogger())

	_, err := m.Lookup(context.Background(), PartitionInference, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, m.Cancel(context.Background(), PartitionRender, "missing"), ErrJobNotFound)
}

func TestMemory_EnqueueValidation(t *testing.T) {
	m := NewMemory(nil, time.Hour, discardLogger())

	_, err := m.Enqueue(context.Background(), Partition("audio"), nil)
	assert.ErrorIs(t, err, ErrUnknownPartition)

	_, err = m.Enqueue(context.Background(), PartitionRender, nil, WithJobID("job-1"))
	require.NoError(t, err)
	_, err = m.Enqueue(context.Background(), PartitionRender, nil, WithJobID("job-1"))
	assert.Error(t, err)

	require.NoError(t, m.Close())
	_, err = m.Enqueue(context.Background(), PartitionRender, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemory_Stats(t *testing.T) {
	m := NewMemory(nil, time.Hour, discardLogger())

	_, err := m.Enqueue(context.Background(), PartitionInference, nil)
	require.NoError(t, err)
	_, err = m.Enqueue(context.Background(), PartitionInference, nil)
	require.NoError(t, err)

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, PartitionInference, stats[0].Partition)
	assert.Equal(t, 2, stats[0].Pending)
	assert.Equal(t, 0, stats[1].Pending)
}
