package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwait_ReturnsResult(t *testing.T) {
	h := newSignalHandle("job", nil)
	go h.finish([]byte("ok"), nil)

	out, err := Await(context.Background(), h, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(out))
}

func TestAwait_BudgetStartsWhenWorkerStarts(t *testing.T) {
	h := newSignalHandle("job", nil)

	go func() {
		// queued longer than the budget, then finishes quickly
		time.Sleep(80 * time.Millisecond)
		h.markStarted()
		time.Sleep(10 * time.Millisecond)
		h.finish([]byte("late start"), nil)
	}()

	out, err := Await(context.Background(), h, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "late start", string(out))
}

func TestAwait_TimesOut(t *testing.T) {
	h := newSignalHandle("job", nil)
	h.markStarted()

	_, err := Await(context.Background(), h, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	// a late outcome does not panic and stays observable
	h.finish([]byte("too late"), nil)
	out, _ := h.Outcome()
	assert.Equal(t, "too late", string(out))
}

func TestAwait_ContextCancelled(t *testing.T) {
	h := newSignalHandle("job", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Await(ctx, h, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSignalHandle_FirstTerminalWins(t *testing.T) {
	released := 0
	h := newSignalHandle("job", func() { released++ })

	h.apply(signal{State: signalFailed, Error: &JobError{Code: CodeTimeout, Message: "slow"}})
	h.apply(signal{State: signalCompleted, Result: []byte("ignored")})

	_, err := h.Outcome()
	assert.ErrorIs(t, err, ErrTimeout)

	h.Close()
	h.Close()
	assert.Equal(t, 1, released)
}

func TestParseLastErr(t *testing.T) {
	tests := []struct {
		in   string
		code string
		msg  string
	}{
		{"timeout: job exceeded its execution budget: skip retry for the task", CodeTimeout, "job exceeded its execution budget"},
		{"failed: provider returned 500: skip retry for the task", CodeFailed, "provider returned 500"},
		{"canceled: job canceled", CodeCanceled, "job canceled"},
		{"context deadline exceeded", CodeFailed, "context deadline exceeded"},
		{"", CodeFailed, "job failed"},
	}
	for _, tt := range tests {
		got := parseLastErr(tt.in)
		assert.Equal(t, tt.code, got.Code, tt.in)
		assert.Equal(t, tt.msg, got.Message, tt.in)
	}
}
