package queue

import (
	"context"
	"time"
)

// Await waits for the job behind h to finish. The budget starts when a worker
// picks the job up, so time spent waiting in the queue is not charged. When
// the budget elapses first, ErrTimeout is returned and any later outcome of
// the job is ignored by the caller.
func Await(ctx context.Context, h Handle, budget time.Duration) ([]byte, error) {
	select {
	case <-h.Started():
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if budget <= 0 {
		select {
		case <-h.Done():
			return h.Outcome()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-h.Done():
		return h.Outcome()
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
