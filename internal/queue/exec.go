package queue

import (
	"context"
	"errors"
	"fmt"
)

// execute runs fn, converting a panic into an ordinary failure so that a
// single bad job cannot take a worker down.
func execute(ctx context.Context, fn JobFunc, payload []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx, payload)
}

// failureOf classifies a job error using the state of the job context.
func failureOf(ctx context.Context, err error) *JobError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return &JobError{Code: CodeTimeout, Message: ErrTimeout.Error()}
	case errors.Is(ctx.Err(), context.Canceled):
		return &JobError{Code: CodeCanceled, Message: "job canceled"}
	default:
		return &JobError{Code: CodeFailed, Message: err.Error()}
	}
}
