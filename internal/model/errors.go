package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected synchronously, before anything is enqueued
	ErrValidation        = errors.New("validation error")
	ErrDuplicateTask     = fmt.Errorf("%w: task is already in flight", ErrValidation)
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrValidation)

	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")

	// ErrProvider marks a failed or empty inference call
	ErrProvider = errors.New("provider error")
	// ErrTimeout is raised by the lifecycle timer, not by the provider
	ErrTimeout = fmt.Errorf("%w: timeout", ErrProvider)

	ErrRender    = errors.New("render error")
	ErrTransport = errors.New("transport error")
)

// Wire error codes
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeDuplicateTask     = "DUPLICATE_TASK"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidState      = "INVALID_STATE"
	CodeProvider          = "PROVIDER_ERROR"
	CodeTimeout           = "TIMEOUT"
	CodeRender            = "RENDER_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

// ErrorCode maps an error onto its wire code. More specific errors are
// checked first since several wrap a broader class.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateTask):
		return CodeDuplicateTask
	case errors.Is(err, ErrUnsupportedFormat):
		return CodeUnsupportedFormat
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrProvider):
		return CodeProvider
	case errors.Is(err, ErrRender):
		return CodeRender
	default:
		return CodeInternal
	}
}
