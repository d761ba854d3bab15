package client

import (
	"context"
	"fmt"

	"github.com/docuprompt/api/internal/model"
)

// InferenceProvider turns a message sequence into a text completion
type InferenceProvider interface {
	Complete(ctx context.Context, messages []model.Message) (string, error)
	Name() string
}

// Provider failure kinds
const (
	KindRateLimited = "rate_limited"
	KindUpstream    = "upstream"
	KindMalformed   = "malformed"
	KindEmpty       = "empty"
	KindBlocked     = "blocked"
	KindTransport   = "transport"
)

// ProviderError is a typed inference failure. It matches model.ErrProvider.
type ProviderError struct {
	Provider string
	Kind     string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s error (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s error: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return model.ErrProvider
}
