package client

import (
	"context"
	"fmt"
	"time"

	"github.com/docuprompt/api/internal/config"
	"github.com/docuprompt/api/internal/model"
)

// MockProvider answers without calling any API. It is used when no provider
// credentials are configured.
type MockProvider struct {
	Delay time.Duration
}

func (m *MockProvider) Name() string { return config.ProviderMock }

func (m *MockProvider) Complete(ctx context.Context, messages []model.Message) (string, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	var prompt string
	turns := 0
	for _, msg := range messages {
		if msg.Role != model.RoleUser {
			continue
		}
		turns++
		if len(msg.Parts) > 0 && msg.Parts[0].Text != "" {
			prompt = msg.Parts[0].Text
		}
	}

	if prompt == "" {
		prompt = "(no prompt)"
	}
	return fmt.Sprintf("Mock response to: %s (%d user messages)", prompt, turns), nil
}
