package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/docuprompt/api/internal/config"
	"github.com/docuprompt/api/internal/model"
)

// GeminiClient completes prompts with the Gemini API
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client for the configured model
func NewGeminiClient(ctx context.Context, cfg *config.GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{client: client, model: cfg.Model}, nil
}

func (c *GeminiClient) Name() string { return config.ProviderGemini }

func (c *GeminiClient) Complete(ctx context.Context, messages []model.Message) (string, error) {
	system, contents := toGeminiContents(messages)

	var genCfg *genai.GenerateContentConfig
	if system != nil {
		genCfg = &genai.GenerateContentConfig{SystemInstruction: system}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", &ProviderError{Provider: c.Name(), Kind: KindUpstream, Message: truncate(err.Error(), maxErrorBody)}
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", &ProviderError{Provider: c.Name(), Kind: KindEmpty, Message: "no candidates in response"}
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", &ProviderError{Provider: c.Name(), Kind: KindBlocked, Message: "response blocked by safety filters"}
	}
	if candidate.Content == nil {
		return "", &ProviderError{Provider: c.Name(), Kind: KindEmpty, Message: "candidate has no content"}
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", &ProviderError{Provider: c.Name(), Kind: KindEmpty, Message: "empty completion"}
	}
	return text, nil
}

// toGeminiContents folds system messages into a single system instruction
func toGeminiContents(messages []model.Message) (*genai.Content, []*genai.Content) {
	var (
		system   *genai.Content
		contents []*genai.Content
	)

	for _, m := range messages {
		parts := make([]*genai.Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.Image != nil {
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: p.Image.MIMEType, Data: p.Image.Data}})
				continue
			}
			parts = append(parts, &genai.Part{Text: p.Text})
		}

		if m.Role == model.RoleSystem {
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, parts...)
			continue
		}
		contents = append(contents, &genai.Content{Role: "user", Parts: parts})
	}
	return system, contents
}
