package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docuprompt/api/internal/config"
	"github.com/docuprompt/api/internal/model"
)

const maxErrorBody = 512

// OpenAIClient talks to any OpenAI-compatible chat completion API
type OpenAIClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
}

// ChatMessage represents a message in the chat completion request.
// Content is a string, or a list of content parts when images are attached.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient creates a new chat completion client
func NewOpenAIClient(cfg *config.OpenAIConfig, maxTokens int) *OpenAIClient {
	return &OpenAIClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (c *OpenAIClient) Name() string { return config.ProviderOpenAI }

// Complete sends the messages as a single chat completion request
func (c *OpenAIClient) Complete(ctx context.Context, messages []model.Message) (string, error) {
	reqBody := ChatCompletionRequest{
		Model:       c.model,
		Messages:    toChatMessages(messages),
		Temperature: 0.7,
		MaxTokens:   c.maxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", &ProviderError{Provider: c.Name(), Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{Provider: c.Name(), Kind: KindTransport, Message: "failed to read response"}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &ProviderError{Provider: c.Name(), Kind: KindRateLimited, Status: resp.StatusCode, Message: "rate limit exceeded"}
	case resp.StatusCode != http.StatusOK:
		return "", &ProviderError{Provider: c.Name(), Kind: KindUpstream, Status: resp.StatusCode, Message: truncate(string(respBody), maxErrorBody)}
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", &ProviderError{Provider: c.Name(), Kind: KindMalformed, Message: "response is not valid JSON"}
	}

	if len(chatResp.Choices) == 0 {
		return "", &ProviderError{Provider: c.Name(), Kind: KindEmpty, Message: "no choices in response"}
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if content == "" {
		return "", &ProviderError{Provider: c.Name(), Kind: KindEmpty, Message: "empty completion"}
	}
	return content, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *OpenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}

func toChatMessages(messages []model.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if !hasImage(m) {
			out = append(out, ChatMessage{Role: m.Role, Content: joinText(m)})
			continue
		}

		parts := make([]ContentPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.Image != nil {
				url := fmt.Sprintf("data:%s;base64,%s", p.Image.MIMEType, base64.StdEncoding.EncodeToString(p.Image.Data))
				parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}})
				continue
			}
			parts = append(parts, ContentPart{Type: "text", Text: p.Text})
		}
		out = append(out, ChatMessage{Role: m.Role, Content: parts})
	}
	return out
}

func hasImage(m model.Message) bool {
	for _, p := range m.Parts {
		if p.Image != nil {
			return true
		}
	}
	return false
}

func joinText(m model.Message) string {
	texts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
