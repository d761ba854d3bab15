package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docuprompt/api/internal/client"
	"github.com/docuprompt/api/internal/metrics"
	"github.com/docuprompt/api/internal/model"
	"github.com/docuprompt/api/internal/queue"
)

// InferenceWorker processes jobs from the inference partition
type InferenceWorker struct {
	provider     client.InferenceProvider
	systemPrompt string
	log          *slog.Logger
}

// NewInferenceWorker creates a new inference worker
func NewInferenceWorker(provider client.InferenceProvider, systemPrompt string, log *slog.Logger) *InferenceWorker {
	return &InferenceWorker{
		provider:     provider,
		systemPrompt: systemPrompt,
		log:          log.With("component", "inference_worker", "provider", provider.Name()),
	}
}

// ProcessJob runs one inference job. Failures are returned, never retried.
func (w *InferenceWorker) ProcessJob(ctx context.Context, payload []byte) ([]byte, error) {
	start := time.Now()

	var job model.InferenceJobPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("invalid inference payload: %w", err)
	}

	log := w.log.With("task_id", job.TaskID, "generation", job.Generation)
	log.Info("starting inference job", "attachments", len(job.Attachments))

	messages := BuildMessages(w.systemPrompt, job.Prompt, job.Attachments)
	content, err := w.provider.Complete(ctx, messages)
	if err != nil {
		metrics.JobDuration.WithLabelValues(string(queue.PartitionInference), metrics.OutcomeFailure).Observe(time.Since(start).Seconds())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("inference failed", "error", err)
		return nil, errors.New(describeProviderError(err))
	}

	metrics.JobDuration.WithLabelValues(string(queue.PartitionInference), metrics.OutcomeSuccess).Observe(time.Since(start).Seconds())
	log.Info("inference job completed", "duration", time.Since(start))

	return json.Marshal(model.TaskResult{Type: model.ResultTypeText, Content: content})
}

// BuildMessages lays out the conversation sent to the provider: the system
// instruction, one user turn per attachment, then the prompt.
func BuildMessages(systemPrompt, prompt string, attachments []model.Attachment) []model.Message {
	messages := make([]model.Message, 0, len(attachments)+2)
	messages = append(messages, model.TextMessage(model.RoleSystem, systemPrompt))

	for _, a := range attachments {
		switch a.Kind {
		case model.AttachmentText:
			messages = append(messages, model.TextMessage(model.RoleUser, fmt.Sprintf("File content (%s):\n%s", a.Name, a.Data)))
		case model.AttachmentImage:
			messages = append(messages, model.ImageMessage(model.RoleUser, a.MIMEType, a.Data))
		default:
			messages = append(messages, model.TextMessage(model.RoleUser,
				fmt.Sprintf("An attached file named %q (%d bytes) could not be read as text or image.", a.Name, len(a.Data))))
		}
	}

	if prompt != "" {
		messages = append(messages, model.TextMessage(model.RoleUser, prompt))
	}
	return messages
}

// describeProviderError keeps internal detail out of client-facing messages
func describeProviderError(err error) string {
	var perr *client.ProviderError
	if !errors.As(err, &perr) {
		return "The inference provider request failed."
	}

	switch perr.Kind {
	case client.KindRateLimited:
		return "The inference provider is rate limiting requests. Please retry later."
	case client.KindEmpty:
		return "The inference provider returned an empty response."
	case client.KindMalformed:
		return "The inference provider returned a malformed response."
	case client.KindBlocked:
		return "The inference provider blocked the response."
	case client.KindTransport:
		return "The inference provider could not be reached."
	default:
		if perr.Status != 0 {
			return fmt.Sprintf("The inference provider returned an error (status %d).", perr.Status)
		}
		return "The inference provider returned an error."
	}
}
