package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docuprompt/api/internal/document"
	"github.com/docuprompt/api/internal/metrics"
	"github.com/docuprompt/api/internal/model"
	"github.com/docuprompt/api/internal/queue"
)

// RenderWorker processes jobs from the render partition
type RenderWorker struct {
	registry *document.Registry
	tempDir  string
	log      *slog.Logger
}

// NewRenderWorker creates a new render worker
func NewRenderWorker(registry *document.Registry, tempDir string, log *slog.Logger) *RenderWorker {
	return &RenderWorker{
		registry: registry,
		tempDir:  tempDir,
		log:      log.With("component", "render_worker"),
	}
}

// ProcessJob renders into a temp file and returns its bytes. The temp file
// is removed before returning on every path.
func (w *RenderWorker) ProcessJob(ctx context.Context, payload []byte) (out []byte, err error) {
	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = metrics.OutcomeFailure
		}
		metrics.JobDuration.WithLabelValues(string(queue.PartitionRender), outcome).Observe(time.Since(start).Seconds())
	}()

	var job model.RenderJobPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("invalid render payload: %w", err)
	}

	log := w.log.With("render_id", job.RenderID, "format", job.Format)

	renderer, err := w.registry.Get(job.Format)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(w.tempDir, "render-*"+job.Format.Extension())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp file", model.ErrRender)
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warn("failed to remove temp file", "path", path, "error", rmErr)
		}
	}()
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: failed to prepare temp file", model.ErrRender)
	}

	if err := renderer.Render(ctx, job.Content, path); err != nil {
		log.Warn("render failed", "error", err)
		return nil, fmt.Errorf("%w: could not render %s document", model.ErrRender, job.Format)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read rendered document", model.ErrRender)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: renderer produced no bytes", model.ErrRender)
	}

	log.Info("render job completed", "bytes", len(data), "duration", time.Since(start))
	return data, nil
}
