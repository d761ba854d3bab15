package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docuprompt/api/internal/client"
	"github.com/docuprompt/api/internal/metrics"
	"github.com/docuprompt/api/internal/model"
	"github.com/docuprompt/api/internal/queue"
)

// RenderServiceConfig tunes the render lifecycle
type RenderServiceConfig struct {
	// Timeout is the execution budget of one render job
	Timeout time.Duration
	// Store archives rendered files when set
	Store     client.ObjectStore
	URLExpiry time.Duration
}

type renderEntry struct {
	req    *model.RenderRequest
	cancel context.CancelFunc
}

// RenderService owns the lifecycle of document render requests. A request
// is discarded once its single result has been delivered.
type RenderService struct {
	mu      sync.Mutex
	renders map[string]*renderEntry

	queue  queue.Queue
	events EventSink
	cfg    RenderServiceConfig
	log    *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

func NewRenderService(q queue.Queue, events EventSink, cfg RenderServiceConfig, log *slog.Logger) *RenderService {
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RenderService{
		renders: make(map[string]*renderEntry),
		queue:   q,
		events:  events,
		cfg:     cfg,
		log:     log.With("component", "render_service"),
		baseCtx: ctx,
		stop:    cancel,
	}
}

// GenerateFile enqueues a render of content in format. The content is copied
// into the job at this point and never re-read from the task.
func (s *RenderService) GenerateFile(ctx context.Context, sessionID, taskID, content, format string) (*model.RenderRequest, error) {
	f, err := model.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(taskID) == "" {
		return nil, fmt.Errorf("%w: taskId is required", model.ErrValidation)
	}
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", model.ErrValidation)
	}

	req := &model.RenderRequest{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		Content:      content,
		Format:       f,
		OwnerSession: sessionID,
		Status:       model.RenderStatusProcessing,
		CreatedAt:    time.Now(),
	}

	payload, err := json.Marshal(model.RenderJobPayload{RenderID: req.ID, Content: req.Content, Format: req.Format})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.queue.Enqueue(ctx, queue.PartitionRender, payload, queue.WithTimeout(s.cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue render: %w", err)
	}
	req.JobID = h.ID()

	waitCtx, cancel := context.WithCancel(s.baseCtx)
	s.renders[req.ID] = &renderEntry{req: req, cancel: cancel}

	s.events.Emit(sessionID, model.WSRenderSubmittedEvent{
		Type:   model.WSEventRenderSubmitted,
		ID:     req.ID,
		TaskID: req.TaskID,
		Format: req.Format,
	})
	s.log.Info("render submitted", "render_id", req.ID, "task_id", taskID, "format", f, "job_id", req.JobID)

	s.wg.Add(1)
	go s.await(waitCtx, req.ID, h)

	snapshot := *req
	return &snapshot, nil
}

func (s *RenderService) await(ctx context.Context, renderID string, h queue.Handle) {
	defer s.wg.Done()
	defer h.Close()

	out, err := queue.Await(ctx, h, s.cfg.Timeout)
	if ctx.Err() != nil {
		return
	}

	req, ok := s.take(renderID)
	if !ok {
		return
	}

	if err == nil && len(out) == 0 {
		err = &queue.JobError{Code: queue.CodeFailed, Message: "Renderer produced no output."}
	}
	if err != nil {
		s.deliverError(req, err)
		return
	}
	s.deliverResult(req, out)
}

// take removes the request so its result is delivered at most once
func (s *RenderService) take(renderID string) (*model.RenderRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.renders[renderID]
	if !ok {
		return nil, false
	}
	entry.cancel()
	delete(s.renders, renderID)
	return entry.req, true
}

func (s *RenderService) deliverResult(req *model.RenderRequest, data []byte) {
	event := model.WSRenderCompletedEvent{
		Type:        model.WSEventRenderCompleted,
		ID:          req.ID,
		TaskID:      req.TaskID,
		FileContent: base64.StdEncoding.EncodeToString(data),
		Format:      req.Format,
	}

	if s.cfg.Store != nil {
		ctx, cancel := context.WithTimeout(s.baseCtx, 30*time.Second)
		url, err := s.archive(ctx, req, data)
		cancel()
		if err != nil {
			s.log.Warn("failed to archive render", "render_id", req.ID, "error", err)
		} else {
			event.FileURL = url
		}
	}

	s.events.Emit(req.OwnerSession, event)
	metrics.Renders.WithLabelValues(string(req.Format), metrics.OutcomeSuccess).Inc()
	s.log.Info("render completed", "render_id", req.ID, "bytes", len(data))
}

func (s *RenderService) archive(ctx context.Context, req *model.RenderRequest, data []byte) (string, error) {
	key := fmt.Sprintf("renders/%s%s", req.ID, req.Format.Extension())
	if err := s.cfg.Store.Upload(ctx, key, data, req.Format.ContentType()); err != nil {
		return "", err
	}
	return s.cfg.Store.URL(ctx, key, s.cfg.URLExpiry)
}

func (s *RenderService) deliverError(req *model.RenderRequest, err error) {
	reason, code := "The document could not be rendered.", model.CodeRender

	var jobErr *queue.JobError
	switch {
	case errors.Is(err, queue.ErrTimeout):
		reason, code = fmt.Sprintf("Rendering timed out after %s.", s.cfg.Timeout), model.CodeTimeout
	case errors.As(err, &jobErr) && jobErr.Code == queue.CodeFailed:
		reason = jobErr.Message
	}

	s.events.Emit(req.OwnerSession, model.WSRenderErrorEvent{
		Type:   model.WSEventRenderError,
		ID:     req.ID,
		TaskID: req.TaskID,
		Error:  reason,
		Code:   code,
	})
	metrics.Renders.WithLabelValues(string(req.Format), metrics.OutcomeFailure).Inc()
	s.log.Warn("render failed", "render_id", req.ID, "code", code, "reason", reason)
}

// ReleaseSession drops pending render requests of sessionID
func (s *RenderService) ReleaseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.renders {
		if entry.req.OwnerSession != sessionID {
			continue
		}
		entry.cancel()
		delete(s.renders, id)
	}
}

// Pending returns the number of render requests awaiting a result
func (s *RenderService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.renders)
}

func (s *RenderService) Shutdown() {
	s.stop()
	s.wg.Wait()
}
