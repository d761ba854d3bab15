package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docuprompt/api/internal/metrics"
	"github.com/docuprompt/api/internal/model"
	"github.com/docuprompt/api/internal/queue"
)

// SubmitInput is an accepted submit command
type SubmitInput struct {
	ID          string
	Prompt      string
	Attachments []model.Attachment
	SessionID   string
}

type taskEntry struct {
	task *model.Task
	// cancel stops the completion wait of the current generation
	cancel context.CancelFunc
}

func (e *taskEntry) release() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// TaskService owns the lifecycle of prompt-processing tasks. Every state
// change of a task happens under mu, and at most one terminal transition is
// committed per generation.
type TaskService struct {
	mu    sync.Mutex
	tasks map[string]*taskEntry

	queue   queue.Queue
	events  EventSink
	timeout time.Duration
	log     *slog.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewTaskService creates a task lifecycle manager. timeout is the execution
// budget of one job, measured from the moment a worker starts it.
func NewTaskService(q queue.Queue, events EventSink, timeout time.Duration, log *slog.Logger) *TaskService {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskService{
		tasks:   make(map[string]*taskEntry),
		queue:   q,
		events:  events,
		timeout: timeout,
		log:     log.With("component", "task_service"),
		baseCtx: ctx,
		stop:    cancel,
	}
}

// Submit records a new task, enqueues exactly one inference job and emits
// submitted. An id may be reused once its previous run is no longer
// processing; a new generation starts in that case.
func (s *TaskService) Submit(ctx context.Context, in SubmitInput) (*model.Task, error) {
	if strings.TrimSpace(in.ID) == "" {
		return nil, fmt.Errorf("%w: id is required", model.ErrValidation)
	}
	if in.Prompt == "" && len(in.Attachments) == 0 {
		return nil, fmt.Errorf("%w: prompt or file is required", model.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	generation := 1
	if existing, ok := s.tasks[in.ID]; ok {
		if existing.task.OwnerSession != in.SessionID || existing.task.Status.IsInFlight() {
			return nil, fmt.Errorf("%w: %s", model.ErrDuplicateTask, in.ID)
		}
		generation = existing.task.Generation + 1
	}

	now := time.Now()
	entry := &taskEntry{
		task: &model.Task{
			ID:           in.ID,
			Prompt:       in.Prompt,
			Attachments:  in.Attachments,
			OwnerSession: in.SessionID,
			Status:       model.TaskStatusProcessing,
			Generation:   generation,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}

	if err := s.startLocked(ctx, entry, "submit"); err != nil {
		return nil, err
	}
	s.tasks[in.ID] = entry

	return entry.task.Clone(), nil
}

// startLocked enqueues the current generation of entry and starts waiting
// for its outcome. The submitted event is emitted before the wait begins so
// it always precedes the terminal event.
func (s *TaskService) startLocked(ctx context.Context, entry *taskEntry, kind string) error {
	task := entry.task

	payload, err := json.Marshal(model.InferenceJobPayload{
		TaskID:      task.ID,
		Generation:  task.Generation,
		Prompt:      task.Prompt,
		Attachments: task.Attachments,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	h, err := s.queue.Enqueue(ctx, queue.PartitionInference, payload, queue.WithTimeout(s.timeout))
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	task.JobID = h.ID()

	waitCtx, cancel := context.WithCancel(s.baseCtx)
	entry.cancel = cancel

	s.events.Emit(task.OwnerSession, model.WSSubmittedEvent{
		Type:       model.WSEventSubmitted,
		ID:         task.ID,
		Status:     task.Status,
		Generation: task.Generation,
	})
	metrics.TasksSubmitted.WithLabelValues(kind).Inc()
	s.log.Info("task submitted", "task_id", task.ID, "generation", task.Generation, "job_id", task.JobID, "session_id", task.OwnerSession)

	s.wg.Add(1)
	go s.await(waitCtx, task.ID, task.Generation, h)
	return nil
}

func (s *TaskService) await(ctx context.Context, id string, generation int, h queue.Handle) {
	defer s.wg.Done()
	defer h.Close()

	out, err := queue.Await(ctx, h, s.timeout)
	if ctx.Err() != nil {
		// stopped, released or shutting down; the outcome is discarded
		return
	}

	if err != nil {
		if errors.Is(err, queue.ErrTimeout) {
			s.cancelJob(h.ID())
		}
		reason, code := s.classify(err)
		s.fail(id, generation, reason, code)
		return
	}

	var result model.TaskResult
	if err := json.Unmarshal(out, &result); err != nil || result.Content == "" {
		s.fail(id, generation, "The inference provider returned an empty response.", model.CodeProvider)
		return
	}
	s.complete(id, generation, &result)
}

// classify turns a job failure into a client-facing reason and a wire code
func (s *TaskService) classify(err error) (string, string) {
	if errors.Is(err, queue.ErrTimeout) {
		return fmt.Sprintf("Task timed out after %s.", s.timeout), model.CodeTimeout
	}

	var jobErr *queue.JobError
	if errors.As(err, &jobErr) {
		switch jobErr.Code {
		case queue.CodeLost:
			return "The task was lost by the queue.", model.CodeInternal
		case queue.CodeCanceled:
			return "The task was canceled.", model.CodeProvider
		default:
			return jobErr.Message, model.CodeProvider
		}
	}
	return "The task could not be processed.", model.CodeInternal
}

// current returns the entry when generation is still the live processing
// generation of id. Callers must hold mu.
func (s *TaskService) current(id string, generation int) (*taskEntry, bool) {
	entry, ok := s.tasks[id]
	if !ok || entry.task.Generation != generation || entry.task.Status != model.TaskStatusProcessing {
		return nil, false
	}
	return entry, true
}

func (s *TaskService) complete(id string, generation int, result *model.TaskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.current(id, generation)
	if !ok {
		s.log.Debug("discarding stale result", "task_id", id, "generation", generation)
		return
	}

	task := entry.task
	task.Status = model.TaskStatusCompleted
	task.Result = result
	task.UpdatedAt = time.Now()
	entry.release()

	s.events.Emit(task.OwnerSession, model.WSCompletedEvent{
		Type:       model.WSEventCompleted,
		ID:         task.ID,
		Status:     task.Status,
		Prompt:     task.Prompt,
		Result:     task.Result,
		Generation: task.Generation,
	})
	metrics.TaskTransitions.WithLabelValues(string(task.Status), "").Inc()
	s.log.Info("task completed", "task_id", id, "generation", generation)
}

func (s *TaskService) fail(id string, generation int, reason, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.current(id, generation)
	if !ok {
		s.log.Debug("discarding stale failure", "task_id", id, "generation", generation)
		return
	}

	task := entry.task
	task.Status = model.TaskStatusError
	task.FailureReason = reason
	task.FailureCode = code
	task.UpdatedAt = time.Now()
	entry.release()

	s.events.Emit(task.OwnerSession, model.WSTaskErrorEvent{
		Type:       model.WSEventError,
		ID:         task.ID,
		Status:     task.Status,
		Error:      reason,
		Code:       code,
		Generation: task.Generation,
	})
	metrics.TaskTransitions.WithLabelValues(string(task.Status), code).Inc()
	s.log.Warn("task failed", "task_id", id, "generation", generation, "code", code, "reason", reason)
}

// Stop marks a processing task as stopped. Unknown, foreign and finished
// tasks are left alone. Cancellation of the running job is best effort.
func (s *TaskService) Stop(ctx context.Context, sessionID, id string) error {
	s.mu.Lock()
	entry, ok := s.tasks[id]
	if !ok || entry.task.OwnerSession != sessionID || entry.task.Status != model.TaskStatusProcessing {
		s.mu.Unlock()
		return nil
	}

	task := entry.task
	task.Status = model.TaskStatusStopped
	task.UpdatedAt = time.Now()
	jobID := task.JobID
	entry.release()
	s.mu.Unlock()

	metrics.TaskTransitions.WithLabelValues(string(model.TaskStatusStopped), "").Inc()
	s.log.Info("task stopped", "task_id", id, "generation", task.Generation)

	if jobID != "" {
		if err := s.queue.Cancel(ctx, queue.PartitionInference, jobID); err != nil && !errors.Is(err, queue.ErrJobNotFound) {
			s.log.Debug("failed to cancel job", "job_id", jobID, "error", err)
		}
	}
	return nil
}

// Retry starts a new generation of a failed task with its recorded prompt
// and attachments.
func (s *TaskService) Retry(ctx context.Context, sessionID, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[id]
	if !ok || entry.task.OwnerSession != sessionID {
		return nil, fmt.Errorf("%w: task %s", model.ErrNotFound, id)
	}

	task := entry.task
	if task.Status != model.TaskStatusError {
		return nil, fmt.Errorf("%w: task %s is %s", model.ErrInvalidState, id, task.Status)
	}

	prev := *task
	task.Status = model.TaskStatusProcessing
	task.Generation++
	task.FailureReason = ""
	task.FailureCode = ""
	task.Result = nil
	task.UpdatedAt = time.Now()

	if err := s.startLocked(ctx, entry, "retry"); err != nil {
		*task = prev
		return nil, err
	}
	return task.Clone(), nil
}

// Get returns a snapshot of the task
func (s *TaskService) Get(id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", model.ErrNotFound, id)
	}
	return entry.task.Clone(), nil
}

func (s *TaskService) cancelJob(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.queue.Cancel(ctx, queue.PartitionInference, jobID); err != nil && !errors.Is(err, queue.ErrJobNotFound) {
		s.log.Debug("failed to cancel timed out job", "job_id", jobID, "error", err)
	}
}

// ReleaseSession forgets every task owned by sessionID. Their jobs keep
// running but outcomes are discarded.
func (s *TaskService) ReleaseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	released := 0
	for id, entry := range s.tasks {
		if entry.task.OwnerSession != sessionID {
			continue
		}
		entry.release()
		delete(s.tasks, id)
		released++
	}
	if released > 0 {
		s.log.Info("released session tasks", "session_id", sessionID, "count", released)
	}
}

// Shutdown stops every pending completion wait and waits for them to return
func (s *TaskService) Shutdown() {
	s.stop()
	s.wg.Wait()
}
