package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// RedisOptions tunes the asynq-backed queue
type RedisOptions struct {
	// Retention keeps finished jobs around for Lookup and result recovery
	Retention time.Duration
	// PollInterval is how often the inspector is consulted in case a
	// pub/sub signal was missed
	PollInterval time.Duration
	// TimeoutGrace is added to the asynq task timeout so that the
	// producer-side budget normally fires first
	TimeoutGrace time.Duration
}

func signalChannel(jobID string) string {
	return fmt.Sprintf("queue:signal:%s", jobID)
}

func publishSignal(rdb *redis.Client, jobID string, s signal) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	// Detached from the job context, which may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return rdb.Publish(ctx, signalChannel(jobID), data).Err()
}

// RedisQueue enqueues jobs with asynq and observes them through Redis
// pub/sub signals, falling back to the asynq inspector.
type RedisQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	opts      RedisOptions
	log       *slog.Logger
}

// NewRedisQueue creates the producer side of the Redis substrate
func NewRedisQueue(connOpt asynq.RedisClientOpt, redisClient *redis.Client, opts RedisOptions, log *slog.Logger) *RedisQueue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.TimeoutGrace <= 0 {
		opts.TimeoutGrace = 5 * time.Second
	}
	return &RedisQueue{
		client:    asynq.NewClient(connOpt),
		inspector: asynq.NewInspector(connOpt),
		redis:     redisClient,
		opts:      opts,
		log:       log.With("component", "queue", "driver", "redis"),
	}
}

func validPartition(p Partition) bool {
	for _, known := range Partitions {
		if p == known {
			return true
		}
	}
	return false
}

// Enqueue subscribes to the job's signal channel before the task becomes
// visible to workers so the started signal cannot be missed.
func (q *RedisQueue) Enqueue(ctx context.Context, partition Partition, payload []byte, opts ...Option) (Handle, error) {
	if !validPartition(partition) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}

	o := applyOptions(opts)
	if o.jobID == "" {
		o.jobID = uuid.NewString()
	}

	sub := q.redis.Subscribe(ctx, signalChannel(o.jobID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to job signals: %w", err)
	}

	taskOpts := []asynq.Option{
		asynq.Queue(string(partition)),
		asynq.TaskID(o.jobID),
		asynq.MaxRetry(0),
		asynq.Retention(q.opts.Retention),
	}
	if o.timeout > 0 {
		taskOpts = append(taskOpts, asynq.Timeout(o.timeout+q.opts.TimeoutGrace))
	}

	task := asynq.NewTask(partition.TaskType(), payload)
	if _, err := q.client.EnqueueContext(ctx, task, taskOpts...); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	h := newSignalHandle(o.jobID, cancel)
	go q.watch(watchCtx, partition, h, sub)

	return h, nil
}

func (q *RedisQueue) watch(ctx context.Context, partition Partition, h *signalHandle, sub *redis.PubSub) {
	defer sub.Close()

	msgs := sub.Channel()
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for !h.isDone() {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			var s signal
			if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
				q.log.Warn("discarding malformed job signal", "job_id", h.id, "error", err)
				continue
			}
			h.apply(s)
		case <-ticker.C:
			q.poll(partition, h)
		}
	}
}

func (q *RedisQueue) poll(partition Partition, h *signalHandle) {
	info, err := q.inspector.GetTaskInfo(string(partition), h.id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			h.finish(nil, &JobError{Code: CodeLost, Message: "job is no longer in the queue"})
			return
		}
		q.log.Debug("job poll failed", "job_id", h.id, "error", err)
		return
	}

	switch info.State {
	case asynq.TaskStateActive:
		h.markStarted()
	case asynq.TaskStateCompleted:
		h.finish(info.Result, nil)
	case asynq.TaskStateArchived:
		h.finish(nil, parseLastErr(info.LastErr))
	}
}

// parseLastErr recovers the JobError a consumer encoded into the task error
func parseLastErr(s string) *JobError {
	s = strings.TrimSuffix(s, ": "+asynq.SkipRetry.Error())
	code, msg, found := strings.Cut(s, ": ")
	if found {
		switch code {
		case CodeFailed, CodeTimeout, CodeCanceled:
			return &JobError{Code: code, Message: msg}
		}
	}
	if s == "" {
		s = "job failed"
	}
	return &JobError{Code: CodeFailed, Message: s}
}

func (q *RedisQueue) Lookup(ctx context.Context, partition Partition, jobID string) (*JobInfo, error) {
	if !validPartition(partition) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}

	info, err := q.inspector.GetTaskInfo(string(partition), jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get task info: %w", err)
	}

	job := &JobInfo{
		ID:         info.ID,
		Partition:  partition,
		State:      jobStateOf(info.State),
		ResultSize: len(info.Result),
	}
	if job.State == JobStateFailed {
		job.LastError = parseLastErr(info.LastErr).Message
	}
	if !info.CompletedAt.IsZero() {
		completedAt := info.CompletedAt
		job.CompletedAt = &completedAt
	}
	return job, nil
}

func jobStateOf(s asynq.TaskState) JobState {
	switch s {
	case asynq.TaskStateActive:
		return JobStateActive
	case asynq.TaskStateCompleted:
		return JobStateCompleted
	case asynq.TaskStateArchived:
		return JobStateFailed
	default:
		return JobStatePending
	}
}

func (q *RedisQueue) Cancel(ctx context.Context, partition Partition, jobID string) error {
	if !validPartition(partition) {
		return fmt.Errorf("%w: %s", ErrUnknownPartition, partition)
	}

	info, err := q.inspector.GetTaskInfo(string(partition), jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to get task info: %w", err)
	}

	switch info.State {
	case asynq.TaskStateActive:
		if err := q.inspector.CancelProcessing(jobID); err != nil {
			return fmt.Errorf("failed to cancel active task: %w", err)
		}
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		if err := q.inspector.DeleteTask(string(partition), jobID); err != nil {
			return fmt.Errorf("failed to delete pending task: %w", err)
		}
		canceled := signal{State: signalFailed, Error: &JobError{Code: CodeCanceled, Message: "job canceled"}}
		if err := publishSignal(q.redis, jobID, canceled); err != nil {
			q.log.Warn("failed to publish cancel signal", "job_id", jobID, "error", err)
		}
	}
	return nil
}

func (q *RedisQueue) Stats(ctx context.Context) ([]PartitionStats, error) {
	stats := make([]PartitionStats, 0, len(Partitions))
	for _, p := range Partitions {
		s := PartitionStats{Partition: p}
		info, err := q.inspector.GetQueueInfo(string(p))
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, fmt.Errorf("failed to get queue info for %s: %w", p, err)
		}
		if info != nil {
			s.Pending = info.Pending + info.Scheduled + info.Retry
			s.Active = info.Active
			s.Completed = info.Completed
			s.Failed = info.Archived
		}
		stats = append(stats, s)
	}
	return stats, nil
}

func (q *RedisQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}
