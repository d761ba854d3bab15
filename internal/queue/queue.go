// Package queue is the work-queue substrate shared by the lifecycle services
// and the workers. Two drivers implement it: asynq over Redis for deployments
// and an in-process driver for development and tests.
//
// A job moves through started, then exactly one of completed or failed. The
// producer observes those transitions through the Handle returned by Enqueue.
package queue

import (
	"context"
	"errors"
	"time"
)

// Partition names an independent work queue. Jobs never cross partitions.
type Partition string

const (
	PartitionInference Partition = "inference"
	PartitionRender    Partition = "render"
)

// Partitions lists every partition the service consumes
var Partitions = []Partition{PartitionInference, PartitionRender}

// TaskType is the asynq task type used for jobs on p
func (p Partition) TaskType() string {
	return string(p) + ":process"
}

// JobFunc executes one job. The returned bytes become the job result.
type JobFunc func(ctx context.Context, payload []byte) ([]byte, error)

// Failure codes carried by JobError
const (
	CodeFailed   = "failed"
	CodeTimeout  = "timeout"
	CodeCanceled = "canceled"
	CodeLost     = "lost"
)

// JobError is a job failure as observed by the producer
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *JobError) Error() string {
	return e.Message
}

// Is lets errors.Is match ErrTimeout for worker-side deadline failures
func (e *JobError) Is(target error) bool {
	return target == ErrTimeout && e.Code == CodeTimeout
}

var (
	// ErrTimeout is returned by Await when the execution budget elapses
	ErrTimeout = errors.New("job exceeded its execution budget")
	// ErrJobNotFound is returned by Lookup and Cancel for unknown job ids
	ErrJobNotFound = errors.New("job not found")
	// ErrUnknownPartition is returned when a partition has no queue
	ErrUnknownPartition = errors.New("unknown partition")
	// ErrClosed is returned by Enqueue after Close
	ErrClosed = errors.New("queue closed")
)

// Handle observes one enqueued job
type Handle interface {
	// ID is the job id assigned at enqueue time
	ID() string
	// Started is closed once a worker begins executing the job
	Started() <-chan struct{}
	// Done is closed once the job reached a terminal state
	Done() <-chan struct{}
	// Outcome returns the result or failure; valid after Done is closed
	Outcome() ([]byte, error)
	// Close releases resources held to observe the job
	Close()
}

// Queue is the producer side of the substrate
type Queue interface {
	Enqueue(ctx context.Context, partition Partition, payload []byte, opts ...Option) (Handle, error)
	Lookup(ctx context.Context, partition Partition, jobID string) (*JobInfo, error)
	// Cancel is best effort: a pending job is removed, an active job is asked to stop
	Cancel(ctx context.Context, partition Partition, jobID string) error
	Stats(ctx context.Context) ([]PartitionStats, error)
	Close() error
}

// Consumer is the worker side of the substrate
type Consumer interface {
	Handle(partition Partition, fn JobFunc)
	// Run blocks until ctx is cancelled
	Run(ctx context.Context) error
}

// JobState is the queue-level state of a job
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// JobInfo describes a job found by Lookup
type JobInfo struct {
	ID          string     `json:"id"`
	Partition   Partition  `json:"partition"`
	State       JobState   `json:"state"`
	LastError   string     `json:"lastError,omitempty"`
	ResultSize  int        `json:"resultSize"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// PartitionStats summarises one partition
type PartitionStats struct {
	Partition Partition `json:"partition"`
	Pending   int       `json:"pending"`
	Active    int       `json:"active"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
}

type enqueueOptions struct {
	timeout time.Duration
	jobID   string
}

// Option configures Enqueue
type Option func(*enqueueOptions)

// WithTimeout bounds how long a worker may execute the job
func WithTimeout(d time.Duration) Option {
	return func(o *enqueueOptions) { o.timeout = d }
}

// WithJobID sets the job id instead of generating one
func WithJobID(id string) Option {
	return func(o *enqueueOptions) { o.jobID = id }
}

func applyOptions(opts []Option) enqueueOptions {
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
