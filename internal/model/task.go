package model

import "time"

// TaskStatus is the lifecycle state of a prompt-processing task
type TaskStatus string

const (
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusError      TaskStatus = "error"
	TaskStatusStopped    TaskStatus = "stopped"
)

// IsTerminal reports whether the status ends a generation.
// A terminal task can only leave this state through Retry.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError
}

// IsInFlight reports whether a job for the task may still be running
func (s TaskStatus) IsInFlight() bool {
	return s == TaskStatusProcessing
}

// ResultTypeText is the only result type produced by the inference worker
const ResultTypeText = "text"

// TaskResult is the structured payload of a completed task
type TaskResult struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Task represents one prompt-processing request
type Task struct {
	ID            string       `json:"id"`
	Prompt        string       `json:"prompt"`
	Attachments   []Attachment `json:"-"`
	OwnerSession  string       `json:"-"`
	Status        TaskStatus   `json:"status"`
	Result        *TaskResult  `json:"result,omitempty"`
	FailureReason string       `json:"error,omitempty"`
	FailureCode   string       `json:"code,omitempty"`
	Generation    int          `json:"generation"`
	JobID         string       `json:"-"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Clone returns a copy that shares no mutable state with t
func (t *Task) Clone() *Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	c.Attachments = append([]Attachment(nil), t.Attachments...)
	return &c
}
