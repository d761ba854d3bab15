package model

// Inbound session command types
const (
	WSCommandSubmit       = "submit"
	WSCommandStop         = "stop"
	WSCommandRetry        = "retry"
	WSCommandGenerateFile = "generateFile"
	WSCommandPing         = "ping"
)

// Outbound session event types
const (
	WSEventSubmitted       = "submitted"
	WSEventCompleted       = "completed"
	WSEventError           = "error"
	WSEventRenderSubmitted = "renderSubmitted"
	WSEventRenderCompleted = "renderCompleted"
	WSEventRenderError     = "renderError"
	WSEventRejected        = "rejected"
	WSEventPong            = "pong"
	WSEventConnected       = "connected"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// FilePayload is an attachment as sent by the client; Data is base64 on the wire
type FilePayload struct {
	Name string `json:"name" validate:"required,max=255"`
	Data []byte `json:"data"`
}

// SubmitCommand asks for a new prompt-processing task
type SubmitCommand struct {
	Type   string        `json:"type"`
	ID     string        `json:"id" validate:"required,max=128"`
	Prompt string        `json:"prompt" validate:"required_without=Files,max=100000"`
	Files  []FilePayload `json:"files" validate:"omitempty,max=10,dive"`
}

// TaskCommand is the payload of stop and retry
type TaskCommand struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId" validate:"required,max=128"`
}

// GenerateFileCommand asks for a completed result rendered as a document
type GenerateFileCommand struct {
	Type    string `json:"type"`
	TaskID  string `json:"taskId" validate:"required,max=128"`
	Content string `json:"content" validate:"required"`
	Format  string `json:"format" validate:"required"`
}

// WSConnectedEvent tells the client its session id
type WSConnectedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// WSSubmittedEvent is emitted synchronously when a task is accepted
type WSSubmittedEvent struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	Status     TaskStatus `json:"status"`
	Generation int        `json:"generation"`
}

// WSCompletedEvent carries the full task snapshot
type WSCompletedEvent struct {
	Type       string      `json:"type"`
	ID         string      `json:"id"`
	Status     TaskStatus  `json:"status"`
	Prompt     string      `json:"prompt"`
	Result     *TaskResult `json:"result"`
	Generation int         `json:"generation"`
}

// WSTaskErrorEvent reports a failed task
type WSTaskErrorEvent struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	Status     TaskStatus `json:"status"`
	Error      string     `json:"error"`
	Code       string     `json:"code"`
	Generation int        `json:"generation"`
}

// WSRenderSubmittedEvent is emitted when a render request is accepted
type WSRenderSubmittedEvent struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	TaskID string `json:"taskId"`
	Format Format `json:"format"`
}

// WSRenderCompletedEvent carries the rendered document, base64 encoded
type WSRenderCompletedEvent struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	TaskID      string `json:"taskId"`
	FileContent string `json:"fileContent"`
	Format      Format `json:"format"`
	FileURL     string `json:"fileUrl,omitempty"`
}

// WSRenderErrorEvent reports a failed render
type WSRenderErrorEvent struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

// WSRejectedEvent reports a command refused before anything was enqueued
type WSRejectedEvent struct {
	Type    string            `json:"type"`
	Command string            `json:"command"`
	ID      string            `json:"id,omitempty"`
	Error   WSError           `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
