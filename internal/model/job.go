package model

// InferenceJobPayload is carried on the inference partition
type InferenceJobPayload struct {
	TaskID      string       `json:"taskId"`
	Generation  int          `json:"generation"`
	Prompt      string       `json:"prompt"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// RenderJobPayload is carried on the render partition
type RenderJobPayload struct {
	RenderID string `json:"renderId"`
	Content  string `json:"content"`
	Format   Format `json:"format"`
}
