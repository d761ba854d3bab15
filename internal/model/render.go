package model

import (
	"fmt"
	"strings"
	"time"
)

// Format is an output document format
type Format string

const (
	FormatDOCX Format = "docx"
	FormatPDF  Format = "pdf"
	FormatTXT  Format = "txt"
)

var ValidFormats = []Format{FormatDOCX, FormatPDF, FormatTXT}

// ParseFormat accepts only the enumerated formats; there is no silent default.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range ValidFormats {
		if f == valid {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Extension returns the file extension including the leading dot
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type of documents in this format
func (f Format) ContentType() string {
	switch f {
	case FormatDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/plain; charset=utf-8"
	}
}

// RenderStatus is the lifecycle state of a render request
type RenderStatus string

const (
	RenderStatusProcessing RenderStatus = "processing"
	RenderStatusCompleted  RenderStatus = "completed"
	RenderStatusError      RenderStatus = "error"
)

// RenderRequest represents one document-generation request.
// Content is copied at submission and never re-read from the source task.
type RenderRequest struct {
	ID           string       `json:"id"`
	TaskID       string       `json:"taskId"`
	Content      string       `json:"-"`
	Format       Format       `json:"format"`
	OwnerSession string       `json:"-"`
	Status       RenderStatus `json:"status"`
	JobID        string       `json:"-"`
	CreatedAt    time.Time    `json:"createdAt"`
}
