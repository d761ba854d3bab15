package model

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// AttachmentKind tags how an attachment is presented to the inference provider
type AttachmentKind string

const (
	AttachmentText    AttachmentKind = "text"
	AttachmentImage   AttachmentKind = "image"
	AttachmentUnknown AttachmentKind = "unknown"
)

var imageMIMETypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".tsv": true,
	".json": true, ".yaml": true, ".yml": true, ".xml": true, ".html": true,
	".htm": true, ".log": true, ".ini": true, ".toml": true, ".go": true,
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".py": true,
	".java": true, ".c": true, ".h": true, ".cpp": true, ".rs": true,
	".rb": true, ".sh": true, ".sql": true, ".css": true,
}

// Attachment is a file submitted alongside a prompt.
// Kind is decided once by NewAttachment and never re-derived.
type Attachment struct {
	Name     string         `json:"name"`
	Kind     AttachmentKind `json:"kind"`
	MIMEType string         `json:"mimeType,omitempty"`
	Data     []byte         `json:"data"`
}

// NewAttachment classifies a file by its extension, falling back to content
// inspection for files without a known extension.
func NewAttachment(name string, data []byte) Attachment {
	ext := strings.ToLower(filepath.Ext(name))

	if mime, ok := imageMIMETypes[ext]; ok {
		return Attachment{Name: name, Kind: AttachmentImage, MIMEType: mime, Data: data}
	}

	if textExtensions[ext] || looksLikeText(data) {
		return Attachment{Name: name, Kind: AttachmentText, MIMEType: "text/plain", Data: data}
	}

	return Attachment{Name: name, Kind: AttachmentUnknown, MIMEType: "application/octet-stream", Data: data}
}

func looksLikeText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return utf8.Valid(data) && bytes.IndexByte(data, 0) < 0
}
