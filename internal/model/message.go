package model

// Message roles
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is a provider-agnostic chat turn
type Message struct {
	Role  string        `json:"role"`
	Parts []MessagePart `json:"parts"`
}

// MessagePart carries either text or an inline image
type MessagePart struct {
	Text  string `json:"text,omitempty"`
	Image *Image `json:"image,omitempty"`
}

// Image is raw image data with its MIME type
type Image struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// TextMessage builds a single-part text message
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []MessagePart{{Text: text}}}
}

// ImageMessage builds a single-part image message
func ImageMessage(role, mimeType string, data []byte) Message {
	return Message{Role: role, Parts: []MessagePart{{Image: &Image{MIMEType: mimeType, Data: data}}}}
}
