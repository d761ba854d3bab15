package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAttachment(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		kind AttachmentKind
		mime string
	}{
		{"png by extension", "diagram.PNG", []byte{0x89, 'P', 'N', 'G'}, AttachmentImage, "image/png"},
		{"jpeg by extension", "photo.jpeg", []byte{0xff, 0xd8}, AttachmentImage, "image/jpeg"},
		{"text by extension", "notes.md", []byte("# notes"), AttachmentText, "text/plain"},
		{"text by content", "Makefile", []byte("build:\n\tgo build ./..."), AttachmentText, "text/plain"},
		{"binary", "archive.bin", []byte{0x00, 0x01, 0xff}, AttachmentUnknown, "application/octet-stream"},
		{"empty unknown", "empty", nil, AttachmentUnknown, "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAttachment(tt.file, tt.data)
			assert.Equal(t, tt.kind, a.Kind)
			assert.Equal(t, tt.mime, a.MIMEType)
			assert.Equal(t, tt.file, a.Name)
		})
	}
}

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"docx", "PDF", " txt "} {
		f, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Contains(t, ValidFormats, f)
	}

	_, err := ParseFormat("odt")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseFormat("")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFormatMetadata(t *testing.T) {
	assert.Equal(t, ".pdf", FormatPDF.Extension())
	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
	assert.Contains(t, FormatDOCX.ContentType(), "wordprocessingml")
	assert.Contains(t, FormatTXT.ContentType(), "text/plain")
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{nil, ""},
		{fmt.Errorf("submit: %w", ErrDuplicateTask), CodeDuplicateTask},
		{ErrUnsupportedFormat, CodeUnsupportedFormat},
		{fmt.Errorf("%w: prompt is required", ErrValidation), CodeValidation},
		{ErrNotFound, CodeNotFound},
		{ErrInvalidState, CodeInvalidState},
		{fmt.Errorf("job: %w", ErrTimeout), CodeTimeout},
		{fmt.Errorf("%w: empty completion", ErrProvider), CodeProvider},
		{ErrRender, CodeRender},
		{errors.New("something else"), CodeInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err), fmt.Sprint(tt.err))
	}
}

func TestTaskStatus(t *testing.T) {
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusError.IsTerminal())
	assert.False(t, TaskStatusStopped.IsTerminal())
	assert.False(t, TaskStatusProcessing.IsTerminal())
	assert.True(t, TaskStatusProcessing.IsInFlight())
}

func TestTaskClone(t *testing.T) {
	orig := &Task{
		ID:          "t1",
		Result:      &TaskResult{Type: ResultTypeText, Content: "a"},
		Attachments: []Attachment{NewAttachment("a.txt", []byte("x"))},
	}

	c := orig.Clone()
	c.Result.Content = "b"
	c.Attachments[0].Name = "b.txt"

	assert.Equal(t, "a", orig.Result.Content)
	assert.Equal(t, "a.txt", orig.Attachments[0].Name)
}
