package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuprompt/api/internal/client"
	"github.com/docuprompt/api/internal/document"
	"github.com/docuprompt/api/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProvider struct {
	reply string
	err   error
	got   []model.Message
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, messages []model.Message) (string, error) {
	s.got = messages
	return s.reply, s.err
}

func inferencePayload(t *testing.T, p model.InferenceJobPayload) []byte {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return data
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages("system rules", "summarise", []model.Attachment{
		model.NewAttachment("notes.txt", []byte("alpha")),
		model.NewAttachment("chart.png", []byte{1, 2}),
		model.NewAttachment("blob.bin", []byte{0, 1, 2}),
	})

	require.Len(t, msgs, 5)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, "system rules", msgs[0].Parts[0].Text)
	assert.Equal(t, "File content (notes.txt):\nalpha", msgs[1].Parts[0].Text)
	require.NotNil(t, msgs[2].Parts[0].Image)
	assert.Equal(t, "image/png", msgs[2].Parts[0].Image.MIMEType)
	assert.Contains(t, msgs[3].Parts[0].Text, "blob.bin")
	assert.Equal(t, "summarise", msgs[4].Parts[0].Text)
}

func TestBuildMessages_EmptyPromptOmitted(t *testing.T) {
	msgs := BuildMessages("sys", "", []model.Attachment{model.NewAttachment("a.md", []byte("x"))})
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
}

func TestInferenceWorker_Success(t *testing.T) {
	provider := &stubProvider{reply: "fixed answer"}
	w := NewInferenceWorker(provider, "sys", discardLogger())

	out, err := w.ProcessJob(context.Background(), inferencePayload(t, model.InferenceJobPayload{TaskID: "t1", Prompt: "hello"}))
	require.NoError(t, err)

	var result model.TaskResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, model.ResultTypeText, result.Type)
	assert.Equal(t, "fixed answer", result.Content)
	assert.Len(t, provider.got, 2)
}

func TestInferenceWorker_ProviderErrorIsHumanReadable(t *testing.T) {
	provider := &stubProvider{err: &client.ProviderError{Provider: "stub", Kind: client.KindRateLimited, Status: 429, Message: "secret upstream detail"}}
	w := NewInferenceWorker(provider, "sys", discardLogger())

	_, err := w.ProcessJob(context.Background(), inferencePayload(t, model.InferenceJobPayload{TaskID: "t1", Prompt: "hello"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiting")
	assert.NotContains(t, err.Error(), "secret upstream detail")
}

func TestInferenceWorker_ContextErrorPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	provider := &stubProvider{err: errors.New("request aborted")}
	w := NewInferenceWorker(provider, "sys", discardLogger())

	_, err := w.ProcessJob(ctx, inferencePayload(t, model.InferenceJobPayload{TaskID: "t1", Prompt: "hello"}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInferenceWorker_InvalidPayload(t *testing.T) {
	w := NewInferenceWorker(&stubProvider{reply: "x"}, "sys", discardLogger())
	_, err := w.ProcessJob(context.Background(), []byte("{"))
	assert.Error(t, err)
}

type failingRenderer struct{}

func (failingRenderer) Render(ctx context.Context, content, path string) error {
	if err := os.WriteFile(path, []byte("partial"), 0o600); err != nil {
		return err
	}
	return errors.New("renderer exploded")
}

func renderPayload(t *testing.T, content string, format model.Format) []byte {
	t.Helper()
	data, err := json.Marshal(model.RenderJobPayload{RenderID: "r1", Content: content, Format: format})
	require.NoError(t, err)
	return data
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp artifacts left behind")
}

func TestRenderWorker_Text(t *testing.T) {
	dir := t.TempDir()
	w := NewRenderWorker(document.NewRegistry(), dir, discardLogger())

	out, err := w.ProcessJob(context.Background(), renderPayload(t, "hello", model.FormatTXT))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
	assertDirEmpty(t, dir)
}

func TestRenderWorker_RemovesTempFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	reg := document.NewRegistry()
	reg.Register(model.FormatPDF, failingRenderer{})
	w := NewRenderWorker(reg, dir, discardLogger())

	_, err := w.ProcessJob(context.Background(), renderPayload(t, "hello", model.FormatPDF))
	assert.ErrorIs(t, err, model.ErrRender)
	assertDirEmpty(t, dir)
}

func TestRenderWorker_EmptyOutputFails(t *testing.T) {
	dir := t.TempDir()
	w := NewRenderWorker(document.NewRegistry(), dir, discardLogger())

	_, err := w.ProcessJob(context.Background(), renderPayload(t, "", model.FormatTXT))
	assert.ErrorIs(t, err, model.ErrRender)
	assertDirEmpty(t, dir)
}

func TestRenderWorker_UnknownFormat(t *testing.T) {
	w := NewRenderWorker(document.NewRegistry(), t.TempDir(), discardLogger())

	_, err := w.ProcessJob(context.Background(), renderPayload(t, "x", model.Format("odt")))
	assert.ErrorIs(t, err, model.ErrUnsupportedFormat)
}
