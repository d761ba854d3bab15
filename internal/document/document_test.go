package document

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuprompt/api/internal/model"
)

func renderBytes(t *testing.T, r Renderer, content string) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out")
	require.NoError(t, r.Render(context.Background(), content, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestTextRenderer(t *testing.T) {
	assert.Equal(t, []byte("hello"), renderBytes(t, TextRenderer{}, "hello"))
}

func TestPDFRenderer(t *testing.T) {
	data := renderBytes(t, PDFRenderer{}, "Heading\n\nSome text with ünïcödé and a € sign.")
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestDOCXRenderer(t *testing.T) {
	data := renderBytes(t, DOCXRenderer{}, "first line\nsecond <line> & more")

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	names := make(map[string]*zip.File)
	for _, f := range zr.File {
		names[f.Name] = f
	}
	require.Contains(t, names, "[Content_Types].xml")
	require.Contains(t, names, "_rels/.rels")
	require.Contains(t, names, "word/document.xml")

	rc, err := names["word/document.xml"].Open()
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)

	assert.Contains(t, string(body), "first line")
	assert.Contains(t, string(body), "second &lt;line&gt; &amp; more")
}

func TestRenderersAreDeterministic(t *testing.T) {
	for _, r := range []Renderer{TextRenderer{}, PDFRenderer{}, DOCXRenderer{}} {
		first := renderBytes(t, r, "same content\nacross renders")
		second := renderBytes(t, r, "same content\nacross renders")
		assert.Equal(t, first, second)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	for _, f := range model.ValidFormats {
		r, err := reg.Get(f)
		require.NoError(t, err)
		assert.NotNil(t, r)
	}

	_, err := reg.Get(model.Format("odt"))
	assert.ErrorIs(t, err, model.ErrUnsupportedFormat)
}

func TestRenderHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := TextRenderer{}.Render(ctx, "x", filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, context.Canceled)
}
