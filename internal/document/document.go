// Package document turns text content into downloadable files.
package document

import (
	"context"
	"fmt"
	"os"

	"github.com/docuprompt/api/internal/model"
)

// Renderer writes content to path in a single format
type Renderer interface {
	Render(ctx context.Context, content, path string) error
}

// Registry selects a Renderer by format
type Registry struct {
	renderers map[model.Format]Renderer
}

// NewRegistry returns a registry with a renderer for every supported format
func NewRegistry() *Registry {
	return &Registry{
		renderers: map[model.Format]Renderer{
			model.FormatTXT:  TextRenderer{},
			model.FormatPDF:  PDFRenderer{},
			model.FormatDOCX: DOCXRenderer{},
		},
	}
}

// Register replaces the renderer for f
func (r *Registry) Register(f model.Format, renderer Renderer) {
	r.renderers[f] = renderer
}

func (r *Registry) Get(f model.Format) (Renderer, error) {
	renderer, ok := r.renderers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, f)
	}
	return renderer, nil
}

// TextRenderer writes content as UTF-8 without any transformation
type TextRenderer struct{}

func (TextRenderer) Render(ctx context.Context, content, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write text file: %w", err)
	}
	return nil
}
