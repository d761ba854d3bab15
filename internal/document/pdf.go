package document

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

// documentEpoch is stamped on generated files so identical content renders
// to identical bytes
var documentEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// PDFRenderer lays content out on A4 pages, one paragraph per line.
// Characters outside cp1252 are replaced by the translator.
type PDFRenderer struct{}

func (PDFRenderer) Render(ctx context.Context, content, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(documentEpoch)
	pdf.SetCatalogSort(true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetFont("Helvetica", "", 12)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, line := range strings.Split(normalizeNewlines(content), "\n") {
		if line == "" {
			pdf.Ln(6)
			continue
		}
		pdf.MultiCell(0, 6, tr(line), "", "L", false)
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
