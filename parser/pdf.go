package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser reads the embedded text layer of a PDF. Scanned documents
// without a text layer fail with ErrNoTextLayer.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	pages := make([]string, 0, totalPages)
	layout := &LayoutReport{}
	var warnings []string

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			layout.EmptyPages++
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("page %d: %v", i, err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			layout.EmptyPages++
			continue
		}

		analyzePageLayout(text, layout)
		pages = append(pages, text)
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTextLayer, filepath.Base(path))
	}

	return &ParseResult{
		Text:     strings.Join(pages, "\n"),
		Pages:    totalPages,
		Method:   MethodNative,
		Warnings: append(warnings, layout.Warnings()...),
		Metadata: layout.Metadata(),
	}, nil
}
