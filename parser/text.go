package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextParser handles plain text (.txt) files, e.g. a transcript already
// flattened by another tool. Form feeds count as page breaks.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "text"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content := string(data)
	return &ParseResult{
		Text:   content,
		Pages:  1 + strings.Count(content, "\f"),
		Method: MethodNative,
		Metadata: map[string]string{
			"filename": filepath.Base(path),
		},
	}, nil
}
