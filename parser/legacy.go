package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// ErrLegacyFormat is returned for pre-2007 binary Office files.
var ErrLegacyFormat = errors.New("parser: legacy binary format")

// LegacyParser claims the binary Office formats so they fail with a
// conversion hint instead of an unknown-format error.
type LegacyParser struct{}

func (p *LegacyParser) SupportedFormats() []string { return []string{"doc", "xls"} }

func (p *LegacyParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	return nil, fmt.Errorf("%w: convert %s to docx, xlsx or pdf first", ErrLegacyFormat, filepath.Base(path))
}
