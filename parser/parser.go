package parser

import (
	"context"
	"errors"
)

// ErrNoTextLayer is returned when a document has pages but none of them
// carry extractable text (typically a scanned PDF).
var ErrNoTextLayer = errors.New("parser: document has no text layer")

// Parse methods reported in ParseResult.Method.
const (
	MethodNative    = "native"
	MethodPdftotext = "pdftotext"
)

// ParseResult is the flattened text of a document file.
type ParseResult struct {
	Text     string   // Page texts in reading order, separated by newlines
	Pages    int      // Number of pages (sheets for spreadsheets, 1 for flat files)
	Method   string   // "native", "pdftotext"
	Warnings []string // Non-fatal observations about the layout
	Metadata map[string]string
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}
