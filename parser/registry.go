package parser

import (
	"fmt"
	"strings"
)

type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	// Register built-in parsers
	for _, p := range []Parser{&PDFParser{}, &DOCXParser{}, &XLSXParser{}, &TextParser{}, &LegacyParser{}} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

// SetPdftotext routes PDFs through the external pdftotext binary instead of
// the native text-layer reader. A nil runner executes the binary directly.
func (r *Registry) SetPdftotext(bin string, runner Runner) {
	p := &PdftotextParser{Bin: bin, Runner: runner}
	for _, f := range p.SupportedFormats() {
		r.parsers[f] = p
	}
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("no parser for format: %s", format)
	}
	return p, nil
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(format)] = p
}
