package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		slog.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		slog.Debug("exec ok",
			"cmd", name,
			"duration_ms", time.Since(start).Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

// PdftotextParser extracts the text layer with poppler's pdftotext, whose
// -layout mode keeps table rows on one line better than the native reader.
type PdftotextParser struct {
	Bin    string // defaults to "pdftotext"
	Runner Runner // defaults to executing Bin
}

func (p *PdftotextParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PdftotextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	bin := p.Bin
	if bin == "" {
		bin = "pdftotext"
	}
	runner := p.Runner
	if runner == nil {
		runner = execRunner{}
	}

	out, errb, err := runner.Run(ctx, bin, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return nil, fmt.Errorf("running %s: %w: %s", bin, err, truncate(strings.TrimSpace(string(errb)), 512))
	}

	// A form feed separates pages; pdftotext also emits one after the last.
	text := strings.TrimRight(string(out), "\f\n")
	if strings.TrimSpace(strings.ReplaceAll(text, "\f", "")) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoTextLayer, filepath.Base(path))
	}
	pages := strings.Split(text, "\f")

	layout := &LayoutReport{}
	for _, pg := range pages {
		if strings.TrimSpace(pg) == "" {
			layout.EmptyPages++
			continue
		}
		analyzePageLayout(pg, layout)
	}

	return &ParseResult{
		Text:     strings.Join(pages, "\n"),
		Pages:    len(pages),
		Method:   MethodPdftotext,
		Warnings: layout.Warnings(),
		Metadata: layout.Metadata(),
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
