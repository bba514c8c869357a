// Command extract turns transcript documents into structured JSON.
//
// Pages given as separate files are concatenated in argument order:
//
//	go run ./cmd/extract page1.pdf page2.pdf
//	go run ./cmd/extract --xlsx out.xlsx transcript.docx
//	cat transcript.txt | go run ./cmd/extract -
//
// With --store the documents are ingested into the configured database and
// the stored transcript is printed instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/brunobiangulo/gotranscript"
	"github.com/brunobiangulo/gotranscript/export"
	"github.com/brunobiangulo/gotranscript/extract"
	"github.com/brunobiangulo/gotranscript/parser"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to config file (JSON, YAML or TOML)")
		xlsxPath   = flag.String("xlsx", "", "Also write the record as an XLSX workbook to this path")
		persist    = flag.Bool("store", false, "Ingest into the configured database")
		label      = flag.String("label", "", "Label for the stored transcript (with --store)")
		force      = flag.Bool("force", false, "Re-extract even if the text is already stored (with --store)")
		allowEmpty = flag.Bool("allow-empty", false, "Accept text with no recognizable transcript content")
		compact    = flag.Bool("compact", false, "Print compact JSON")
		verbose    = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: extract [flags] <file>... (use - for stdin)")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := gotranscript.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *allowEmpty {
		cfg.AllowEmpty = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rec *extract.Record
	var out any
	if *persist {
		rec, out, err = ingest(ctx, cfg, args, *label, *force)
	} else {
		rec, err = extractLocal(ctx, cfg, args)
		out = rec
	}
	if err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	if !*compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		log.Fatalf("writing output: %v", err)
	}

	if *xlsxPath != "" {
		data, err := export.WriteXLSX(rec)
		if err != nil {
			log.Fatalf("building workbook: %v", err)
		}
		if err := os.WriteFile(*xlsxPath, data, 0644); err != nil {
			log.Fatalf("writing %s: %v", *xlsxPath, err)
		}
		fmt.Fprintf(os.Stderr, "workbook written to: %s\n", *xlsxPath)
	}
}

// extractLocal parses and extracts without touching the database.
func extractLocal(ctx context.Context, cfg gotranscript.Config, args []string) (*extract.Record, error) {
	x, err := extract.New(cfg.Extract)
	if err != nil {
		return nil, err
	}
	reg := parser.NewRegistry()
	if cfg.Pdftotext != "" {
		reg.SetPdftotext(cfg.Pdftotext, nil)
	}

	texts := make([]string, 0, len(args))
	for _, arg := range args {
		text, err := readText(ctx, reg, arg)
		if err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}

	rec := x.Extract(strings.Join(texts, "\n"))
	if rec.IsEmpty() && !cfg.AllowEmpty {
		return nil, gotranscript.ErrNotATranscript
	}
	return rec, nil
}

func readText(ctx context.Context, reg *parser.Registry, arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(arg), "."))
	p, err := reg.Get(format)
	if err != nil {
		return "", fmt.Errorf("%w: %s", gotranscript.ErrUnsupportedFormat, arg)
	}
	res, err := p.Parse(ctx, arg)
	if err != nil {
		if errors.Is(err, parser.ErrNoTextLayer) {
			return "", fmt.Errorf("%s: %w (scanned documents need OCR first)", arg, err)
		}
		return "", fmt.Errorf("parsing %s: %w", arg, err)
	}
	for _, w := range res.Warnings {
		slog.Warn("layout warning", "file", arg, "warning", w)
	}
	return res.Text, nil
}

// ingest stores the documents through the engine.
func ingest(ctx context.Context, cfg gotranscript.Config, args []string, label string, force bool) (*extract.Record, any, error) {
	for _, arg := range args {
		if arg == "-" {
			return nil, nil, errors.New("--store needs files, not stdin")
		}
	}

	engine, err := gotranscript.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Close()

	var opts []gotranscript.IngestOption
	if label != "" {
		opts = append(opts, gotranscript.WithLabel(label))
	}
	if force {
		opts = append(opts, gotranscript.WithForceReparse())
	}

	res, err := engine.Ingest(ctx, args, opts...)
	if err != nil {
		return nil, nil, err
	}
	if res.Existing {
		fmt.Fprintf(os.Stderr, "transcript %d already stored\n", res.Transcript.ID)
	}
	return res.Transcript.Record, res, nil
}
