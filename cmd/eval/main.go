// Command eval measures extraction accuracy against a golden dataset.
//
// Builtin dataset:
//
//	go run ./cmd/eval
//
// File dataset with a custom label table, failing below 0.95:
//
//	go run ./cmd/eval --dataset ./testdata/golden.json --config ./gotranscript.yaml --min-score 0.95
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/brunobiangulo/gotranscript"
	"github.com/brunobiangulo/gotranscript/eval"
	"github.com/brunobiangulo/gotranscript/extract"
)

func main() {
	var (
		datasetPath = flag.String("dataset", "", "Path to a JSON dataset (default: builtin cases)")
		configPath  = flag.String("config", "", "Path to config file (JSON, YAML or TOML)")
		outputFile  = flag.String("output", "", "Path to write the JSON report")
		minScore    = flag.Float64("min-score", 1.0, "Exit non-zero when the score is below this value")
		verbose     = flag.Bool("v", false, "Log each case")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := gotranscript.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	x, err := extract.New(cfg.Extract)
	if err != nil {
		log.Fatalf("building extractor: %v", err)
	}

	ds := eval.BuiltinDataset()
	if *datasetPath != "" {
		ds, err = eval.LoadDataset(*datasetPath)
		if err != nil {
			log.Fatalf("loading dataset: %v", err)
		}
	}

	report := eval.Run(x, ds)
	fmt.Print(eval.FormatReport(report))

	if *outputFile != "" {
		writeJSON(*outputFile, report)
		fmt.Fprintf(os.Stderr, "JSON report written to: %s\n", *outputFile)
	}

	if score := report.Score(); score < *minScore {
		fmt.Fprintf(os.Stderr, "score %.3f is below --min-score %.3f\n", score, *minScore)
		os.Exit(1)
	}
}

// writeJSON marshals v to indented JSON and writes it to path.
func writeJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("marshaling JSON for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Fatalf("writing %s: %v", path, err)
	}
}
