package parser

import (
	"fmt"
	"strings"
)

// LayoutReport accumulates layout observations across the pages of a
// document. Transcripts are tabular by nature; a multi-column layout is the
// case that scrambles reading order and deserves a warning.
type LayoutReport struct {
	HasTables  bool
	IsMultiCol bool
	EmptyPages int
}

// Warnings returns the observations a caller should surface.
func (r *LayoutReport) Warnings() []string {
	var w []string
	if r.IsMultiCol {
		w = append(w, "multi-column layout detected; term order may be scrambled")
	}
	if r.EmptyPages > 0 {
		w = append(w, fmt.Sprintf("%d page(s) without text", r.EmptyPages))
	}
	return w
}

// Metadata renders the report as parse metadata.
func (r *LayoutReport) Metadata() map[string]string {
	return map[string]string{
		"layout_tabular":      fmt.Sprintf("%t", r.HasTables),
		"layout_multi_column": fmt.Sprintf("%t", r.IsMultiCol),
		"empty_pages":         fmt.Sprintf("%d", r.EmptyPages),
	}
}

func analyzePageLayout(text string, r *LayoutReport) {
	lines := strings.Split(text, "\n")

	// Table detection: look for grid-like patterns
	tabCount := 0
	pipeCount := 0
	dashLineCount := 0
	for _, line := range lines {
		tabCount += strings.Count(line, "\t")
		pipeCount += strings.Count(line, "|")
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 3 && (strings.Count(trimmed, "-") > len(trimmed)/2 || strings.Count(trimmed, "_") > len(trimmed)/2) {
			dashLineCount++
		}
	}
	if tabCount > 5 || pipeCount > 5 || dashLineCount > 2 {
		r.HasTables = true
	}

	// Multi-column detection: large horizontal whitespace gaps mid-line
	multiColIndicators := 0
	for _, line := range lines {
		if len(line) <= 40 || !strings.Contains(line, "    ") {
			continue
		}
		mid := len(line) / 2
		start := max(mid-10, 0)
		end := min(mid+10, len(line))
		if strings.Count(line[start:end], " ") > 8 {
			multiColIndicators++
		}
	}
	if multiColIndicators > 3 {
		r.IsMultiCol = true
	}
}
