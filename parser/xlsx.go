package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser flattens a spreadsheet export of a transcript. Each row becomes
// one line with its non-empty cells joined by spaces; sheets follow each
// other in workbook order.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var (
		lines    []string
		sheets   int
		warnings []string
	)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("sheet %q unreadable: %v", sheet, err))
			continue
		}
		if len(rows) == 0 {
			continue
		}
		sheets++
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, c := range row {
				if c = strings.TrimSpace(c); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " "))
			}
		}
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}

	return &ParseResult{
		Text:     strings.Join(lines, "\n"),
		Pages:    sheets,
		Method:   MethodNative,
		Warnings: warnings,
		Metadata: map[string]string{
			"sheet_count": fmt.Sprintf("%d", sheets),
			"row_count":   fmt.Sprintf("%d", len(lines)),
		},
	}, nil
}
