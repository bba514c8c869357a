package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DOCXParser flattens word/document.xml into lines: one per paragraph,
// one per table row with its cells joined by spaces.
type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

func (p *DOCXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	lines, err := parseDocxXML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}

	return &ParseResult{
		Text:   strings.Join(lines, "\n"),
		Pages:  1,
		Method: MethodNative,
		Metadata: map[string]string{
			"line_count": fmt.Sprintf("%d", len(lines)),
		},
	}, nil
}

// parseDocxXML walks the document body in order. Only local element names
// are inspected so the w: namespace prefix does not matter.
func parseDocxXML(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		lines    []string
		para     strings.Builder
		cells    []string
		rowDepth int
		inText   bool
	)
	emit := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			lines = append(lines, s)
		}
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tr":
				rowDepth++
				cells = cells[:0]
			case "p":
				para.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteString(" ")
			case "br", "cr":
				para.WriteString(" ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if rowDepth > 0 {
					if s := strings.TrimSpace(para.String()); s != "" {
						cells = append(cells, s)
					}
				} else {
					emit(para.String())
				}
				para.Reset()
			case "tr":
				emit(strings.Join(cells, " "))
				cells = cells[:0]
				if rowDepth > 0 {
					rowDepth--
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return lines, nil
}
