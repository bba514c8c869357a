package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// Extractor turns flattened transcript text into a Record. It holds only
// compiled patterns, so one value can be shared across goroutines.
type Extractor struct {
	cfg Config

	program       *regexp.Regexp
	termHeader    *regexp.Regexp
	endOfRecord   *regexp.Regexp
	termGPA       *regexp.Regexp
	cumulativeGPA *regexp.Regexp
	courseRow     *regexp.Regexp
	courseCode    *regexp.Regexp
	transferStart *regexp.Regexp
	transferEnd   *regexp.Regexp
	transferRow   *regexp.Regexp
}

var defaultExtractor = mustNew(DefaultConfig())

// Default returns the extractor for the default label table.
func Default() *Extractor { return defaultExtractor }

func mustNew(cfg Config) *Extractor {
	x, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return x
}

// New compiles the patterns for cfg. Empty labels fall back to the defaults.
func New(cfg Config) (*Extractor, error) {
	cfg = withDefaults(cfg)
	if cfg.Decimals < 0 {
		return nil, fmt.Errorf("%w: negative decimals %d", ErrInvalidConfig, cfg.Decimals)
	}
	l := cfg.Labels
	num := numberPattern(cfg.Decimals)

	seasons := make([]string, 0, len(l.Seasons))
	for _, s := range l.Seasons {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		seasons = append(seasons, regexp.QuoteMeta(s))
	}
	if len(seasons) == 0 {
		return nil, fmt.Errorf("%w: no seasons configured", ErrInvalidConfig)
	}

	x := &Extractor{cfg: cfg}
	patterns := []struct {
		dst  **regexp.Regexp
		expr string
	}{
		{&x.program, `\b` + labelPattern(l.Program) + `:?\s+([A-Z&\s-]+?)\s*\b` + labelPattern(l.ProgramSuffix) + `\b`},
		{&x.termHeader, `\b(` + strings.Join(seasons, "|") + `)\s+(\d{4})\b`},
		{&x.endOfRecord, labelPattern(l.EndOfTranscript)},
		{&x.termGPA, labelPattern(l.TermGPA) + `\s*:?\s*(` + num + `)`},
		{&x.cumulativeGPA, labelPattern(l.CumulativeGPA) + `\s*(` + num + `)`},
		{&x.courseRow, `(?s)\b([A-Z]{3}\s\d{3})\s+(.+?)\s+(` + num + `)\s+([A-Z+-]+)\s+(` + num + `)`},
		{&x.courseCode, `\b[A-Z]{3}\s\d{3}\b`},
		{&x.transferStart, labelPattern(l.TransferStart)},
		{&x.transferEnd, labelPattern(l.TransferEnd)},
		{&x.transferRow, `\b([A-Z]{3}(?:\s+[A-Z0-9]+)*)\s+([A-Za-z&\s-]+?)\s+(` + num + `)\s+` +
			labelPattern(l.TransferGrade) + `\s+(` + num + `)`},
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p.expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		*p.dst = re
	}
	return x, nil
}

// Config returns the configuration the extractor was built from.
func (x *Extractor) Config() Config { return x.cfg }

func withDefaults(cfg Config) Config {
	def := DefaultLabels()
	l := &cfg.Labels
	for _, f := range []struct {
		v   *string
		def string
	}{
		{&l.Program, def.Program},
		{&l.ProgramSuffix, def.ProgramSuffix},
		{&l.TermGPA, def.TermGPA},
		{&l.CumulativeGPA, def.CumulativeGPA},
		{&l.TransferStart, def.TransferStart},
		{&l.TransferEnd, def.TransferEnd},
		{&l.EndOfTranscript, def.EndOfTranscript},
		{&l.TransferGrade, def.TransferGrade},
	} {
		if strings.TrimSpace(*f.v) == "" {
			*f.v = f.def
		}
	}
	if len(l.Seasons) == 0 {
		l.Seasons = def.Seasons
	}
	return cfg
}

// labelPattern quotes a literal label so that any whitespace run matches
// between its words.
func labelPattern(label string) string {
	words := strings.Fields(label)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `\s+`)
}

func numberPattern(decimals int) string {
	if decimals <= 0 {
		return `\d+\.\d+`
	}
	return fmt.Sprintf(`\d+\.\d{%d}\b`, decimals)
}

// Extract runs every matcher over text and assembles the record. It never
// fails: text without recognizable content yields an empty record.
func (x *Extractor) Extract(text string) *Record {
	text = Normalize(text)

	rec := &Record{
		Program:         x.MatchProgram(text),
		Semesters:       []Semester{},
		CumulativeGPA:   x.MatchCumulativeGPA(text),
		TransferCourses: x.MatchTransferCourses(text),
	}

	segments := x.SegmentTerms(x.maskTransferBlock(text))
	raw := make([]RawTerm, 0, len(segments))
	for _, seg := range segments {
		raw = append(raw, RawTerm{
			Label:   seg.Label,
			GPA:     x.MatchTermGPA(seg.Text),
			Courses: x.MatchCourseRows(seg.Text),
		})
	}

	for _, sem := range Dedupe(raw) {
		if sem.GPA == nil && len(sem.Courses) == 0 {
			continue
		}
		rec.Semesters = append(rec.Semesters, sem)
	}
	return rec
}

// maskTransferBlock blanks out the transfer block so its rows can never be
// read as part of a term span.
func (x *Extractor) maskTransferBlock(text string) string {
	start, end, ok := x.TransferBlock(text)
	if !ok {
		return text
	}
	return text[:start] + " " + text[end:]
}

// Extract runs the default extractor over text.
func Extract(text string) *Record { return defaultExtractor.Extract(text) }
