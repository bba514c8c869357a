package extract

import (
	"strconv"
	"strings"
)

// Segment is the slice of text belonging to one term header: from the
// header itself up to the next header or the end-of-transcript marker.
type Segment struct {
	Label string // canonical "<Season> <Year>"
	Start int
	End   int
	Text  string
}

// MatchProgram returns the declared program of study with the trailing
// suffix ("Major") stripped, or nil when none is declared.
func (x *Extractor) MatchProgram(text string) *string {
	m := x.program.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	name := strings.Join(strings.Fields(m[1]), " ")
	if name == "" {
		return nil
	}
	return &name
}

// SegmentTerms splits text into one span per term header, in scan order.
// Repeated headers produce repeated segments; Dedupe resolves them.
func (x *Extractor) SegmentTerms(text string) []Segment {
	headers := x.termHeader.FindAllStringSubmatchIndex(text, -1)
	segments := make([]Segment, 0, len(headers))
	for i, h := range headers {
		start := h[0]
		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		if loc := x.endOfRecord.FindStringIndex(text[start:end]); loc != nil {
			end = start + loc[0]
		}
		segments = append(segments, Segment{
			Label: text[h[2]:h[3]] + " " + text[h[4]:h[5]],
			Start: start,
			End:   end,
			Text:  text[start:end],
		})
	}
	return segments
}

// MatchTermGPA returns the first "Term GPA" value in span, or nil.
func (x *Extractor) MatchTermGPA(span string) *float64 {
	m := x.termGPA.FindStringSubmatch(span)
	if m == nil {
		return nil
	}
	return parseNumber(m[1])
}

// MatchCumulativeGPA returns the last cumulative GPA reported in text.
func (x *Extractor) MatchCumulativeGPA(text string) *float64 {
	all := x.cumulativeGPA.FindAllStringSubmatch(text, -1)
	if len(all) == 0 {
		return nil
	}
	return parseNumber(all[len(all)-1][1])
}

// MatchCourseRows returns every well-formed course row in span, in order.
// A candidate whose title would swallow other course codes is rejected and
// the scan resumes at the last of them; every earlier inner code completes at
// the same point and is malformed too, which keeps the scan linear.
func (x *Extractor) MatchCourseRows(span string) []Course {
	var courses []Course
	pos := 0
	for pos < len(span) {
		loc := x.courseRow.FindStringSubmatchIndex(span[pos:])
		if loc == nil {
			break
		}
		title := span[pos+loc[4] : pos+loc[5]]
		if inner := x.courseCode.FindAllStringIndex(title, -1); len(inner) > 0 {
			pos += loc[4] + inner[len(inner)-1][0]
			continue
		}

		credits := parseNumber(span[pos+loc[6] : pos+loc[7]])
		points := parseNumber(span[pos+loc[10] : pos+loc[11]])
		name := strings.Join(strings.Fields(title), " ")
		if credits != nil && points != nil && name != "" {
			courses = append(courses, Course{
				Code:        collapseSpaces(span[pos+loc[2] : pos+loc[3]]),
				Name:        name,
				Credits:     *credits,
				Grade:       span[pos+loc[8] : pos+loc[9]],
				GradePoints: points,
			})
		}
		pos += loc[1]
	}
	return courses
}

// TransferBlock locates the transfer-credit block: from the start label
// (inclusive) to the first end label after it (exclusive).
func (x *Extractor) TransferBlock(text string) (start, end int, ok bool) {
	s := x.transferStart.FindStringIndex(text)
	if s == nil {
		return 0, 0, false
	}
	e := x.transferEnd.FindStringIndex(text[s[0]:])
	if e == nil {
		return 0, 0, false
	}
	return s[0], s[0] + e[0], true
}

// MatchTransferCourses returns the well-formed rows of the transfer block.
// Every row carries the transfer grade marker instead of a letter grade.
func (x *Extractor) MatchTransferCourses(text string) []Course {
	courses := []Course{}
	start, end, ok := x.TransferBlock(text)
	if !ok {
		return courses
	}
	for _, m := range x.transferRow.FindAllStringSubmatch(text[start:end], -1) {
		credits := parseNumber(m[3])
		points := parseNumber(m[4])
		name := strings.Join(strings.Fields(m[2]), " ")
		if credits == nil || points == nil || name == "" {
			continue
		}
		courses = append(courses, Course{
			Code:        collapseSpaces(m[1]),
			Name:        name,
			Credits:     *credits,
			Grade:       x.cfg.Labels.TransferGrade,
			GradePoints: points,
		})
	}
	return courses
}

func parseNumber(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Package-level matchers over the default label table.

func MatchProgram(text string) *string          { return defaultExtractor.MatchProgram(text) }
func SegmentTerms(text string) []Segment        { return defaultExtractor.SegmentTerms(text) }
func MatchTermGPA(span string) *float64         { return defaultExtractor.MatchTermGPA(span) }
func MatchCumulativeGPA(text string) *float64   { return defaultExtractor.MatchCumulativeGPA(text) }
func MatchCourseRows(span string) []Course      { return defaultExtractor.MatchCourseRows(span) }
func MatchTransferCourses(text string) []Course { return defaultExtractor.MatchTransferCourses(text) }
