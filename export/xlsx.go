// Package export renders extracted transcript records into spreadsheet
// workbooks.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/gotranscript/extract"
)

// Sheet names of the exported workbook.
const (
	SheetSummary  = "Summary"
	SheetCourses  = "Courses"
	SheetTransfer = "Transfer Credits"
)

var courseHeaders = []string{"Term", "Term GPA", "Code", "Name", "Credits", "Grade", "Grade Points"}
var transferHeaders = []string{"Code", "Name", "Credits", "Grade", "Grade Points"}

// WriteXLSX returns rec as an XLSX workbook with a summary sheet, one row per
// term course and one row per transfer course.
func WriteXLSX(rec *extract.Record) ([]byte, error) {
	if rec == nil {
		rec = &extract.Record{}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetCourses, SheetTransfer} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("new sheet %s: %w", name, err)
		}
	}

	w := &sheetWriter{f: f}

	w.sheet = SheetSummary
	w.row(1, "Program", deref(rec.Program))
	w.row(2, "Cumulative GPA", derefNum(rec.CumulativeGPA))
	w.row(3, "Terms", len(rec.Semesters))
	w.row(4, "Courses", rec.CourseCount())
	w.row(5, "Transfer Courses", len(rec.TransferCourses))
	w.row(6, "Total Credits", rec.TotalCredits())

	w.sheet = SheetCourses
	w.row(1, toAny(courseHeaders)...)
	r := 2
	for _, s := range rec.Semesters {
		for _, c := range s.Courses {
			w.row(r, s.Term, derefNum(s.GPA), c.Code, c.Name, c.Credits, c.Grade, derefNum(c.GradePoints))
			r++
		}
	}

	w.sheet = SheetTransfer
	w.row(1, toAny(transferHeaders)...)
	for i, c := range rec.TransferCourses {
		w.row(i+2, c.Code, c.Name, c.Credits, c.Grade, derefNum(c.GradePoints))
	}
	if w.err != nil {
		return nil, fmt.Errorf("write cells: %w", w.err)
	}

	_ = f.SetColWidth(SheetSummary, "A", "A", 18)
	_ = f.SetColWidth(SheetSummary, "B", "B", 40)
	_ = f.SetColWidth(SheetCourses, "A", "C", 12)
	_ = f.SetColWidth(SheetCourses, "D", "D", 40)
	_ = f.SetColWidth(SheetTransfer, "A", "A", 12)
	_ = f.SetColWidth(SheetTransfer, "B", "B", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetWriter keeps the first cell error so rows can be written unchecked.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	err   error
}

func (w *sheetWriter) row(r int, vals ...any) {
	for i, v := range vals {
		if w.err != nil {
			return
		}
		cell, err := excelize.CoordinatesToCellName(i+1, r)
		if err != nil {
			w.err = err
			return
		}
		w.err = w.f.SetCellValue(w.sheet, cell, v)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// derefNum leaves the cell blank for absent values.
func derefNum(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
