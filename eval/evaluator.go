package eval

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/gotranscript/extract"
)

// Report holds the results of an evaluation run.
type Report struct {
	Dataset    string  `json:"dataset"`
	TotalCases int     `json:"total_cases"`
	Passed     int     `json:"passed"`
	Failed     int     `json:"failed"`
	Metrics    Metrics `json:"metrics"`

	CategoryPassRate map[string]float64 `json:"category_pass_rate,omitempty"`
	Results          []CaseResult       `json:"results"`
	RunTime          time.Duration      `json:"run_time"`
}

// Metrics aggregates item tallies and scalar-field accuracy over a run.
type Metrics struct {
	Terms     Counts `json:"terms"`
	Courses   Counts `json:"courses"`
	Transfers Counts `json:"transfers"`

	ProgramAccuracy       float64 `json:"program_accuracy"`
	CumulativeGPAAccuracy float64 `json:"cumulative_gpa_accuracy"`
	TermOrderAccuracy     float64 `json:"term_order_accuracy"`
}

// CaseResult holds the outcome of a single case.
type CaseResult struct {
	Name       string   `json:"name"`
	Category   string   `json:"category,omitempty"`
	Passed     bool     `json:"passed"`
	Terms      Counts   `json:"terms"`
	Courses    Counts   `json:"courses"`
	Transfers  Counts   `json:"transfers"`
	ProgramOK  bool     `json:"program_ok"`
	CumGPAOK   bool     `json:"cumulative_gpa_ok"`
	TermOrder  bool     `json:"term_order_ok"`
	Mismatches []string `json:"mismatches,omitempty"`
	Error      string   `json:"error,omitempty"`
	ElapsedUs  int64    `json:"elapsed_us"`
}

// Score is the mean of the course, term and transfer F1 scores and the two
// scalar-field accuracies, in [0, 1].
func (r *Report) Score() float64 {
	m := r.Metrics
	return (m.Courses.F1() + m.Terms.F1() + m.Transfers.F1() +
		m.ProgramAccuracy + m.CumulativeGPAAccuracy) / 5
}

// Run extracts every case in ds with x and compares the result to the
// expected record.
func Run(x *extract.Extractor, ds Dataset) *Report {
	start := time.Now()
	report := &Report{
		Dataset:          ds.Name,
		TotalCases:       len(ds.Cases),
		CategoryPassRate: make(map[string]float64),
	}

	catCounts := make(map[string]int)
	catPassed := make(map[string]int)
	var programOK, cumOK, orderOK, scored int

	for i, c := range ds.Cases {
		result := runCase(x, c)
		report.Results = append(report.Results, result)

		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}
		if result.Error != "" {
			status = "ERROR"
		}
		slog.Info("eval: case complete",
			"progress", fmt.Sprintf("%d/%d", i+1, len(ds.Cases)),
			"status", status,
			"mismatches", len(result.Mismatches),
			"elapsed_us", result.ElapsedUs,
			"case", c.Name)

		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		if c.Category != "" {
			catCounts[c.Category]++
			if result.Passed {
				catPassed[c.Category]++
			}
		}

		if result.Error != "" {
			continue
		}
		scored++
		report.Metrics.Terms.Add(result.Terms)
		report.Metrics.Courses.Add(result.Courses)
		report.Metrics.Transfers.Add(result.Transfers)
		if result.ProgramOK {
			programOK++
		}
		if result.CumGPAOK {
			cumOK++
		}
		if result.TermOrder {
			orderOK++
		}
	}

	report.Metrics.ProgramAccuracy = ratio(programOK, scored)
	report.Metrics.CumulativeGPAAccuracy = ratio(cumOK, scored)
	report.Metrics.TermOrderAccuracy = ratio(orderOK, scored)
	for cat, n := range catCounts {
		report.CategoryPassRate[cat] = ratio(catPassed[cat], n)
	}

	report.RunTime = time.Since(start)
	return report
}

func runCase(x *extract.Extractor, c Case) (result CaseResult) {
	start := time.Now()
	result = CaseResult{Name: c.Name, Category: c.Category}
	defer func() {
		if r := recover(); r != nil {
			result.Passed = false
			result.Error = fmt.Sprintf("extractor panicked: %v", r)
		}
		result.ElapsedUs = time.Since(start).Microseconds()
	}()

	got := x.Extract(c.Text)
	want := &c.Expected

	var diffs []string
	result.Terms, diffs = compareKeys(termKeys(want), termKeys(got))
	result.Mismatches = append(result.Mismatches, diffs...)
	result.Courses, diffs = compareKeys(courseKeys(want), courseKeys(got))
	result.Mismatches = append(result.Mismatches, diffs...)
	result.Transfers, diffs = compareKeys(transferKeys(want), transferKeys(got))
	result.Mismatches = append(result.Mismatches, diffs...)

	result.ProgramOK = equalStr(want.Program, got.Program)
	if !result.ProgramOK {
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("program: want %s, got %s", fmtStr(want.Program), fmtStr(got.Program)))
	}
	result.CumGPAOK = equalNum(want.CumulativeGPA, got.CumulativeGPA)
	if !result.CumGPAOK {
		result.Mismatches = append(result.Mismatches,
			fmt.Sprintf("cumulative GPA: want %s, got %s", fmtNum(want.CumulativeGPA), fmtNum(got.CumulativeGPA)))
	}
	result.TermOrder = sameTermOrder(want, got)
	if !result.TermOrder && result.Terms.Exact() {
		result.Mismatches = append(result.Mismatches, "term order differs")
	}

	result.Passed = len(result.Mismatches) == 0
	return result
}

func sameTermOrder(want, got *extract.Record) bool {
	if len(want.Semesters) != len(got.Semesters) {
		return false
	}
	for i := range want.Semesters {
		if want.Semesters[i].Term != got.Semesters[i].Term {
			return false
		}
	}
	return true
}

// FormatReport produces a human-readable report string.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Evaluation Report: %s ===\n", r.Dataset)
	fmt.Fprintf(&b, "Total: %d | Passed: %d (%.1f%%) | Failed: %d\n",
		r.TotalCases, r.Passed, ratio(r.Passed, r.TotalCases)*100, r.Failed)
	fmt.Fprintf(&b, "Run time: %s\n", r.RunTime.Round(time.Microsecond))
	fmt.Fprintf(&b, "Score: %.3f\n\n", r.Score())

	m := r.Metrics
	fmt.Fprintf(&b, "Aggregate Metrics:\n")
	for _, row := range []struct {
		name string
		c    Counts
	}{
		{"Terms", m.Terms},
		{"Courses", m.Courses},
		{"Transfers", m.Transfers},
	} {
		fmt.Fprintf(&b, "  %-10s P=%.2f R=%.2f F1=%.2f  (tp=%d fp=%d fn=%d)\n",
			row.name, row.c.Precision(), row.c.Recall(), row.c.F1(),
			row.c.TruePositives, row.c.FalsePositives, row.c.FalseNegatives)
	}
	fmt.Fprintf(&b, "  Program:        %.2f\n", m.ProgramAccuracy)
	fmt.Fprintf(&b, "  Cumulative GPA: %.2f\n", m.CumulativeGPAAccuracy)
	fmt.Fprintf(&b, "  Term order:     %.2f\n\n", m.TermOrderAccuracy)

	if len(r.CategoryPassRate) > 0 {
		cats := make([]string, 0, len(r.CategoryPassRate))
		for cat := range r.CategoryPassRate {
			cats = append(cats, cat)
		}
		sort.Strings(cats)

		fmt.Fprintf(&b, "Per-Category Pass Rate:\n")
		for _, cat := range cats {
			fmt.Fprintf(&b, "  %-14s %.1f%%\n", cat, r.CategoryPassRate[cat]*100)
		}
		fmt.Fprintln(&b)
	}

	for i, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %d. %s\n", status, i+1, res.Name)
		if res.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", res.Error)
			continue
		}
		for _, mm := range res.Mismatches {
			fmt.Fprintf(&b, "  - %s\n", truncate(mm, 160))
		}
	}

	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
