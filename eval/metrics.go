package eval

import (
	"fmt"
	"strconv"

	"github.com/brunobiangulo/gotranscript/extract"
)

// Counts holds set-comparison tallies for one kind of extracted item.
type Counts struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`
}

// Add accumulates o into c.
func (c *Counts) Add(o Counts) {
	c.TruePositives += o.TruePositives
	c.FalsePositives += o.FalsePositives
	c.FalseNegatives += o.FalseNegatives
}

// Exact reports whether nothing was missed or invented.
func (c Counts) Exact() bool {
	return c.FalsePositives == 0 && c.FalseNegatives == 0
}

// Precision is TP/(TP+FP). Extracting nothing when nothing was expected
// scores 1.
func (c Counts) Precision() float64 {
	if c.TruePositives+c.FalsePositives == 0 {
		if c.FalseNegatives == 0 {
			return 1
		}
		return 0
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalsePositives)
}

// Recall is TP/(TP+FN). An empty expectation scores 1.
func (c Counts) Recall() float64 {
	if c.TruePositives+c.FalseNegatives == 0 {
		return 1
	}
	return float64(c.TruePositives) / float64(c.TruePositives+c.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (c Counts) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// compareKeys matches two multisets of item keys.
func compareKeys(want, got []string) (Counts, []string) {
	remaining := make(map[string]int, len(want))
	for _, k := range want {
		remaining[k]++
	}

	var c Counts
	var diffs []string
	for _, k := range got {
		if remaining[k] > 0 {
			remaining[k]--
			c.TruePositives++
			continue
		}
		c.FalsePositives++
		diffs = append(diffs, "unexpected "+k)
	}
	for _, k := range want {
		if remaining[k] > 0 {
			remaining[k]--
			c.FalseNegatives++
			diffs = append(diffs, "missing "+k)
		}
	}
	return c, diffs
}

func termKeys(r *extract.Record) []string {
	keys := make([]string, len(r.Semesters))
	for i, s := range r.Semesters {
		keys[i] = fmt.Sprintf("term %s gpa=%s", s.Term, fmtNum(s.GPA))
	}
	return keys
}

func courseKeys(r *extract.Record) []string {
	var keys []string
	for _, s := range r.Semesters {
		for _, c := range s.Courses {
			keys = append(keys, s.Term+" "+courseKey(c))
		}
	}
	return keys
}

func transferKeys(r *extract.Record) []string {
	keys := make([]string, len(r.TransferCourses))
	for i, c := range r.TransferCourses {
		keys[i] = "transfer " + courseKey(c)
	}
	return keys
}

func courseKey(c extract.Course) string {
	return fmt.Sprintf("course %q %q credits=%s grade=%s points=%s",
		c.Code, c.Name, strconv.FormatFloat(c.Credits, 'f', -1, 64), c.Grade, fmtNum(c.GradePoints))
}

func fmtNum(v *float64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func fmtStr(v *string) string {
	if v == nil {
		return "null"
	}
	return strconv.Quote(*v)
}

func equalStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalNum(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
