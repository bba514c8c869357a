package extract

// Record is the structured result of extracting one transcript text blob.
// It is built fresh on every call and never modified afterwards.
type Record struct {
	Program         *string    `json:"program"`
	Semesters       []Semester `json:"semesters"`
	CumulativeGPA   *float64   `json:"cumulativeGpa"`
	TransferCourses []Course   `json:"transferCourses"`
}

// Semester is one academic term with its self-reported GPA and course rows.
type Semester struct {
	Term    string   `json:"term"` // canonical "<Season> <Year>"
	GPA     *float64 `json:"gpa"`
	Courses []Course `json:"courses"`
}

// Course is a single course row. Transfer courses carry the "CRT" grade.
type Course struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Credits     float64  `json:"credits"`
	Grade       string   `json:"grade"`
	GradePoints *float64 `json:"gradePoints,omitempty"`
}

// IsEmpty reports whether nothing usable was extracted: no terms and no
// transfer courses. Deciding that this means "not a transcript" is left to
// the caller.
func (r *Record) IsEmpty() bool {
	return r == nil || (len(r.Semesters) == 0 && len(r.TransferCourses) == 0)
}

// CourseCount returns the number of in-program course rows across all terms.
func (r *Record) CourseCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, s := range r.Semesters {
		n += len(s.Courses)
	}
	return n
}

// TotalCredits sums credits over term courses and transfer courses.
func (r *Record) TotalCredits() float64 {
	if r == nil {
		return 0
	}
	var total float64
	for _, s := range r.Semesters {
		for _, c := range s.Courses {
			total += c.Credits
		}
	}
	for _, c := range r.TransferCourses {
		total += c.Credits
	}
	return total
}

// GPATrajectory returns the term GPAs in record order as a fixed-length
// vector. Terms without a GPA contribute 0; the vector is zero-padded or
// truncated to dim.
func (r *Record) GPATrajectory(dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	v := make([]float32, dim)
	if r == nil {
		return v
	}
	for i, s := range r.Semesters {
		if i >= dim {
			break
		}
		if s.GPA != nil {
			v[i] = float32(*s.GPA)
		}
	}
	return v
}
