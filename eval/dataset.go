package eval

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/brunobiangulo/gotranscript/extract"
	"github.com/brunobiangulo/gotranscript/schema"
)

// Case categories used by the builtin dataset.
const (
	CategorySingleTerm = "single-term"
	CategoryMultiTerm  = "multi-term"
	CategoryDuplicate  = "duplicate"
	CategoryTransfer   = "transfer"
	CategoryNoise      = "noise"
)

// Dataset is a collection of golden extraction cases.
type Dataset struct {
	Name  string `json:"name"`
	Cases []Case `json:"cases"`
}

// Case pairs a transcript text with the record it must extract to.
type Case struct {
	Name     string         `json:"name"`
	Category string         `json:"category"`
	Text     string         `json:"text"`
	Expected extract.Record `json:"expected"`
}

type rawCase struct {
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Text     string          `json:"text"`
	Expected json.RawMessage `json:"expected"`
}

// LoadDataset reads a JSON dataset file. Every expected record is checked
// against the record schema before it is accepted.
func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("reading dataset: %w", err)
	}

	var raw struct {
		Name  string    `json:"name"`
		Cases []rawCase `json:"cases"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Dataset{}, fmt.Errorf("parsing dataset: %w", err)
	}
	if len(raw.Cases) == 0 {
		return Dataset{}, fmt.Errorf("dataset %s has no cases", path)
	}

	ds := Dataset{Name: raw.Name, Cases: make([]Case, 0, len(raw.Cases))}
	if ds.Name == "" {
		ds.Name = path
	}
	for i, rc := range raw.Cases {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("case-%d", i+1)
		}
		if err := schema.Validate(rc.Expected); err != nil {
			return Dataset{}, fmt.Errorf("case %q: %w", name, err)
		}
		c := Case{Name: name, Category: rc.Category, Text: rc.Text}
		if err := json.Unmarshal(rc.Expected, &c.Expected); err != nil {
			return Dataset{}, fmt.Errorf("case %q: %w", name, err)
		}
		ds.Cases = append(ds.Cases, c)
	}
	return ds, nil
}

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

// BuiltinDataset returns golden cases for the supported transcript template.
func BuiltinDataset() Dataset {
	return Dataset{
		Name: "Builtin - Transcript Template",
		Cases: []Case{
			{
				Name:     "minimal single term",
				Category: CategorySingleTerm,
				Text:     "Program COMPUTER SCIENCE Major Fall 2023 Term GPA 3.500 CPS 109 Computer Science I 1.000 A- 3.670 End of Transcript Cum GPA: 3.500",
				Expected: extract.Record{
					Program: s("COMPUTER SCIENCE"),
					Semesters: []extract.Semester{{
						Term: "Fall 2023", GPA: f(3.5),
						Courses: []extract.Course{
							{Code: "CPS 109", Name: "Computer Science I", Credits: 1, Grade: "A-", GradePoints: f(3.67)},
						},
					}},
					CumulativeGPA:   f(3.5),
					TransferCourses: []extract.Course{},
				},
			},
			{
				Name:     "duplicate term header keeps first",
				Category: CategoryDuplicate,
				Text: "Fall 2023 Term GPA 3.000 CPS 109 Computer Science I 1.000 B 3.000 " +
					"Fall 2023 Term GPA 3.800 CPS 209 Computer Science II 1.000 A 4.000 " +
					"Winter 2024 Term GPA 3.300 CPS 310 Operating Systems 1.000 B+ 3.330",
				Expected: extract.Record{
					Semesters: []extract.Semester{
						{
							Term: "Fall 2023", GPA: f(3.0),
							Courses: []extract.Course{
								{Code: "CPS 109", Name: "Computer Science I", Credits: 1, Grade: "B", GradePoints: f(3.0)},
							},
						},
						{
							Term: "Winter 2024", GPA: f(3.3),
							Courses: []extract.Course{
								{Code: "CPS 310", Name: "Operating Systems", Credits: 1, Grade: "B+", GradePoints: f(3.33)},
							},
						},
					},
					TransferCourses: []extract.Course{},
				},
			},
			{
				Name:     "transfer block drops malformed row",
				Category: CategoryTransfer,
				Text: "Transfer Credits MTH 1XX Calculus I 1.000 CRT 0.000 PHY 1XX Physics 1.000 0.000 " +
					"Beginning of Undergraduate Record Fall 2023 Term GPA 3.000",
				Expected: extract.Record{
					Semesters: []extract.Semester{{Term: "Fall 2023", GPA: f(3.0), Courses: []extract.Course{}}},
					TransferCourses: []extract.Course{
						{Code: "MTH 1XX", Name: "Calculus I", Credits: 1, Grade: "CRT", GradePoints: f(0)},
					},
				},
			},
			{
				Name:     "no recognizable content",
				Category: CategoryNoise,
				Text:     "random unrelated text",
				Expected: extract.Record{Semesters: []extract.Semester{}, TransferCourses: []extract.Course{}},
			},
			{
				Name:     "multi term with repeated row",
				Category: CategoryMultiTerm,
				Text: "Program SOFTWARE ENGINEERING & DESIGN Major\n" +
					"Fall 2022   Term GPA 3.200\n" +
					"CPS 109 Computer Science I 1.000 B+ 3.330\n" +
					"MTH 110 Discrete Mathematics I 1.000 A 4.000\n" +
					"Winter 2023 Term GPA 3.800\n" +
					"CPS 209 Computer Science II 1.000 A 4.000\n" +
					"CPS 209 Computer Science II 1.000 A 4.000\n" +
					"Cum GPA: 3.500\n" +
					"End of Transcript",
				Expected: extract.Record{
					Program: s("SOFTWARE ENGINEERING & DESIGN"),
					Semesters: []extract.Semester{
						{
							Term: "Fall 2022", GPA: f(3.2),
							Courses: []extract.Course{
								{Code: "CPS 109", Name: "Computer Science I", Credits: 1, Grade: "B+", GradePoints: f(3.33)},
								{Code: "MTH 110", Name: "Discrete Mathematics I", Credits: 1, Grade: "A", GradePoints: f(4.0)},
							},
						},
						{
							Term: "Winter 2023", GPA: f(3.8),
							Courses: []extract.Course{
								{Code: "CPS 209", Name: "Computer Science II", Credits: 1, Grade: "A", GradePoints: f(4.0)},
							},
						},
					},
					CumulativeGPA:   f(3.5),
					TransferCourses: []extract.Course{},
				},
			},
			{
				Name:     "term header inside transfer block",
				Category: CategoryTransfer,
				Text: "Transfer Credits Fall 2019 MTH 110 Calculus I 1.000 CRT 0.000 " +
					"Beginning of Undergraduate Record Fall 2020 Term GPA 3.000 CPS 109 Computer Science I 1.000 B 3.000",
				Expected: extract.Record{
					Semesters: []extract.Semester{{
						Term: "Fall 2020", GPA: f(3.0),
						Courses: []extract.Course{
							{Code: "CPS 109", Name: "Computer Science I", Credits: 1, Grade: "B", GradePoints: f(3.0)},
						},
					}},
					TransferCourses: []extract.Course{
						{Code: "MTH 110", Name: "Calculus I", Credits: 1, Grade: "CRT", GradePoints: f(0)},
					},
				},
			},
			{
				Name:     "empty terms are dropped",
				Category: CategoryMultiTerm,
				Text:     "Admit Term Summer 2021 Fall 2021 Term GPA 3.100 End of Transcript Winter 2022",
				Expected: extract.Record{
					Semesters:       []extract.Semester{{Term: "Fall 2021", GPA: f(3.1), Courses: []extract.Course{}}},
					TransferCourses: []extract.Course{},
				},
			},
		},
	}
}
