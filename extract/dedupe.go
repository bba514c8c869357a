package extract

// RawTerm is the unresolved extraction result of one term span.
// An empty Label stands for a span whose header could not be read.
type RawTerm struct {
	Label   string
	GPA     *float64
	Courses []Course
}

// orderedMap is an insertion-ordered association with first-write-wins
// semantics.
type orderedMap[K comparable, V any] struct {
	index map[K]int
	vals  []V
}

func newOrderedMap[K comparable, V any](capacity int) *orderedMap[K, V] {
	return &orderedMap[K, V]{
		index: make(map[K]int, capacity),
		vals:  make([]V, 0, capacity),
	}
}

// insert stores v under k unless k is already present. It reports whether
// the value was stored.
func (m *orderedMap[K, V]) insert(k K, v V) bool {
	if _, ok := m.index[k]; ok {
		return false
	}
	m.index[k] = len(m.vals)
	m.vals = append(m.vals, v)
	return true
}

func (m *orderedMap[K, V]) has(k K) bool {
	_, ok := m.index[k]
	return ok
}

func (m *orderedMap[K, V]) values() []V { return m.vals }

// Dedupe resolves raw term tuples into semesters. The first tuple for a
// label wins; later tuples with the same label are discarded whole, never
// merged. Courses within a kept tuple are deduplicated by code, first row
// wins. Order of first appearance is preserved.
func Dedupe(raw []RawTerm) []Semester {
	terms := newOrderedMap[string, Semester](len(raw))
	for _, t := range raw {
		if t.Label == "" || terms.has(t.Label) {
			continue
		}
		terms.insert(t.Label, Semester{
			Term:    t.Label,
			GPA:     t.GPA,
			Courses: dedupeCourses(t.Courses),
		})
	}
	return terms.values()
}

func dedupeCourses(rows []Course) []Course {
	byCode := newOrderedMap[string, Course](len(rows))
	for _, c := range rows {
		byCode.insert(c.Code, c)
	}
	return byCode.values()
}
