// Package schema holds the JSON Schema of an extracted transcript record and
// validates records against it.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/brunobiangulo/gotranscript/extract"
)

// ErrInvalid is returned when a record does not satisfy the schema or the
// record invariants.
var ErrInvalid = errors.New("schema: invalid record")

const resourceName = "record.json"

// RecordSchema returns the JSON Schema of extract.Record as a plain map.
func RecordSchema() map[string]any {
	course := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"code":        map[string]any{"type": "string", "pattern": `^[A-Z]{3}( [A-Z0-9]+)*$`},
			"name":        map[string]any{"type": "string", "minLength": 1},
			"credits":     map[string]any{"type": "number", "minimum": 0.0},
			"grade":       map[string]any{"type": "string", "minLength": 1},
			"gradePoints": map[string]any{"type": "number", "minimum": 0.0},
		},
		"required": []string{"code", "name", "credits", "grade"},
	}
	semester := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"term":    map[string]any{"type": "string", "pattern": `^\S+( \S+)* \d{4}$`},
			"gpa":     nullable("number"),
			"courses": map[string]any{"type": "array", "items": course},
		},
		"required": []string{"term", "gpa", "courses"},
	}
	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"program":         nullable("string"),
			"semesters":       map[string]any{"type": "array", "items": semester},
			"cumulativeGpa":   nullable("number"),
			"transferCourses": map[string]any{"type": "array", "items": course},
		},
		"required": []string{"program", "semesters", "cumulativeGpa", "transferCourses"},
	}
}

func nullable(typ string) map[string]any {
	return map[string]any{"type": []string{typ, "null"}}
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func recordSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		b, err := json.Marshal(RecordSchema())
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(resourceName, bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(resourceName)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// Validate checks raw JSON against the record schema.
func Validate(data []byte) error {
	s, err := recordSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: unmarshal data: %v", ErrInvalid, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ValidateRecord checks rec against the schema and against the invariants
// JSON Schema cannot express: unique term labels, unique course codes
// within a term, and no empty terms.
func ValidateRecord(rec *extract.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrInvalid)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := Validate(data); err != nil {
		return err
	}

	terms := make(map[string]bool, len(rec.Semesters))
	for _, s := range rec.Semesters {
		if terms[s.Term] {
			return fmt.Errorf("%w: duplicate term %q", ErrInvalid, s.Term)
		}
		terms[s.Term] = true
		if s.GPA == nil && len(s.Courses) == 0 {
			return fmt.Errorf("%w: term %q has neither GPA nor courses", ErrInvalid, s.Term)
		}
		codes := make(map[string]bool, len(s.Courses))
		for _, c := range s.Courses {
			if codes[c.Code] {
				return fmt.Errorf("%w: duplicate course %q in %q", ErrInvalid, c.Code, s.Term)
			}
			codes[c.Code] = true
		}
	}
	return nil
}
