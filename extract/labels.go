package extract

import "errors"

// ErrInvalidConfig is returned by New when the label table cannot be compiled.
var ErrInvalidConfig = errors.New("extract: invalid configuration")

// DefaultDecimals is the fractional precision of every number printed on
// the supported transcript template.
const DefaultDecimals = 3

// Labels is the table of literal strings the matchers look for. Inner
// whitespace in a label matches any run of whitespace in the source text.
type Labels struct {
	Program         string   `json:"program" yaml:"program" validate:"required"`
	ProgramSuffix   string   `json:"program_suffix" yaml:"program_suffix" validate:"required"`
	Seasons         []string `json:"seasons" yaml:"seasons" validate:"required,min=1,dive,required"`
	TermGPA         string   `json:"term_gpa" yaml:"term_gpa" validate:"required"`
	CumulativeGPA   string   `json:"cumulative_gpa" yaml:"cumulative_gpa" validate:"required"`
	TransferStart   string   `json:"transfer_start" yaml:"transfer_start" validate:"required"`
	TransferEnd     string   `json:"transfer_end" yaml:"transfer_end" validate:"required"`
	EndOfTranscript string   `json:"end_of_transcript" yaml:"end_of_transcript" validate:"required"`
	TransferGrade   string   `json:"transfer_grade" yaml:"transfer_grade" validate:"required"`
}

// DefaultLabels returns the label table of the supported transcript template.
func DefaultLabels() Labels {
	return Labels{
		Program:         "Program",
		ProgramSuffix:   "Major",
		Seasons:         []string{"Fall", "Winter", "Spring", "Summer"},
		TermGPA:         "Term GPA",
		CumulativeGPA:   "Cum GPA:",
		TransferStart:   "Transfer Credits",
		TransferEnd:     "Beginning of Undergraduate Record",
		EndOfTranscript: "End of Transcript",
		TransferGrade:   "CRT",
	}
}

// Config controls how an Extractor compiles its patterns.
type Config struct {
	Labels Labels `json:"labels" yaml:"labels"`

	// Decimals is the number of fractional digits required in credits,
	// grade points and GPA values. Zero accepts any precision.
	Decimals int `json:"decimals" yaml:"decimals" validate:"min=0,max=6"`
}

// DefaultConfig returns the configuration for the supported template.
func DefaultConfig() Config {
	return Config{
		Labels:   DefaultLabels(),
		Decimals: DefaultDecimals,
	}
}
