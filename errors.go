package gotranscript

import (
	"errors"

	"github.com/brunobiangulo/gotranscript/parser"
)

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("gotranscript: document not found")

	// ErrTranscriptNotFound is returned when a transcript ID does not exist.
	ErrTranscriptNotFound = errors.New("gotranscript: transcript not found")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("gotranscript: unsupported document format")

	// ErrParsingFailed is returned when document parsing fails.
	ErrParsingFailed = errors.New("gotranscript: parsing failed")

	// ErrNotATranscript is returned when the extracted record carries no
	// semesters and no transfer courses.
	ErrNotATranscript = errors.New("gotranscript: no transcript content recognized")

	// ErrInvalidRecord is returned when an extracted record fails schema validation.
	ErrInvalidRecord = errors.New("gotranscript: invalid record")

	// ErrStoreClosed is returned when the engine has been closed.
	ErrStoreClosed = errors.New("gotranscript: store is closed")

	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("gotranscript: invalid configuration")

	// ErrNoTextLayer is returned when a PDF has no extractable text.
	ErrNoTextLayer = parser.ErrNoTextLayer
)
