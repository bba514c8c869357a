package gotranscript

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/gotranscript/export"
	"github.com/brunobiangulo/gotranscript/extract"
	"github.com/brunobiangulo/gotranscript/parser"
	"github.com/brunobiangulo/gotranscript/schema"
	"github.com/brunobiangulo/gotranscript/store"
)

// Engine is the main entry point for transcript extraction and storage.
type Engine interface {
	// Extract runs the extractor over raw transcript text. Nothing is stored.
	Extract(ctx context.Context, text string) (*extract.Record, error)

	// Ingest parses the documents at paths, concatenates their text in
	// order, extracts one record and stores it. Ingesting text whose hash
	// is already stored returns the existing transcript.
	Ingest(ctx context.Context, paths []string, opts ...IngestOption) (*IngestResult, error)

	// Get returns a stored transcript with its record.
	Get(ctx context.Context, id int64) (*Transcript, error)

	// List returns stored transcript summaries, newest first.
	List(ctx context.Context) ([]Transcript, error)

	// Delete removes a transcript and everything derived from it.
	Delete(ctx context.Context, id int64) error

	// Similar returns up to k transcripts whose GPA trajectory is closest
	// to the given transcript's. The transcript itself is excluded.
	Similar(ctx context.Context, id int64, k int) ([]Neighbor, error)

	// SearchCourses finds stored courses by code or title.
	SearchCourses(ctx context.Context, query string, limit int) ([]CourseMatch, error)

	// ExportXLSX renders a stored transcript as an XLSX workbook.
	ExportXLSX(ctx context.Context, id int64) ([]byte, error)

	// ListDocuments returns all parsed source documents.
	ListDocuments(ctx context.Context) ([]Document, error)

	// DeleteDocument removes a source document and its transcript links.
	DeleteDocument(ctx context.Context, id int64) error

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Transcript is a stored extraction result.
type Transcript struct {
	ID            int64           `json:"id"`
	ContentHash   string          `json:"content_hash"`
	Label         string          `json:"label,omitempty"`
	Program       *string         `json:"program"`
	CumulativeGPA *float64        `json:"cumulative_gpa"`
	TermCount     int             `json:"term_count"`
	CourseCount   int             `json:"course_count"`
	TransferCount int             `json:"transfer_count"`
	TotalCredits  float64         `json:"total_credits"`
	Record        *extract.Record `json:"record,omitempty"`
	DocumentIDs   []int64         `json:"document_ids,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

// Document represents a parsed source document.
type Document struct {
	ID          int64             `json:"id"`
	Path        string            `json:"path"`
	Filename    string            `json:"filename"`
	Format      string            `json:"format"`
	ContentHash string            `json:"content_hash"`
	ParseMethod string            `json:"parse_method"`
	Status      string            `json:"status"`
	Pages       int               `json:"pages"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// IngestResult reports the outcome of an ingest.
type IngestResult struct {
	Transcript *Transcript `json:"transcript"`
	Documents  []Document  `json:"documents"`
	Existing   bool        `json:"existing"` // text was already stored
	Warnings   []string    `json:"warnings,omitempty"`
}

// Neighbor is a transcript returned by similarity search.
type Neighbor = store.Neighbor

// CourseMatch is a course returned by course search.
type CourseMatch = store.CourseMatch

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	forceReparse bool
	allowEmpty   bool
	label        string
}

// WithForceReparse re-extracts and replaces a transcript even when its
// text hash is already stored.
func WithForceReparse() IngestOption {
	return func(o *ingestOptions) { o.forceReparse = true }
}

// WithAllowEmpty stores the record even when nothing was recognized.
func WithAllowEmpty() IngestOption {
	return func(o *ingestOptions) { o.allowEmpty = true }
}

// WithLabel attaches a caller-chosen label to the stored transcript.
func WithLabel(label string) IngestOption {
	return func(o *ingestOptions) { o.label = label }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     *store.Store
	parsers   *parser.Registry
	extractor *extract.Extractor

	mu     sync.RWMutex
	closed bool
}

// New creates a new engine with the given configuration.
func New(cfg Config) (Engine, error) {
	if cfg.TrajectoryDim == 0 {
		cfg.TrajectoryDim = DefaultConfig().TrajectoryDim
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	x, err := extract.New(cfg.Extract)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	reg := parser.NewRegistry()
	if cfg.Pdftotext != "" {
		reg.SetPdftotext(cfg.Pdftotext, nil)
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.TrajectoryDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &engine{
		cfg:       cfg,
		store:     s,
		parsers:   reg,
		extractor: x,
	}, nil
}

// Extract runs the configured extractor over text.
func (e *engine) Extract(ctx context.Context, text string) (*extract.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.extractor.Extract(text), nil
}

// Ingest processes documents through parse, extract, validate and store.
func (e *engine) Ingest(ctx context.Context, paths []string, opts ...IngestOption) (*IngestResult, error) {
	options := &ingestOptions{allowEmpty: e.cfg.AllowEmpty}
	for _, o := range opts {
		o(options)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no documents given", ErrParsingFailed)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}

	start := time.Now()
	result := &IngestResult{}
	texts := make([]string, 0, len(paths))
	docIDs := make([]int64, 0, len(paths))

	for _, path := range paths {
		doc, parsed, err := e.parseDocument(ctx, path, options.forceReparse)
		if err != nil {
			return nil, err
		}
		texts = append(texts, parsed.Text)
		docIDs = append(docIDs, doc.ID)
		result.Documents = append(result.Documents, *doc)
		for _, w := range parsed.Warnings {
			result.Warnings = append(result.Warnings, doc.Filename+": "+w)
		}
	}

	text := strings.Join(texts, "\n")
	hash := textHash(text)

	if existing, err := e.store.GetTranscriptByHash(ctx, hash); err == nil {
		if !options.forceReparse {
			slog.Info("ingest: transcript unchanged", "transcript_id", existing.ID, "hash", hash[:12])
			if err := e.store.LinkDocuments(ctx, existing.ID, docIDs); err != nil {
				return nil, fmt.Errorf("linking documents to transcript %d: %w", existing.ID, err)
			}
			e.markDocuments(ctx, docIDs, "ready")
			for i := range result.Documents {
				result.Documents[i].Status = "ready"
			}
			t, err := e.store.GetTranscript(ctx, existing.ID)
			if err != nil {
				return nil, fmt.Errorf("reading transcript %d: %w", existing.ID, err)
			}
			result.Transcript = fromStoreTranscript(t)
			result.Existing = true
			return result, nil
		}
		if err := e.store.DeleteTranscript(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("replacing transcript %d: %w", existing.ID, err)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up transcript: %w", err)
	}

	extractStart := time.Now()
	rec := e.extractor.Extract(text)
	slog.Info("ingest: extraction complete",
		"documents", len(paths), "terms", len(rec.Semesters),
		"courses", rec.CourseCount(), "transfer_courses", len(rec.TransferCourses),
		"elapsed", time.Since(extractStart).Round(time.Millisecond))

	if rec.IsEmpty() && !options.allowEmpty {
		e.markDocuments(ctx, docIDs, "error")
		return nil, ErrNotATranscript
	}
	if err := schema.ValidateRecord(rec); err != nil {
		e.markDocuments(ctx, docIDs, "error")
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	id, err := e.store.InsertTranscript(ctx, store.Transcript{
		ContentHash: hash,
		Label:       options.label,
		Record:      rec,
		DocumentIDs: docIDs,
	}, rec.GPATrajectory(e.cfg.TrajectoryDim))
	if err != nil {
		e.markDocuments(ctx, docIDs, "error")
		return nil, fmt.Errorf("storing transcript: %w", err)
	}
	e.markDocuments(ctx, docIDs, "ready")
	for i := range result.Documents {
		result.Documents[i].Status = "ready"
	}

	t, err := e.store.GetTranscript(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading transcript %d: %w", id, err)
	}
	result.Transcript = fromStoreTranscript(t)

	slog.Info("ingest: transcript ready",
		"transcript_id", id, "documents", len(paths),
		"total_elapsed", time.Since(start).Round(time.Millisecond))
	return result, nil
}

// parseDocument records a document row and returns its parsed text. A file
// whose content hash matches the stored row reuses the stored text unless
// force is set.
func (e *engine) parseDocument(ctx context.Context, path string, force bool) (*Document, *parser.ParseResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving path: %w", err)
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return nil, nil, fmt.Errorf("hashing file: %w", err)
	}

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(absPath), "."))
	filename := filepath.Base(absPath)

	p, err := e.parsers.Get(format)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if !force {
		prev, err := e.store.GetDocumentByPath(ctx, absPath)
		switch {
		case err == nil && prev.ContentHash == hash && prev.Text != "":
			slog.Info("ingest: document unchanged, reusing text", "file", filename, "doc_id", prev.ID)
			doc := fromStoreDocument(*prev)
			return &doc, &parser.ParseResult{Text: prev.Text, Pages: prev.Pages, Method: prev.ParseMethod}, nil
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return nil, nil, fmt.Errorf("looking up document: %w", err)
		}
	}

	docID, err := e.store.UpsertDocument(ctx, store.Document{
		Path:        absPath,
		Filename:    filename,
		Format:      format,
		ContentHash: hash,
		ParseMethod: "pending",
		Status:      "processing",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("upserting document: %w", err)
	}

	slog.Info("ingest: parsing document", "file", filename, "format", format, "doc_id", docID)
	parseStart := time.Now()

	parsed, err := p.Parse(ctx, absPath)
	if err != nil {
		e.store.UpdateDocumentStatus(ctx, docID, "error")
		if errors.Is(err, parser.ErrNoTextLayer) {
			return nil, nil, fmt.Errorf("%s: %w", filename, err)
		}
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrParsingFailed, filename, err)
	}

	var metadataJSON string
	if len(parsed.Metadata) > 0 {
		data, _ := json.Marshal(parsed.Metadata)
		metadataJSON = string(data)
	}
	if _, err := e.store.UpsertDocument(ctx, store.Document{
		Path:        absPath,
		Filename:    filename,
		Format:      format,
		ContentHash: hash,
		ParseMethod: parsed.Method,
		Status:      "parsed",
		Pages:       parsed.Pages,
		Metadata:    metadataJSON,
		Text:        parsed.Text,
	}); err != nil {
		return nil, nil, fmt.Errorf("updating document: %w", err)
	}

	slog.Info("ingest: parsing complete",
		"file", filename, "method", parsed.Method, "pages", parsed.Pages,
		"warnings", len(parsed.Warnings), "elapsed", time.Since(parseStart).Round(time.Millisecond))

	return &Document{
		ID:          docID,
		Path:        absPath,
		Filename:    filename,
		Format:      format,
		ContentHash: hash,
		ParseMethod: parsed.Method,
		Status:      "parsed",
		Pages:       parsed.Pages,
		Metadata:    parsed.Metadata,
	}, parsed, nil
}

func (e *engine) markDocuments(ctx context.Context, ids []int64, status string) {
	for _, id := range ids {
		if err := e.store.UpdateDocumentStatus(ctx, id, status); err != nil {
			slog.Warn("ingest: updating document status", "doc_id", id, "status", status, "error", err)
		}
	}
}

// Get returns a stored transcript by ID.
func (e *engine) Get(ctx context.Context, id int64) (*Transcript, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}

	t, err := e.store.GetTranscript(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}
	return fromStoreTranscript(t), nil
}

// List returns stored transcripts without their records.
func (e *engine) List(ctx context.Context) ([]Transcript, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}

	ts, err := e.store.ListTranscripts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Transcript, len(ts))
	for i := range ts {
		out[i] = *fromStoreTranscript(&ts[i])
	}
	return out, nil
}

// Delete removes a transcript.
func (e *engine) Delete(ctx context.Context, id int64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrStoreClosed
	}
	return notFound(e.store.DeleteTranscript(ctx, id), id)
}

// Similar runs a KNN search seeded with the transcript's own trajectory.
func (e *engine) Similar(ctx context.Context, id int64, k int) ([]Neighbor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}
	if k <= 0 {
		k = 5
	}

	t, err := e.store.GetTranscript(ctx, id)
	if err != nil {
		return nil, notFound(err, id)
	}

	neighbors, err := e.store.SimilarTranscripts(ctx, t.Record.GPATrajectory(e.cfg.TrajectoryDim), k+1)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	out := make([]Neighbor, 0, k)
	for _, n := range neighbors {
		if n.TranscriptID == id {
			continue
		}
		if len(out) == k {
			break
		}
		out = append(out, n)
	}
	return out, nil
}

// SearchCourses searches course codes and titles across transcripts.
func (e *engine) SearchCourses(ctx context.Context, query string, limit int) ([]CourseMatch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return e.store.SearchCourses(ctx, query, limit)
}

// ExportXLSX renders a stored transcript as a workbook.
func (e *engine) ExportXLSX(ctx context.Context, id int64) ([]byte, error) {
	t, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return export.WriteXLSX(t.Record)
}

// ListDocuments returns all parsed documents.
func (e *engine) ListDocuments(ctx context.Context) ([]Document, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}

	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Document, len(docs))
	for i, d := range docs {
		result[i] = fromStoreDocument(d)
	}
	return result, nil
}

// DeleteDocument removes a document row and its transcript links.
// Transcripts built from it are kept.
func (e *engine) DeleteDocument(ctx context.Context, id int64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrStoreClosed
	}
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrDocumentNotFound, id)
		}
		return err
	}
	slog.Info("document deleted", "doc_id", id)
	return nil
}

func fromStoreDocument(d store.Document) Document {
	doc := Document{
		ID:          d.ID,
		Path:        d.Path,
		Filename:    d.Filename,
		Format:      d.Format,
		ContentHash: d.ContentHash,
		ParseMethod: d.ParseMethod,
		Status:      d.Status,
		Pages:       d.Pages,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.Metadata != "" {
		_ = json.Unmarshal([]byte(d.Metadata), &doc.Metadata)
	}
	return doc
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the engine. Calls after the first return ErrStoreClosed.
func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStoreClosed
	}
	e.closed = true
	return e.store.Close()
}

func notFound(err error, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", ErrTranscriptNotFound, id)
	}
	return err
}

func fromStoreTranscript(t *store.Transcript) *Transcript {
	return &Transcript{
		ID:            t.ID,
		ContentHash:   t.ContentHash,
		Label:         t.Label,
		Program:       t.Program,
		CumulativeGPA: t.CumulativeGPA,
		TermCount:     t.TermCount,
		CourseCount:   t.CourseCount,
		TransferCount: t.TransferCount,
		TotalCredits:  t.TotalCredits,
		Record:        t.Record,
		DocumentIDs:   t.DocumentIDs,
		CreatedAt:     t.CreatedAt,
	}
}

// textHash identifies a transcript by its combined source text.
func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// fileHash computes the SHA-256 hash of a file.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
