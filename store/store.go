package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/gotranscript/extract"
)

func init() {
	sqlite_vec.Auto()
}

// Document represents a row in the documents table.
type Document struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	ContentHash string `json:"content_hash"`
	ParseMethod string `json:"parse_method"`
	Status      string `json:"status"`
	Pages       int    `json:"pages"`
	Metadata    string `json:"metadata,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`

	// Text is the parsed text, kept so unchanged files need not be parsed again.
	Text string `json:"-"`
}

// Transcript represents a row in the transcripts table. Record is only
// populated by the single-row getters.
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

// Neighbor is a transcript returned by trajectory similarity search.
type Neighbor struct {
	TranscriptID  int64    `json:"transcript_id"`
	Label         string   `json:"label,omitempty"`
	Program       *string  `json:"program"`
	CumulativeGPA *float64 `json:"cumulative_gpa"`
	Distance      float64  `json:"distance"`
}

// CourseMatch is a course row returned by course search.
type CourseMatch struct {
	TranscriptID int64    `json:"transcript_id"`
	Term         string   `json:"term,omitempty"`
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Credits      float64  `json:"credits"`
	Grade        string   `json:"grade"`
	GradePoints  *float64 `json:"grade_points,omitempty"`
	IsTransfer   bool     `json:"is_transfer"`
}

// Store wraps the SQLite database for all gotranscript persistence.
type Store struct {
	db            *sql.DB
	trajectoryDim int
	fts           bool
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec table and, when the
// sqlite build supports it, the FTS5 course index.
func New(dbPath string, trajectoryDim int) (*Store, error) {
	if trajectoryDim <= 0 {
		return nil, fmt.Errorf("trajectory dimension must be positive, got %d", trajectoryDim)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(trajectoryDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, trajectoryDim: trajectoryDim}

	if _, err := db.Exec(ftsSQL); err != nil {
		slog.Warn("store: full-text course index unavailable, using LIKE search", "error", err)
	} else {
		s.fts = true
	}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// TrajectoryDim returns the configured GPA trajectory dimension.
func (s *Store) TrajectoryDim() int {
	return s.trajectoryDim
}

// HasFTS reports whether course search uses the FTS5 index.
func (s *Store) HasFTS() bool {
	return s.fts
}

// --- Document operations ---

const documentColumns = `id, path, filename, format, content_hash, parse_method, status, pages, metadata, created_at, updated_at, COALESCE(text, '')`

func scanDocument(sc interface{ Scan(...any) error }) (*Document, error) {
	doc := &Document{}
	var metadata sql.NullString
	if err := sc.Scan(&doc.ID, &doc.Path, &doc.Filename, &doc.Format,
		&doc.ContentHash, &doc.ParseMethod, &doc.Status, &doc.Pages,
		&metadata, &doc.CreatedAt, &doc.UpdatedAt, &doc.Text); err != nil {
		return nil, err
	}
	doc.Metadata = metadata.String
	return doc, nil
}

// UpsertDocument inserts or updates a document record. Returns the document ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, filename, format, content_hash, parse_method, status, pages, metadata, text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			filename = excluded.filename,
			format = excluded.format,
			content_hash = excluded.content_hash,
			parse_method = excluded.parse_method,
			status = excluded.status,
			pages = excluded.pages,
			metadata = excluded.metadata,
			text = excluded.text,
			updated_at = CURRENT_TIMESTAMP
	`, doc.Path, doc.Filename, doc.Format, doc.ContentHash, doc.ParseMethod, doc.Status, doc.Pages, doc.Metadata, nullString(doc.Text))
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	// If UPSERT did an UPDATE, LastInsertId may not reflect the existing row.
	if id == 0 {
		row := s.db.QueryRowContext(ctx, "SELECT id FROM documents WHERE path = ?", doc.Path)
		if err := row.Scan(&id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// GetDocumentByPath retrieves a document by its file path.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE path = ?", path))
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id int64) (*Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus updates just the status field.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	return err
}

// DeleteDocument removes a document and its transcript links. Transcripts
// built from it are kept.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM transcript_documents WHERE document_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
}

// LinkDocuments attaches documents, in order, to an existing transcript.
// Links that already exist are left alone.
func (s *Store) LinkDocuments(ctx context.Context, transcriptID int64, docIDs []int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return linkDocuments(ctx, tx, transcriptID, docIDs)
	})
}

// --- Transcript operations ---

// InsertTranscript stores a transcript, its normalized semester and course
// rows, its document links and, when trajectory has the configured
// dimension, its GPA trajectory. Everything is written in one transaction.
func (s *Store) InsertTranscript(ctx context.Context, t Transcript, trajectory []float32) (int64, error) {
	if t.Record == nil {
		return 0, fmt.Errorf("transcript has no record")
	}
	recordJSON, err := json.Marshal(t.Record)
	if err != nil {
		return 0, fmt.Errorf("encoding record: %w", err)
	}
	rec := t.Record

	var id int64
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO transcripts (content_hash, label, program, cumulative_gpa,
				term_count, course_count, transfer_count, total_credits, record)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ContentHash, nullString(t.Label), rec.Program, rec.CumulativeGPA,
			len(rec.Semesters), rec.CourseCount(), len(rec.TransferCourses), rec.TotalCredits(),
			string(recordJSON))
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}

		if err := linkDocuments(ctx, tx, id, t.DocumentIDs); err != nil {
			return err
		}

		courseStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO courses (transcript_id, semester_id, position, code, name,
				credits, grade, grade_points, is_transfer)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer courseStmt.Close()

		for i, sem := range rec.Semesters {
			res, err := tx.ExecContext(ctx,
				"INSERT INTO semesters (transcript_id, position, term, gpa) VALUES (?, ?, ?, ?)",
				id, i, sem.Term, sem.GPA)
			if err != nil {
				return fmt.Errorf("inserting semester %q: %w", sem.Term, err)
			}
			semID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			for j, c := range sem.Courses {
				if _, err := courseStmt.ExecContext(ctx, id, semID, j,
					c.Code, c.Name, c.Credits, c.Grade, c.GradePoints, false); err != nil {
					return fmt.Errorf("inserting course %q: %w", c.Code, err)
				}
			}
		}
		for j, c := range rec.TransferCourses {
			if _, err := courseStmt.ExecContext(ctx, id, nil, j,
				c.Code, c.Name, c.Credits, c.Grade, c.GradePoints, true); err != nil {
				return fmt.Errorf("inserting transfer course %q: %w", c.Code, err)
			}
		}

		if len(trajectory) == s.trajectoryDim {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_transcripts (transcript_id, trajectory) VALUES (?, ?)",
				id, serializeFloat32(trajectory)); err != nil {
				return fmt.Errorf("inserting trajectory: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

const transcriptColumns = `id, content_hash, label, program, cumulative_gpa,
	term_count, course_count, transfer_count, total_credits, created_at`

func scanTranscript(sc interface{ Scan(...any) error }, withRecord bool) (*Transcript, error) {
	t := &Transcript{}
	var label sql.NullString
	var recordJSON string
	dest := []any{&t.ID, &t.ContentHash, &label, &t.Program, &t.CumulativeGPA,
		&t.TermCount, &t.CourseCount, &t.TransferCount, &t.TotalCredits, &t.CreatedAt}
	if withRecord {
		dest = append(dest, &recordJSON)
	}
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}
	t.Label = label.String
	if withRecord {
		t.Record = &extract.Record{}
		if err := json.Unmarshal([]byte(recordJSON), t.Record); err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", t.ID, err)
		}
	}
	return t, nil
}

func (s *Store) getTranscript(ctx context.Context, where string, arg any) (*Transcript, error) {
	t, err := scanTranscript(s.db.QueryRowContext(ctx,
		"SELECT "+transcriptColumns+", record FROM transcripts WHERE "+where, arg), true)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT document_id FROM transcript_documents WHERE transcript_id = ? ORDER BY position", t.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var docID int64
		if err := rows.Scan(&docID); err != nil {
			return nil, err
		}
		t.DocumentIDs = append(t.DocumentIDs, docID)
	}
	return t, rows.Err()
}

// GetTranscript retrieves a transcript with its record by ID.
func (s *Store) GetTranscript(ctx context.Context, id int64) (*Transcript, error) {
	return s.getTranscript(ctx, "id = ?", id)
}

// GetTranscriptByHash retrieves a transcript by the hash of its source text.
func (s *Store) GetTranscriptByHash(ctx context.Context, hash string) (*Transcript, error) {
	return s.getTranscript(ctx, "content_hash = ?", hash)
}

// ListTranscripts returns transcript summaries, newest first. Records are
// not decoded.
func (s *Store) ListTranscripts(ctx context.Context) ([]Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+transcriptColumns+" FROM transcripts ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		t, err := scanTranscript(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// DeleteTranscript removes a transcript and all rows derived from it.
// It returns sql.ErrNoRows when no such transcript exists.
func (s *Store) DeleteTranscript(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			"DELETE FROM vec_transcripts WHERE transcript_id = ?",
			"DELETE FROM courses WHERE transcript_id = ?", // triggers clean up FTS
			"DELETE FROM semesters WHERE transcript_id = ?",
			"DELETE FROM transcript_documents WHERE transcript_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM transcripts WHERE id = ?", id)
		if err != nil {
			return err
		}
		return requireAffected(res)
	})
}

// --- Search ---

// SimilarTranscripts performs a KNN search over GPA trajectories and
// returns the k nearest transcripts, closest first.
func (s *Store) SimilarTranscripts(ctx context.Context, trajectory []float32, k int) ([]Neighbor, error) {
	if len(trajectory) != s.trajectoryDim {
		return nil, fmt.Errorf("trajectory has dimension %d, want %d", len(trajectory), s.trajectoryDim)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.transcript_id, v.distance, t.label, t.program, t.cumulative_gpa
		FROM vec_transcripts v
		JOIN transcripts t ON t.id = v.transcript_id
		WHERE v.trajectory MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(trajectory), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		var label sql.NullString
		if err := rows.Scan(&n.TranscriptID, &n.Distance, &label, &n.Program, &n.CumulativeGPA); err != nil {
			return nil, err
		}
		n.Label = label.String
		out = append(out, n)
	}
	return out, rows.Err()
}

// SearchCourses finds course rows whose code or name matches query. It uses
// the FTS5 index when available and a case-insensitive substring match
// otherwise.
func (s *Store) SearchCourses(ctx context.Context, query string, limit int) ([]CourseMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	const selectCols = `
		SELECT c.transcript_id, COALESCE(sm.term, ''), c.code, c.name, c.credits,
			c.grade, c.grade_points, c.is_transfer
		FROM courses c
		LEFT JOIN semesters sm ON sm.id = c.semester_id`

	var (
		rows *sql.Rows
		err  error
	)
	if s.fts {
		rows, err = s.db.QueryContext(ctx, selectCols+`
			JOIN courses_fts f ON f.rowid = c.id
			WHERE courses_fts MATCH ?
			ORDER BY f.rank
			LIMIT ?`, ftsQuery(query), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, selectCols+`
			WHERE LOWER(c.code) LIKE '%' || LOWER(?) || '%'
			   OR LOWER(c.name) LIKE '%' || LOWER(?) || '%'
			ORDER BY c.transcript_id, c.id
			LIMIT ?`, query, query, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CourseMatch
	for rows.Next() {
		var m CourseMatch
		if err := rows.Scan(&m.TranscriptID, &m.Term, &m.Code, &m.Name, &m.Credits,
			&m.Grade, &m.GradePoints, &m.IsTransfer); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ftsQuery quotes every token so user input cannot trip FTS5 syntax.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " ")
}

// Stats holds counts of key database objects.
type Stats struct {
	Documents       int `json:"documents"`
	Transcripts     int `json:"transcripts"`
	Semesters       int `json:"semesters"`
	Courses         int `json:"courses"`
	TransferCourses int `json:"transfer_courses"`
	Trajectories    int `json:"trajectories"`
}

// Stats returns row counts for the main tables.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM transcripts", &stats.Transcripts},
		{"SELECT COUNT(*) FROM semesters", &stats.Semesters},
		{"SELECT COUNT(*) FROM courses WHERE is_transfer = 0", &stats.Courses},
		{"SELECT COUNT(*) FROM courses WHERE is_transfer = 1", &stats.TransferCourses},
		{"SELECT COUNT(*) FROM vec_transcripts", &stats.Trajectories},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func linkDocuments(ctx context.Context, tx *sql.Tx, transcriptID int64, docIDs []int64) error {
	for i, docID := range docIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO transcript_documents (transcript_id, document_id, position) VALUES (?, ?, ?)",
			transcriptID, docID, i); err != nil {
			return fmt.Errorf("linking document %d: %w", docID, err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
