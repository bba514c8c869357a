package store

import "fmt"

// schemaSQL returns the DDL for all tables. trajectoryDim controls the
// vec0 virtual table dimension.
func schemaSQL(trajectoryDim int) string {
	return fmt.Sprintf(`
-- Source documents with hash-based change detection
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    format TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    parse_method TEXT NOT NULL,
    status TEXT DEFAULT 'pending',
    pages INTEGER DEFAULT 0,
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One extracted record per distinct concatenated text
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY,
    content_hash TEXT NOT NULL UNIQUE,
    label TEXT,
    program TEXT,
    cumulative_gpa REAL,
    term_count INTEGER NOT NULL DEFAULT 0,
    course_count INTEGER NOT NULL DEFAULT 0,
    transfer_count INTEGER NOT NULL DEFAULT 0,
    total_credits REAL NOT NULL DEFAULT 0,
    record JSON NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Documents whose text, in position order, produced a transcript
CREATE TABLE IF NOT EXISTS transcript_documents (
    transcript_id INTEGER NOT NULL REFERENCES transcripts(id) ON DELETE CASCADE,
    document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    PRIMARY KEY (transcript_id, document_id)
);

CREATE TABLE IF NOT EXISTS semesters (
    id INTEGER PRIMARY KEY,
    transcript_id INTEGER NOT NULL REFERENCES transcripts(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    term TEXT NOT NULL,
    gpa REAL,
    UNIQUE(transcript_id, term)
);

-- Term courses carry a semester; transfer courses do not
CREATE TABLE IF NOT EXISTS courses (
    id INTEGER PRIMARY KEY,
    transcript_id INTEGER NOT NULL REFERENCES transcripts(id) ON DELETE CASCADE,
    semester_id INTEGER REFERENCES semesters(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    credits REAL NOT NULL,
    grade TEXT NOT NULL,
    grade_points REAL,
    is_transfer INTEGER NOT NULL DEFAULT 0
);

-- Term GPA trajectories via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_transcripts USING vec0(
    transcript_id INTEGER PRIMARY KEY,
    trajectory float[%d]
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_transcript_documents_doc ON transcript_documents(document_id);
CREATE INDEX IF NOT EXISTS idx_semesters_transcript ON semesters(transcript_id);
CREATE INDEX IF NOT EXISTS idx_courses_transcript ON courses(transcript_id);
CREATE INDEX IF NOT EXISTS idx_courses_semester ON courses(semester_id);
`, trajectoryDim)
}

// ftsSQL creates the optional course full-text index. It fails on sqlite
// builds without FTS5, in which case course search falls back to LIKE.
const ftsSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS courses_fts USING fts5(
    code,
    name,
    content='courses',
    content_rowid='id',
    tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS courses_ai AFTER INSERT ON courses BEGIN
    INSERT INTO courses_fts(rowid, code, name) VALUES (new.id, new.code, new.name);
END;
CREATE TRIGGER IF NOT EXISTS courses_ad AFTER DELETE ON courses BEGIN
    INSERT INTO courses_fts(courses_fts, rowid, code, name) VALUES ('delete', old.id, old.code, old.name);
END;
`
