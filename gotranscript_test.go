//go:build cgo

package gotranscript

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/gotranscript/extract"
)

const (
	transcriptA = "Program COMPUTER SCIENCE Major " +
		"Transfer Credits MTH 1XX Calculus I 1.000 CRT 0.000 Beginning of Undergraduate Record " +
		"Fall 2023 Term GPA 3.500 CPS 109 Computer Science I 1.000 A- 3.670 " +
		"Winter 2024 Term GPA 3.000 CPS 209 Computer Science II 1.000 B 3.000 " +
		"End of Transcript Cum GPA: 3.250"

	transcriptB = "Program MATHEMATICS Major " +
		"Fall 2021 Term GPA 3.400 MTH 110 Discrete Mathematics I 1.000 A- 3.670 " +
		"Winter 2022 Term GPA 3.100 MTH 210 Linear Algebra 1.000 B+ 3.330 " +
		"End of Transcript Cum GPA: 3.250"
)

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.TrajectoryDim = 4
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "x.db")
	cfg.StorageDir = "nowhere"
	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New = %v, want ErrInvalidConfig", err)
	}
}

func TestNewRejectsUncompilableLabels(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "x.db")
	cfg.Extract.Labels.Seasons = []string{" "}
	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New = %v, want ErrInvalidConfig", err)
	}
}

// ---------------------------------------------------------------------------
// Extract
// ---------------------------------------------------------------------------

func TestEngineExtract(t *testing.T) {
	e := newTestEngine(t)
	got, err := e.Extract(context.Background(), transcriptA)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if diff := cmp.Diff(extract.Extract(transcriptA), got); diff != "" {
		t.Errorf("engine extract differs from default extractor (-want +got):\n%s", diff)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Extract(ctx, transcriptA); !errors.Is(err, context.Canceled) {
		t.Errorf("Extract with cancelled context = %v, want context.Canceled", err)
	}
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

func TestIngestTextFile(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	path := writeFile(t, "a.txt", transcriptA)

	res, err := e.Ingest(ctx, []string{path}, WithLabel("student-a"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Existing {
		t.Error("first ingest reported Existing")
	}
	tr := res.Transcript
	if tr.Label != "student-a" {
		t.Errorf("label = %q, want student-a", tr.Label)
	}
	if tr.TermCount != 2 || tr.CourseCount != 2 || tr.TransferCount != 1 {
		t.Errorf("counts = %d terms, %d courses, %d transfer; want 2, 2, 1",
			tr.TermCount, tr.CourseCount, tr.TransferCount)
	}
	if tr.Program == nil || *tr.Program != "COMPUTER SCIENCE" {
		t.Errorf("program = %v", tr.Program)
	}
	if diff := cmp.Diff(extract.Extract(transcriptA), tr.Record); diff != "" {
		t.Errorf("stored record mismatch (-want +got):\n%s", diff)
	}
	if len(res.Documents) != 1 || res.Documents[0].Status != "ready" {
		t.Errorf("documents = %+v, want one ready document", res.Documents)
	}
	if len(tr.DocumentIDs) != 1 || tr.DocumentIDs[0] != res.Documents[0].ID {
		t.Errorf("document ids = %v, want [%d]", tr.DocumentIDs, res.Documents[0].ID)
	}

	again, err := e.Ingest(ctx, []string{path})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if !again.Existing || again.Transcript.ID != tr.ID {
		t.Errorf("second ingest = existing %v id %d, want existing id %d",
			again.Existing, again.Transcript.ID, tr.ID)
	}
}

func TestIngestConcatenatesDocuments(t *testing.T) {
	e := newTestEngine(t)
	page1 := writeFile(t, "p1.txt",
		"Program COMPUTER SCIENCE Major Fall 2023 Term GPA 3.500 CPS 109 Computer Science I 1.000 A- 3.670")
	page2 := writeFile(t, "p2.txt",
		"Winter 2024 Term GPA 3.000 CPS 209 Computer Science II 1.000 B 3.000 End of Transcript Cum GPA: 3.250")

	res, err := e.Ingest(context.Background(), []string{page1, page2})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	rec := res.Transcript.Record
	if len(rec.Semesters) != 2 {
		t.Fatalf("semesters = %d, want 2", len(rec.Semesters))
	}
	if rec.Semesters[0].Term != "Fall 2023" || rec.Semesters[1].Term != "Winter 2024" {
		t.Errorf("terms = %q, %q", rec.Semesters[0].Term, rec.Semesters[1].Term)
	}
	if rec.CumulativeGPA == nil || *rec.CumulativeGPA != 3.25 {
		t.Errorf("cumulative GPA = %v, want 3.25", rec.CumulativeGPA)
	}
	if len(res.Transcript.DocumentIDs) != 2 {
		t.Errorf("document ids = %v, want 2 in order", res.Transcript.DocumentIDs)
	}
}

func TestIngestExistingLinksNewDocuments(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Ingest(ctx, []string{writeFile(t, "a.txt", transcriptA)})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	again, err := e.Ingest(ctx, []string{writeFile(t, "copy.txt", transcriptA)})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if !again.Existing || again.Transcript.ID != first.Transcript.ID {
		t.Fatalf("second ingest = existing %v id %d", again.Existing, again.Transcript.ID)
	}
	if again.Documents[0].Status != "ready" {
		t.Errorf("new document status = %q, want ready", again.Documents[0].Status)
	}
	if len(again.Transcript.DocumentIDs) != 2 {
		t.Errorf("document ids = %v, want both documents linked", again.Transcript.DocumentIDs)
	}

	docs, err := e.ListDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range docs {
		if d.Status != "ready" {
			t.Errorf("document %s status = %q, want ready", d.Filename, d.Status)
		}
	}
}

func TestIngestReusesUnchangedDocumentText(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	path := writeFile(t, "a.txt", transcriptA)

	if _, err := e.Ingest(ctx, []string{path}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	doc, err := e.Store().GetDocumentByPath(ctx, path)
	if err != nil {
		t.Fatalf("GetDocumentByPath: %v", err)
	}
	if doc.Text != transcriptA {
		t.Fatalf("stored text = %q", doc.Text)
	}

	// Swap the stored text while the file stays the same: the next ingest
	// must read the stored copy rather than parse the file.
	if _, err := e.Store().DB().ExecContext(ctx,
		"UPDATE documents SET text = ? WHERE id = ?", transcriptB, doc.ID); err != nil {
		t.Fatal(err)
	}
	res, err := e.Ingest(ctx, []string{path})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if p := res.Transcript.Program; p == nil || *p != "MATHEMATICS" {
		t.Errorf("program = %v, want MATHEMATICS from stored text", p)
	}

	forced, err := e.Ingest(ctx, []string{path}, WithForceReparse())
	if err != nil {
		t.Fatalf("forced Ingest: %v", err)
	}
	if p := forced.Transcript.Program; p == nil || *p != "COMPUTER SCIENCE" {
		t.Errorf("program = %v, want COMPUTER SCIENCE after reparse", p)
	}
}

func TestIngestForceReparseReplaces(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	path := writeFile(t, "a.txt", transcriptA)

	first, err := e.Ingest(ctx, []string{path})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	second, err := e.Ingest(ctx, []string{path}, WithForceReparse())
	if err != nil {
		t.Fatalf("forced Ingest: %v", err)
	}
	if second.Existing {
		t.Error("forced ingest reported Existing")
	}
	if _, err := e.Get(ctx, first.Transcript.ID); !errors.Is(err, ErrTranscriptNotFound) {
		t.Errorf("old transcript still present: %v", err)
	}
	list, err := e.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("List = %d transcripts, want 1", len(list))
	}
}

func TestIngestRejectsNonTranscript(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	path := writeFile(t, "memo.txt", "Meeting notes: nothing about grades here.")

	if _, err := e.Ingest(ctx, []string{path}); !errors.Is(err, ErrNotATranscript) {
		t.Fatalf("Ingest = %v, want ErrNotATranscript", err)
	}
	docs, err := e.ListDocuments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Status != "error" {
		t.Errorf("documents = %+v, want one errored document", docs)
	}

	res, err := e.Ingest(ctx, []string{path}, WithAllowEmpty())
	if err != nil {
		t.Fatalf("Ingest WithAllowEmpty: %v", err)
	}
	if !res.Transcript.Record.IsEmpty() {
		t.Errorf("record = %+v, want empty", res.Transcript.Record)
	}
}

func TestIngestErrors(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Ingest(ctx, nil); err == nil {
		t.Error("expected error for no paths")
	}
	if _, err := e.Ingest(ctx, []string{writeFile(t, "slides.pptx", "x")}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("pptx ingest = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := e.Ingest(ctx, []string{filepath.Join(t.TempDir(), "missing.txt")}); err == nil {
		t.Error("expected error for missing file")
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func TestGetListDelete(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Ingest(ctx, []string{writeFile(t, "a.txt", transcriptA)})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	id := res.Transcript.ID

	got, err := e.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Record == nil || len(got.Record.Semesters) != 2 {
		t.Errorf("Get record = %+v", got.Record)
	}

	list, err := e.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != id || list[0].Record != nil {
		t.Errorf("List = %+v, want one summary without record", list)
	}

	if err := e.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := e.Get(ctx, id); !errors.Is(err, ErrTranscriptNotFound) {
		t.Errorf("Get after delete = %v, want ErrTranscriptNotFound", err)
	}
	if err := e.Delete(ctx, id); !errors.Is(err, ErrTranscriptNotFound) {
		t.Errorf("second Delete = %v, want ErrTranscriptNotFound", err)
	}
}

func TestSimilarExcludesSelf(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Ingest(ctx, []string{writeFile(t, "a.txt", transcriptA)})
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Ingest(ctx, []string{writeFile(t, "b.txt", transcriptB)})
	if err != nil {
		t.Fatal(err)
	}

	neighbors, err := e.Similar(ctx, a.Transcript.ID, 5)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].TranscriptID != b.Transcript.ID {
		t.Fatalf("Similar = %+v, want only transcript %d", neighbors, b.Transcript.ID)
	}
	if _, err := e.Similar(ctx, 9999, 5); !errors.Is(err, ErrTranscriptNotFound) {
		t.Errorf("Similar(missing) = %v, want ErrTranscriptNotFound", err)
	}
}

func TestSearchCourses(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.Ingest(ctx, []string{writeFile(t, "a.txt", transcriptA)}); err != nil {
		t.Fatal(err)
	}

	got, err := e.SearchCourses(ctx, "Computer Science", 10)
	if err != nil {
		t.Fatalf("SearchCourses: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("SearchCourses = %d matches, want 2: %+v", len(got), got)
	}

	got, err = e.SearchCourses(ctx, "  ", 10)
	if err != nil || got != nil {
		t.Errorf("blank query = %v, %v; want nil, nil", got, err)
	}
}

func TestExportXLSX(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	res, err := e.Ingest(ctx, []string{writeFile(t, "a.txt", transcriptA)})
	if err != nil {
		t.Fatal(err)
	}

	data, err := e.ExportXLSX(ctx, res.Transcript.ID)
	if err != nil {
		t.Fatalf("ExportXLSX: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("opening workbook: %v", err)
	}
	defer f.Close()
	if idx, _ := f.GetSheetIndex("Courses"); idx < 0 {
		t.Errorf("workbook sheets = %v, want a Courses sheet", f.GetSheetList())
	}

	if _, err := e.ExportXLSX(ctx, 9999); !errors.Is(err, ErrTranscriptNotFound) {
		t.Errorf("ExportXLSX(missing) = %v, want ErrTranscriptNotFound", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Ingest(ctx, []string{writeFile(t, "a.txt", transcriptA)})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	docID := res.Documents[0].ID

	if err := e.DeleteDocument(ctx, docID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if err := e.DeleteDocument(ctx, docID); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("second DeleteDocument = %v, want ErrDocumentNotFound", err)
	}

	tr, err := e.Get(ctx, res.Transcript.ID)
	if err != nil {
		t.Fatalf("transcript removed with its document: %v", err)
	}
	if len(tr.DocumentIDs) != 0 {
		t.Errorf("document ids = %v, want none", tr.DocumentIDs)
	}
}

func TestClosedEngine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "closed.db")
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("second Close = %v, want ErrStoreClosed", err)
	}
	if _, err := e.List(context.Background()); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("List after Close = %v, want ErrStoreClosed", err)
	}
	if _, err := e.Ingest(context.Background(), []string{"x.txt"}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Ingest after Close = %v, want ErrStoreClosed", err)
	}
}
