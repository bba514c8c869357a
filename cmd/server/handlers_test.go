package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/gotranscript"
	"github.com/brunobiangulo/gotranscript/extract"
	"github.com/brunobiangulo/gotranscript/store"
)

// fakeEngine is an in-memory Engine for handler tests.
type fakeEngine struct {
	transcripts map[int64]*gotranscript.Transcript
	documents   map[int64]bool
	ingested    [][]string
	ingestErr   error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		transcripts: make(map[int64]*gotranscript.Transcript),
		documents:   make(map[int64]bool),
	}
}

func (f *fakeEngine) Extract(ctx context.Context, text string) (*extract.Record, error) {
	return extract.Extract(text), nil
}

func (f *fakeEngine) Ingest(ctx context.Context, paths []string, opts ...gotranscript.IngestOption) (*gotranscript.IngestResult, error) {
	if f.ingestErr != nil {
		return nil, f.ingestErr
	}
	f.ingested = append(f.ingested, paths)
	var text []string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		text = append(text, string(data))
	}
	id := int64(len(f.transcripts) + 1)
	t := &gotranscript.Transcript{ID: id, Record: extract.Extract(strings.Join(text, "\n"))}
	f.transcripts[id] = t
	return &gotranscript.IngestResult{Transcript: t}, nil
}

func (f *fakeEngine) Get(ctx context.Context, id int64) (*gotranscript.Transcript, error) {
	t, ok := f.transcripts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", gotranscript.ErrTranscriptNotFound, id)
	}
	return t, nil
}

func (f *fakeEngine) List(ctx context.Context) ([]gotranscript.Transcript, error) {
	var out []gotranscript.Transcript
	for _, t := range f.transcripts {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeEngine) Delete(ctx context.Context, id int64) error {
	if _, ok := f.transcripts[id]; !ok {
		return gotranscript.ErrTranscriptNotFound
	}
	delete(f.transcripts, id)
	return nil
}

func (f *fakeEngine) Similar(ctx context.Context, id int64, k int) ([]gotranscript.Neighbor, error) {
	if _, ok := f.transcripts[id]; !ok {
		return nil, gotranscript.ErrTranscriptNotFound
	}
	return nil, nil
}

func (f *fakeEngine) SearchCourses(ctx context.Context, query string, limit int) ([]gotranscript.CourseMatch, error) {
	return []gotranscript.CourseMatch{{TranscriptID: 1, Code: "CPS 109", Name: query}}, nil
}

func (f *fakeEngine) ExportXLSX(ctx context.Context, id int64) ([]byte, error) {
	if _, ok := f.transcripts[id]; !ok {
		return nil, gotranscript.ErrTranscriptNotFound
	}
	return []byte("PK-fake"), nil
}

func (f *fakeEngine) ListDocuments(ctx context.Context) ([]gotranscript.Document, error) {
	return nil, nil
}

func (f *fakeEngine) DeleteDocument(ctx context.Context, id int64) error {
	if !f.documents[id] {
		return fmt.Errorf("%w: %d", gotranscript.ErrDocumentNotFound, id)
	}
	delete(f.documents, id)
	return nil
}

func (f *fakeEngine) Store() *store.Store { return nil }
func (f *fakeEngine) Close() error        { return nil }

const sampleText = "Program COMPUTER SCIENCE Major Fall 2023 Term GPA 3.500 CPS 109 Computer Science I 1.000 A- 3.670 End of Transcript Cum GPA: 3.500"

func newTestServer(t *testing.T, eng *fakeEngine, apiKey string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(chain(newHandler(eng, 1<<20).routes(), apiKey, ""))
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// ---------------------------------------------------------------------------
// /extract
// ---------------------------------------------------------------------------

func TestExtractJSON(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(), "")

	body, _ := json.Marshal(map[string]string{"text": sampleText})
	resp, err := http.Post(srv.URL+"/extract", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Error("missing X-Request-ID header")
	}

	var rec extract.Record
	decode(t, resp, &rec)
	if rec.Program == nil || *rec.Program != "COMPUTER SCIENCE" {
		t.Errorf("program = %v", rec.Program)
	}
	if len(rec.Semesters) != 1 || rec.Semesters[0].Term != "Fall 2023" {
		t.Errorf("semesters = %+v", rec.Semesters)
	}
}

func TestExtractPlainText(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(), "")

	resp, err := http.Post(srv.URL+"/extract", "text/plain; charset=utf-8", strings.NewReader(sampleText))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	decode(t, resp, &raw)
	for _, key := range []string{"program", "semesters", "cumulativeGpa", "transferCourses"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("response missing %q: %v", key, raw)
		}
	}
}

func TestExtractBadJSON(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(), "")
	resp, err := http.Post(srv.URL+"/extract", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// ---------------------------------------------------------------------------
// /ingest
// ---------------------------------------------------------------------------

func TestIngestMultipartKeepsOrder(t *testing.T) {
	eng := newFakeEngine()
	srv := newTestServer(t, eng, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, part := range []struct{ name, body string }{
		{"page1.txt", "Program COMPUTER SCIENCE Major Fall 2023 Term GPA 3.500"},
		{"page2.txt", "Winter 2024 Term GPA 3.000 Cum GPA: 3.250"},
	} {
		fw, err := mw.CreateFormFile("file", part.name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(part.body))
	}
	mw.WriteField("label", "student-a")
	mw.Close()

	resp, err := http.Post(srv.URL+"/ingest", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var res gotranscript.IngestResult
	decode(t, resp, &res)

	if len(eng.ingested) != 1 || len(eng.ingested[0]) != 2 {
		t.Fatalf("ingested = %v, want one call with two files", eng.ingested)
	}
	if !strings.HasPrefix(filepath.Base(eng.ingested[0][0]), "00-") ||
		!strings.HasPrefix(filepath.Base(eng.ingested[0][1]), "01-") {
		t.Errorf("upload paths not ordered: %v", eng.ingested[0])
	}
	if len(res.Transcript.Record.Semesters) != 2 {
		t.Errorf("record semesters = %+v, want 2", res.Transcript.Record.Semesters)
	}
}

func TestIngestJSONPaths(t *testing.T) {
	eng := newFakeEngine()
	srv := newTestServer(t, eng, "")

	path := filepath.Join(t.TempDir(), "t.txt")
	if err := os.WriteFile(path, []byte(sampleText), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"existing file", fmt.Sprintf(`{"paths": [%q]}`, path), http.StatusCreated},
		{"no paths", `{"paths": []}`, http.StatusBadRequest},
		{"directory", fmt.Sprintf(`{"paths": [%q]}`, filepath.Dir(path)), http.StatusBadRequest},
		{"missing file", `{"paths": ["/definitely/not/here.txt"]}`, http.StatusBadRequest},
		{"bad json", `nope`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/ingest", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestIngestErrorMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	body := fmt.Sprintf(`{"paths": [%q]}`, path)

	tests := []struct {
		err    error
		status int
	}{
		{gotranscript.ErrNotATranscript, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: pptx", gotranscript.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		{fmt.Errorf("scan.pdf: %w", gotranscript.ErrNoTextLayer), http.StatusUnprocessableEntity},
		{gotranscript.ErrStoreClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			eng := newFakeEngine()
			eng.ingestErr = tt.err
			srv := newTestServer(t, eng, "")
			resp, err := http.Post(srv.URL+"/ingest", "application/json", strings.NewReader(body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// /transcripts
// ---------------------------------------------------------------------------

func TestTranscriptRoutes(t *testing.T) {
	eng := newFakeEngine()
	eng.transcripts[1] = &gotranscript.Transcript{ID: 1, Record: extract.Extract(sampleText)}
	srv := newTestServer(t, eng, "")

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := get("/transcripts/1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /transcripts/1 status = %d", resp.StatusCode)
	}
	var tr gotranscript.Transcript
	decode(t, resp, &tr)
	if tr.ID != 1 || tr.Record == nil {
		t.Errorf("transcript = %+v", tr)
	}

	resp = get("/transcripts/2")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET missing transcript status = %d, want 404", resp.StatusCode)
	}

	resp = get("/transcripts/abc")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("GET bad id status = %d, want 400", resp.StatusCode)
	}

	resp = get("/transcripts/1/xlsx")
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("xlsx content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "transcript-1.xlsx") {
		t.Errorf("content disposition = %q", cd)
	}

	resp = get("/transcripts/1/similar?k=3")
	var sim struct {
		Neighbors []gotranscript.Neighbor `json:"neighbors"`
	}
	decode(t, resp, &sim)
	if sim.Neighbors == nil {
		t.Error("neighbors should be an empty array, not null")
	}

	resp = get("/transcripts")
	var list struct {
		Transcripts []gotranscript.Transcript `json:"transcripts"`
	}
	decode(t, resp, &list)
	if len(list.Transcripts) != 1 {
		t.Errorf("list = %+v", list.Transcripts)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/transcripts/1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("DELETE status = %d", resp.StatusCode)
	}
	if _, ok := eng.transcripts[1]; ok {
		t.Error("transcript not deleted")
	}
}

func TestDeleteDocumentRoute(t *testing.T) {
	eng := newFakeEngine()
	eng.documents[7] = true
	srv := newTestServer(t, eng, "")

	del := func(path string) int {
		t.Helper()
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := del("/documents/7"); got != http.StatusOK {
		t.Errorf("DELETE /documents/7 = %d, want 200", got)
	}
	if eng.documents[7] {
		t.Error("document not deleted")
	}
	if got := del("/documents/7"); got != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", got)
	}
	if got := del("/documents/x"); got != http.StatusBadRequest {
		t.Errorf("DELETE bad id = %d, want 400", got)
	}
}

func TestSearchCoursesRequiresQuery(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(), "")

	resp, err := http.Get(srv.URL + "/courses/search")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/courses/search?q=calculus")
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Courses []gotranscript.CourseMatch `json:"courses"`
	}
	decode(t, resp, &out)
	if len(out.Courses) != 1 || out.Courses[0].Name != "calculus" {
		t.Errorf("courses = %+v", out.Courses)
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(), "secret")

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health without key = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/transcripts")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("transcripts without key = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/transcripts", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("transcripts with key = %d, want 200", resp.StatusCode)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(), "")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(requestIDHeader); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestStatsWithoutStore(t *testing.T) {
	srv := newTestServer(t, newFakeEngine(), "")
	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
