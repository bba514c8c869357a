package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brunobiangulo/gotranscript"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type handler struct {
	engine    gotranscript.Engine
	maxUpload int64
}

func newHandler(e gotranscript.Engine, maxUpload int64) *handler {
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &handler{engine: e, maxUpload: maxUpload}
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /extract", h.handleExtract)
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("GET /transcripts", h.handleListTranscripts)
	mux.HandleFunc("GET /transcripts/{id}", h.handleGetTranscript)
	mux.HandleFunc("GET /transcripts/{id}/xlsx", h.handleExportXLSX)
	mux.HandleFunc("GET /transcripts/{id}/similar", h.handleSimilar)
	mux.HandleFunc("DELETE /transcripts/{id}", h.handleDeleteTranscript)
	mux.HandleFunc("GET /courses/search", h.handleSearchCourses)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

// POST /extract
// Accepts JSON {"text": "..."} or a text/plain body. Nothing is stored.
func (h *handler) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var text string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/plain" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		text = string(data)
	} else {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request: expected JSON with 'text' or a text/plain body")
			return
		}
		text = req.Text
	}

	rec, err := h.engine.Extract(r.Context(), text)
	if err != nil {
		writeEngineError(w, "extract", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// POST /ingest
// Accepts a multipart upload with one or more "file" parts, in page order,
// or JSON with server-side paths.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		h.ingestUpload(ctx, w, r)
		return
	}

	var req struct {
		Paths      []string `json:"paths"`
		Label      string   `json:"label,omitempty"`
		Force      bool     `json:"force,omitempty"`
		AllowEmpty bool     `json:"allow_empty,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart files or JSON with 'paths'")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths is required")
		return
	}

	// Only existing regular files; keeps directory probing out.
	paths := make([]string, len(req.Paths))
	for i, p := range req.Paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid path")
			return
		}
		info, err := os.Stat(absPath)
		if err != nil || info.IsDir() {
			writeError(w, http.StatusBadRequest, "path must be an existing file: "+p)
			return
		}
		paths[i] = absPath
	}

	h.ingest(ctx, w, paths, ingestOptions(req.Label, req.Force, req.AllowEmpty))
}

func (h *handler) ingestUpload(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "at least one 'file' part is required")
		return
	}

	tmpDir, err := os.MkdirTemp("", "gotranscript-upload-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process upload")
		slog.Error("creating upload dir", "error", err)
		return
	}
	defer os.RemoveAll(tmpDir)

	paths := make([]string, 0, len(files))
	for i, fh := range files {
		// Sanitise filename to prevent path traversal; the prefix keeps
		// page order and avoids collisions.
		safeName := fmt.Sprintf("%02d-%s", i, filepath.Base(fh.Filename))
		dstPath := filepath.Join(tmpDir, safeName)
		if err := saveUpload(fh, dstPath); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save file")
			slog.Error("saving uploaded file", "file", fh.Filename, "error", err)
			return
		}
		paths = append(paths, dstPath)
	}

	force, _ := strconv.ParseBool(r.FormValue("force"))
	allowEmpty, _ := strconv.ParseBool(r.FormValue("allow_empty"))
	h.ingest(ctx, w, paths, ingestOptions(r.FormValue("label"), force, allowEmpty))
}

func saveUpload(fh *multipart.FileHeader, dstPath string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func ingestOptions(label string, force, allowEmpty bool) []gotranscript.IngestOption {
	var opts []gotranscript.IngestOption
	if label != "" {
		opts = append(opts, gotranscript.WithLabel(label))
	}
	if force {
		opts = append(opts, gotranscript.WithForceReparse())
	}
	if allowEmpty {
		opts = append(opts, gotranscript.WithAllowEmpty())
	}
	return opts
}

func (h *handler) ingest(ctx context.Context, w http.ResponseWriter, paths []string, opts []gotranscript.IngestOption) {
	res, err := h.engine.Ingest(ctx, paths, opts...)
	if err != nil {
		writeEngineError(w, "ingest", err)
		return
	}
	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// GET /transcripts
func (h *handler) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	ts, err := h.engine.List(r.Context())
	if err != nil {
		writeEngineError(w, "list transcripts", err)
		return
	}
	if ts == nil {
		ts = []gotranscript.Transcript{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": ts})
}

// GET /transcripts/{id}
func (h *handler) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.engine.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, "get transcript", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GET /transcripts/{id}/xlsx
func (h *handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	data, err := h.engine.ExportXLSX(r.Context(), id)
	if err != nil {
		writeEngineError(w, "export xlsx", err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="transcript-%d.xlsx"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GET /transcripts/{id}/similar?k=5
func (h *handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	k := queryInt(r, "k", 5, 1, 50)
	neighbors, err := h.engine.Similar(r.Context(), id, k)
	if err != nil {
		writeEngineError(w, "similar", err)
		return
	}
	if neighbors == nil {
		neighbors = []gotranscript.Neighbor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcript_id": id, "neighbors": neighbors})
}

// DELETE /transcripts/{id}
func (h *handler) handleDeleteTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeEngineError(w, "delete transcript", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		writeEngineError(w, "delete document", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /courses/search?q=calculus&limit=20
func (h *handler) handleSearchCourses(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := queryInt(r, "limit", 20, 1, 200)
	matches, err := h.engine.SearchCourses(r.Context(), q, limit)
	if err != nil {
		writeEngineError(w, "search courses", err)
		return
	}
	if matches == nil {
		matches = []gotranscript.CourseMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "courses": matches})
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeEngineError(w, "list documents", err)
		return
	}
	if docs == nil {
		docs = []gotranscript.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Store()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	stats, err := st.Stats(r.Context())
	if err != nil {
		writeEngineError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":            stats,
		"full_text_search": st.HasFTS(),
		"trajectory_dim":   st.TrajectoryDim(),
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid transcript id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def, lo, hi int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return max(lo, min(v, hi))
}

// writeEngineError maps engine sentinels to HTTP statuses. Unexpected
// errors are logged and reported without detail.
func writeEngineError(w http.ResponseWriter, op string, err error) {
	var status int
	switch {
	case errors.Is(err, gotranscript.ErrTranscriptNotFound), errors.Is(err, gotranscript.ErrDocumentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gotranscript.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, gotranscript.ErrNotATranscript),
		errors.Is(err, gotranscript.ErrNoTextLayer),
		errors.Is(err, gotranscript.ErrParsingFailed),
		errors.Is(err, gotranscript.ErrInvalidRecord):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, gotranscript.ErrStoreClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status = http.StatusGatewayTimeout
	default:
		slog.Error(op+" error", "error", err)
		writeError(w, http.StatusInternalServerError, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
