package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/pdftrans/internal/document"
	"github.com/dgallion1/pdftrans/internal/parser"
	"github.com/dgallion1/pdftrans/internal/pipeline"
	"github.com/dgallion1/pdftrans/internal/render"
	"github.com/dgallion1/pdftrans/internal/session"
	"github.com/go-chi/chi/v5"
)

// sessionView is the session state plus the translation so far.
type sessionView struct {
	session.Snapshot
	Text string `json:"text"`
	HTML string `json:"html"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	if n := countFiles(r); n != 1 {
		jsonError(w, fmt.Sprintf("exactly one file is required, got %d", n), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsPDFExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusUnsupportedMediaType)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	upload := document.UploadedFile{Filename: filename, Data: data}
	if err := parser.CheckUpload(upload); err != nil {
		jsonError(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	id := r.FormValue("session_id")
	if id != "" && s.orchestrator.Sessions().Get(id) == nil {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}

	sess := session.New(s.baseCtx, id, upload)
	if err := s.orchestrator.Submit(sess); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.log.Info("session submitted", "session_id", sess.ID, "filename", filename, "bytes", len(data), "reupload", id != "")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"session_id": sess.ID,
		"status":     sess.Status(),
		"stream_url": fmt.Sprintf("/api/sessions/%s/stream", sess.ID),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.orchestrator.Sessions().Get(chi.URLParam(r, "id"))
	if sess == nil {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}

	text := sess.Accumulator().String()
	html, err := render.Markdown(text)
	if err != nil {
		s.log.Warn("markdown render failed", "session_id", sess.ID, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessionView{
		Snapshot: sess.Snapshot(),
		Text:     text,
		HTML:     html,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orchestrator.Retry(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, pipeline.ErrSessionNotFound):
		jsonError(w, "session not found", http.StatusNotFound)
		return
	case errors.Is(err, pipeline.ErrNotRetryable):
		jsonError(w, fmt.Sprintf("session is %s, only failed sessions can be retried", sess.Status()), http.StatusConflict)
		return
	case err != nil:
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.orchestrator.Sessions().Delete(id) {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}
	s.log.Info("session deleted", "session_id", id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"session_id": id,
		"deleted":    true,
	})
}

func countFiles(r *http.Request) int {
	n := 0
	for _, fhs := range r.MultipartForm.File {
		n += len(fhs)
	}
	return n
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
