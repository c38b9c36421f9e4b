package api

import (
	"encoding/json"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/lumidoc/lumi/internal/docstore"
)

// handleGetDocument returns the persisted document for a paper version as
// currently assembled, whatever its loading status.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")
	version := chi.URLParam(r, "version")
	key := docstore.RecordKey(paperID, version)

	rec, err := s.store.GetRecord(r.Context(), key)
	if err != nil {
		jsonError(w, "failed to load record: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"paperId":   rec.PaperID,
		"version":   rec.Version,
		"updatedAt": rec.UpdatedAt,
		"doc":       rec.Doc(),
	})
}

// handleGetFile serves stored assets (figure images) by locator key.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		jsonError(w, "file key is required", http.StatusBadRequest)
		return
	}
	data, err := s.assets.Retrieve(key)
	if err != nil {
		jsonError(w, "file not found", http.StatusNotFound)
		return
	}
	ctype := mime.TypeByExtension(filepath.Ext(key))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Write(data)
}
