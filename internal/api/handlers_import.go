package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumidoc/lumi/internal/importer"
	"github.com/lumidoc/lumi/internal/lumidoc"
	"github.com/lumidoc/lumi/internal/source"
)

// handleImport accepts the paper upload, creates the WAITING record and
// kicks off the background job. The response returns as soon as the record
// exists; progress flows over the events stream.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")
	version := chi.URLParam(r, "version")
	if paperID == "" || version == "" {
		jsonError(w, "paperID and version are required", http.StatusBadRequest)
		return
	}

	// Limit total request size, with headroom for form overhead.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	pdfFile, _, err := r.FormFile("pdf")
	if err != nil {
		jsonError(w, "pdf file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer pdfFile.Close()

	pdfData, err := io.ReadAll(io.LimitReader(pdfFile, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read pdf", http.StatusInternalServerError)
		return
	}
	if int64(len(pdfData)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("pdf exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}

	latex := r.FormValue("latex")
	if latex == "" {
		if f, _, err := r.FormFile("latex"); err == nil {
			data, rerr := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
			f.Close()
			if rerr != nil {
				jsonError(w, "failed to read latex", http.StatusInternalServerError)
				return
			}
			latex = string(data)
		}
	}

	// An optional tar.gz of the LaTeX source tree supplies the figure image
	// files and, when no inlined latex came with the upload, the .tex
	// sources themselves. The extracted tree lives until the job finishes.
	var latexDir string
	var cleanup func()
	if f, _, err := r.FormFile("source"); err == nil {
		dir, derr := os.MkdirTemp("", "lumi-src-*")
		if derr != nil {
			f.Close()
			jsonError(w, "failed to prepare source dir", http.StatusInternalServerError)
			return
		}
		extractErr := source.ExtractTarGz(io.LimitReader(f, s.cfg.MaxUploadBytes+1), dir)
		f.Close()
		if extractErr != nil {
			os.RemoveAll(dir)
			jsonError(w, "invalid source archive: "+extractErr.Error(), http.StatusBadRequest)
			return
		}
		latexDir = dir
		cleanup = func() { os.RemoveAll(dir) }
		if latex == "" {
			if mainTex, merr := source.MainTexFile(dir); merr == nil {
				if inlined, ierr := source.InlineTexFiles(mainTex); ierr == nil {
					latex = inlined
				} else {
					s.log.Warn("inlining latex source failed", "paper", paperID, "error", ierr)
				}
			} else {
				s.log.Warn("no main tex file in source archive", "paper", paperID, "error", merr)
			}
		}
	}

	meta := lumidoc.Metadata{
		PaperID:   paperID,
		Version:   version,
		Title:     r.FormValue("title"),
		Summary:   r.FormValue("summary"),
		UpdatedAt: time.Now().UTC(),
	}
	if authors := r.FormValue("authors"); authors != "" {
		for _, a := range strings.Split(authors, ",") {
			if a = strings.TrimSpace(a); a != "" {
				meta.Authors = append(meta.Authors, a)
			}
		}
	}
	if published := r.FormValue("published"); published != "" {
		if ts, err := time.Parse(time.RFC3339, published); err == nil {
			meta.PublishedAt = ts
		}
	}

	// Plain-text extraction is best effort: it backfills the page count and,
	// when no summary came with the upload, a leading-text stand-in for the
	// abstract so concept extraction has something to work with.
	if text, pages, err := source.ExtractPDFText(pdfData); err == nil {
		meta.Pages = pages
		if meta.Summary == "" {
			meta.Summary = source.AbstractFallback(text)
		}
	} else {
		s.log.Warn("pdf text extraction failed", "paper", paperID, "error", err)
	}

	key, err := s.store.Create(r.Context(), paperID, version, lumidoc.StatusWaiting, &meta)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		jsonError(w, "failed to create record: "+err.Error(), http.StatusInternalServerError)
		return
	}

	job := importer.Job{
		PaperID:  paperID,
		Version:  version,
		Metadata: meta,
		PDF:      pdfData,
		Latex:    latex,
		LatexDir: latexDir,
		Cleanup:  cleanup,
	}
	// The job must outlive this request.
	s.orchestrator.Start(context.Background(), job)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"key":           key,
		"paperId":       paperID,
		"version":       version,
		"loadingStatus": string(lumidoc.StatusWaiting),
		"eventsUrl":     fmt.Sprintf("/api/papers/%s/versions/%s/events", paperID, version),
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
