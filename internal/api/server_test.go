package api

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lumidoc/lumi/internal/config"
	"github.com/lumidoc/lumi/internal/docstore"
	"github.com/lumidoc/lumi/internal/importer"
	"github.com/lumidoc/lumi/internal/lumidoc"
	"github.com/lumidoc/lumi/internal/status"
)

type nopConverter struct{}

func (nopConverter) Convert(ctx context.Context, job importer.Job, concepts []lumidoc.Concept) (*lumidoc.LumiDoc, error) {
	return &lumidoc.LumiDoc{}, nil
}

type nopSummarizer struct{}

func (nopSummarizer) Generate(ctx context.Context, doc *lumidoc.LumiDoc) (*lumidoc.Summaries, error) {
	return &lumidoc.Summaries{}, nil
}

type nopConcepts struct{}

func (nopConcepts) Extract(ctx context.Context, abstract string) []lumidoc.Concept {
	return nil
}

type testAssets map[string][]byte

func (a testAssets) Store(localPath, key string) (string, error) { return "/files/" + key, nil }
func (a testAssets) Retrieve(key string) ([]byte, error) {
	data, ok := a[key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return data, nil
}

// captureConverter records each job and the files present under its
// LatexDir at conversion time, before the extracted tree is released.
type captureConverter struct {
	mu   sync.Mutex
	jobs []importer.Job
	seen []string
}

func (c *captureConverter) Convert(ctx context.Context, job importer.Job, concepts []lumidoc.Concept) (*lumidoc.LumiDoc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	if job.LatexDir != "" {
		filepath.WalkDir(job.LatexDir, func(path string, d fs.DirEntry, err error) error {
			if err == nil && !d.IsDir() {
				rel, _ := filepath.Rel(job.LatexDir, path)
				c.seen = append(c.seen, filepath.ToSlash(rel))
			}
			return nil
		})
	}
	return &lumidoc.LumiDoc{}, nil
}

func testServer(t *testing.T) (*Server, *docstore.Store, *importer.Orchestrator) {
	t.Helper()
	return testServerWith(t, nopConverter{})
}

func testServerWith(t *testing.T, conv importer.Converter) (*Server, *docstore.Store, *importer.Orchestrator) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := docstore.Open(filepath.Join(t.TempDir(), "test.db"), log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pub := status.NewPublisher(log)
	orch := importer.New(store, pub, nopConcepts{}, conv, nopSummarizer{}, time.Minute, log)
	cfg := config.Config{
		Port:            "0",
		MaxUploadBytes:  1 << 20,
		SSEPingInterval: time.Minute,
	}
	assets := testAssets{"doc_v1/images/a.png": []byte("img")}
	return NewServer(store, pub, orch, assets, log, cfg), store, orch
}

func multipartBody(t *testing.T, fields map[string]string, pdf []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	fw, err := w.CreateFormFile("pdf", "paper.pdf")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(pdf)
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestImportAccepted(t *testing.T) {
	srv, store, orch := testServer(t)

	body, ctype := multipartBody(t, map[string]string{
		"title":   "A Paper",
		"authors": "A. Author, B. Author",
		"summary": "We study things.",
	}, []byte("%PDF-not-really"))
	req := httptest.NewRequest(http.MethodPost, "/api/papers/2301.0001/versions/1/import", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["key"] != "2301_0001_v1" {
		t.Errorf("key = %v", resp["key"])
	}

	// Wait out the background job so the record reaches a settled state.
	orch.Wait()

	record, err := store.GetRecord(context.Background(), "2301_0001_v1")
	if err != nil || record == nil {
		t.Fatalf("GetRecord: %v, %v", record, err)
	}
	if record.Metadata == nil || record.Metadata.Title != "A Paper" {
		t.Errorf("metadata = %+v", record.Metadata)
	}
	if len(record.Metadata.Authors) != 2 {
		t.Errorf("authors = %v", record.Metadata.Authors)
	}
	if record.Status != lumidoc.StatusSuccess {
		t.Errorf("status = %q", record.Status)
	}
}

func TestImportWithSourceArchive(t *testing.T) {
	conv := &captureConverter{}
	srv, _, orch := testServerWith(t, conv)

	var archive bytes.Buffer
	gz := gzip.NewWriter(&archive)
	tw := tar.NewWriter(gz)
	for _, e := range [][2]string{
		{"main.tex", "\\documentclass{article}\n\\input{sections/intro}\n"},
		{"sections/intro.tex", "Intro body.\n"},
		{"figs/arch.png", "png bytes"},
	} {
		if err := tw.WriteHeader(&tar.Header{Name: e[0], Mode: 0o644, Size: int64(len(e[1])), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		tw.Write([]byte(e[1]))
	}
	tw.Close()
	gz.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("pdf", "paper.pdf")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte("%PDF-not-really"))
	sw, err := w.CreateFormFile("source", "source.tar.gz")
	if err != nil {
		t.Fatal(err)
	}
	sw.Write(archive.Bytes())
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/papers/2301.0002/versions/1/import", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	orch.Wait()

	if len(conv.jobs) != 1 {
		t.Fatalf("converter ran %d times, want 1", len(conv.jobs))
	}
	job := conv.jobs[0]
	if job.LatexDir == "" {
		t.Fatal("LatexDir not set from source archive")
	}
	found := map[string]bool{}
	for _, p := range conv.seen {
		found[p] = true
	}
	if !found["figs/arch.png"] || !found["main.tex"] {
		t.Errorf("extracted tree missing files at convert time: %v", conv.seen)
	}
	// With no inlined latex in the form, the main .tex file is inlined from
	// the archive.
	if !bytes.Contains([]byte(job.Latex), []byte("Intro body.")) {
		t.Errorf("latex not recovered from source tree: %q", job.Latex)
	}
	// The extracted tree is released once the job finishes.
	if _, statErr := os.Stat(job.LatexDir); !os.IsNotExist(statErr) {
		t.Errorf("LatexDir %s still exists after job completion", job.LatexDir)
	}
}

func TestImportBadSourceArchive(t *testing.T) {
	srv, _, _ := testServer(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, _ := w.CreateFormFile("pdf", "paper.pdf")
	fw.Write([]byte("%PDF-not-really"))
	sw, _ := w.CreateFormFile("source", "source.tar.gz")
	sw.Write([]byte("not a gzip stream"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/papers/p/versions/1/import", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestImportMissingPDF(t *testing.T) {
	srv, _, _ := testServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("title", "No file")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/papers/p/versions/1/import", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetDocument(t *testing.T) {
	srv, store, _ := testServer(t)
	_, err := store.Create(context.Background(), "p", "1", lumidoc.StatusWaiting, &lumidoc.Metadata{Title: "T"})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/papers/p/versions/1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		PaperID string `json:"paperId"`
		Doc     struct {
			LoadingStatus string `json:"loadingStatus"`
		} `json:"doc"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.PaperID != "p" || resp.Doc.LoadingStatus != "WAITING" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGetDocumentMissing(t *testing.T) {
	srv, _, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/papers/absent/versions/9", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestGetFile(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/doc_v1/images/a.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "img" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("content type = %q", got)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/doc_v1/images/missing.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}
