package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lumidoc/lumi/internal/assets"
	"github.com/lumidoc/lumi/internal/config"
	"github.com/lumidoc/lumi/internal/docstore"
	"github.com/lumidoc/lumi/internal/importer"
	"github.com/lumidoc/lumi/internal/status"
)

// Server is the HTTP API server for the import service.
type Server struct {
	router       chi.Router
	store        *docstore.Store
	publisher    *status.Publisher
	orchestrator *importer.Orchestrator
	assets       assets.Store
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(store *docstore.Store, pub *status.Publisher, orch *importer.Orchestrator, assetStore assets.Store, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		store:        store,
		publisher:    pub,
		orchestrator: orch,
		assets:       assetStore,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Route("/api/papers/{paperID}/versions/{version}", func(r chi.Router) {
		r.Post("/import", s.handleImport)
		r.Get("/", s.handleGetDocument)
		r.Get("/events", s.handleEvents)
	})

	r.Get("/files/*", s.handleGetFile)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
