package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumidoc/lumi/internal/api"
	"github.com/lumidoc/lumi/internal/assets"
	"github.com/lumidoc/lumi/internal/concepts"
	"github.com/lumidoc/lumi/internal/config"
	"github.com/lumidoc/lumi/internal/docstore"
	"github.com/lumidoc/lumi/internal/importer"
	"github.com/lumidoc/lumi/internal/llm"
	"github.com/lumidoc/lumi/internal/status"
	"github.com/lumidoc/lumi/internal/summaries"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := docstore.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Error("opening database failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	assetStore, err := assets.NewLocalStore(cfg.AssetsDir)
	if err != nil {
		log.Error("preparing assets directory failed", "error", err)
		os.Exit(1)
	}

	model := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	publisher := status.NewPublisher(log)

	// Formatting reproduces the whole paper, so it runs without the default
	// output cap.
	formatModel := model.WithMaxOutputTokens(cfg.LLMFormatMaxTokens)
	converter := importer.NewDefaultConverter(formatModel, assetStore, cfg.MaxLatexChars, log)
	summarizer := summaries.NewGenerator(model, log)
	extractor := concepts.NewExtractor(model, log)
	orch := importer.New(store, publisher, extractor, converter, summarizer, cfg.ImportTimeout, log)

	srv := api.NewServer(store, publisher, orch, assetStore, log, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 30 * time.Second,
		// No write timeout: the events stream stays open for the life of an
		// import job.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Wait()
		model.Close()
	}()

	log.Info("starting lumi", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
