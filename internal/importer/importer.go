// Package importer drives the three-stage import job: concept extraction,
// document conversion under a hard timeout, and summary generation. Every
// transition persists first, then publishes; publish failures never roll
// back persistence.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lumidoc/lumi/internal/docstore"
	"github.com/lumidoc/lumi/internal/lumidoc"
	"github.com/lumidoc/lumi/internal/status"
)

// TimeoutMessage is the fixed user-facing error persisted on timeout.
const TimeoutMessage = "This paper cannot be loaded (time limit exceeded)"

var errConversionTimeout = errors.New("document conversion timed out")

// Job carries one paper version through the pipeline.
type Job struct {
	PaperID  string
	Version  string
	Metadata lumidoc.Metadata

	PDF      []byte
	Latex    string // inlined LaTeX source, may be empty
	LatexDir string // extracted source tree for image lookup, may be empty

	// Cleanup releases job-scoped resources such as the extracted source
	// tree. Run invokes it exactly once when the job finishes; may be nil.
	Cleanup func()
}

// Key returns the storage/publish key for the job.
func (j Job) Key() string { return docstore.RecordKey(j.PaperID, j.Version) }

// Converter produces the structured document from the raw source.
type Converter interface {
	Convert(ctx context.Context, job Job, concepts []lumidoc.Concept) (*lumidoc.LumiDoc, error)
}

// Summarizer generates stage-3 summaries for a converted document.
type Summarizer interface {
	Generate(ctx context.Context, doc *lumidoc.LumiDoc) (*lumidoc.Summaries, error)
}

// ConceptExtractor derives the initial concept set from the abstract.
// Implementations fail soft and return an empty list.
type ConceptExtractor interface {
	Extract(ctx context.Context, abstract string) []lumidoc.Concept
}

// Recorder is the persistence surface the orchestrator needs.
type Recorder interface {
	CreateOrMerge(ctx context.Context, key string, fields docstore.Fields) error
	SetStatus(ctx context.Context, key string, st lumidoc.LoadingStatus, loadErr string) error
	GetRecord(ctx context.Context, key string) (*docstore.Record, error)
}

// Orchestrator runs import jobs off the request path, one goroutine per
// job. Stages of one job are strictly sequential; unrelated jobs run
// fully concurrently.
type Orchestrator struct {
	store      Recorder
	publisher  *status.Publisher
	concepts   ConceptExtractor
	converter  Converter
	summarizer Summarizer
	timeout    time.Duration
	log        *slog.Logger

	wg sync.WaitGroup
}

func New(store Recorder, pub *status.Publisher, concepts ConceptExtractor, conv Converter, sum Summarizer, timeout time.Duration, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		publisher:  pub,
		concepts:   concepts,
		converter:  conv,
		summarizer: sum,
		timeout:    timeout,
		log:        log,
	}
}

// Start launches the job in the background and returns immediately.
func (o *Orchestrator) Start(ctx context.Context, job Job) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.Run(ctx, job)
	}()
}

// Wait blocks until all in-flight jobs have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Run executes the full state machine for one job. The caller is expected
// to have created the record in WAITING before starting.
func (o *Orchestrator) Run(ctx context.Context, job Job) {
	if job.Cleanup != nil {
		defer job.Cleanup()
	}
	key := job.Key()
	log := o.log.With("paper", job.PaperID, "version", job.Version)
	meta := toMap(job.Metadata)

	log.Info("import started")

	// Stage 1: concept extraction, still under WAITING. A failure here is
	// soft: the extractor returns an empty list and the job continues.
	o.publisher.Publish(key, job.Version, map[string]any{
		"loadingStatus": string(lumidoc.StatusWaiting),
		"progress":      "Extracting key concepts...",
		"metadata":      meta,
	})
	concepts := o.concepts.Extract(ctx, job.Metadata.Summary)
	log.Info("concepts extracted", "count", len(concepts))

	// Stage 2: document conversion under the hard wall-clock timeout.
	o.publisher.Publish(key, job.Version, map[string]any{
		"loadingStatus": string(lumidoc.StatusWaiting),
		"progress":      "Processing LaTeX and PDF...",
		"metadata":      meta,
	})
	started := time.Now()
	doc, err := o.convertWithTimeout(ctx, job, concepts)
	if errors.Is(err, errConversionTimeout) {
		log.Error("conversion timed out", "timeout", o.timeout)
		o.finishTerminal(ctx, key, job.Version, lumidoc.StatusTimeout, TimeoutMessage)
		return
	}
	if err != nil {
		log.Error("conversion failed", "error", err)
		o.finishTerminal(ctx, key, job.Version, classifyError(err.Error()), err.Error())
		return
	}
	doc.Metadata = &job.Metadata
	log.Info("document converted", "sections", len(doc.Sections), "elapsed", time.Since(started))

	// Persist the converted document (minus summaries), then announce the
	// SUMMARIZING transition.
	err = o.store.CreateOrMerge(ctx, key, docstore.Fields{
		docstore.FieldStatus:    string(lumidoc.StatusSummarizing),
		docstore.FieldMarkdown:  doc.Markdown,
		docstore.FieldMetadata:  doc.Metadata,
		docstore.FieldSections:  doc.Sections,
		docstore.FieldConcepts:  doc.Concepts,
		docstore.FieldAbstract:  doc.Abstract,
		docstore.FieldRefs:      doc.References,
		docstore.FieldFootnotes: doc.Footnotes,
	})
	if err != nil {
		log.Error("persist after conversion failed", "error", err)
		o.finishTerminal(ctx, key, job.Version, classifyError(err.Error()), err.Error())
		return
	}
	o.publisher.Publish(key, job.Version, map[string]any{
		"loadingStatus": string(lumidoc.StatusSummarizing),
		"progress":      "Generating summaries...",
		"metadata":      meta,
	})

	// Stage 3: summaries.
	sums, err := o.summarizer.Generate(ctx, doc)
	if err != nil {
		log.Error("summarization failed", "error", err)
		o.finishTerminal(ctx, key, job.Version, classifyError(err.Error()), err.Error())
		return
	}
	doc.Summaries = sums

	err = o.store.CreateOrMerge(ctx, key, docstore.Fields{
		docstore.FieldStatus:    string(lumidoc.StatusSuccess),
		docstore.FieldSummaries: sums,
	})
	if err != nil {
		log.Error("persist after summarization failed", "error", err)
		o.finishTerminal(ctx, key, job.Version, classifyError(err.Error()), err.Error())
		return
	}

	// Deliver the complete, merged document as persisted.
	data := map[string]any{
		"loadingStatus": string(lumidoc.StatusSuccess),
		"progress":      "Complete!",
	}
	if rec, err := o.store.GetRecord(ctx, key); err == nil && rec != nil {
		for k, v := range toMap(rec.Doc()) {
			data[k] = v
		}
	} else if err != nil {
		log.Warn("fetching complete record for publish failed", "error", err)
	}
	o.publisher.Publish(key, job.Version, data)

	log.Info("import complete")
}

// convertWithTimeout waits on the conversion result for at most the
// configured timeout. On expiry the conversion context is cancelled so
// in-flight model calls abort, but the goroutine is not forcibly stopped;
// a late result is discarded.
func (o *Orchestrator) convertWithTimeout(ctx context.Context, job Job, concepts []lumidoc.Concept) (*lumidoc.LumiDoc, error) {
	convCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		doc *lumidoc.LumiDoc
		err error
	}
	ch := make(chan result, 1)
	go func() {
		doc, err := o.converter.Convert(convCtx, job, concepts)
		ch <- result{doc: doc, err: err}
	}()

	timer := time.NewTimer(o.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.doc, r.err
	case <-timer.C:
		return nil, errConversionTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finishTerminal persists a terminal status with its raw error string, then
// broadcasts it.
func (o *Orchestrator) finishTerminal(ctx context.Context, key, version string, st lumidoc.LoadingStatus, errMsg string) {
	if err := o.store.SetStatus(ctx, key, st, errMsg); err != nil {
		o.log.Error("persisting terminal status failed", "key", key, "status", st, "error", err)
	}
	o.publisher.Publish(key, version, map[string]any{
		"loadingStatus":    string(st),
		"loadingError":     errMsg,
		"updatedTimestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// classifyError maps a stage failure to a terminal state by message
// content. Timeout is handled separately and never reaches here.
func classifyError(msg string) lumidoc.LoadingStatus {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "quota"):
		return lumidoc.StatusErrorLoadQuota
	case strings.Contains(lower, "invalid response"):
		return lumidoc.StatusErrorLoadInvalidResp
	default:
		return lumidoc.StatusErrorLoad
	}
}

// toMap converts a struct to its loose JSON representation for publishing.
func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
