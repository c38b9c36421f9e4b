package concepts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lumidoc/lumi/internal/lumidoc"
)

// SchemaCaller is the schema-constrained completion surface of the
// text-generation client; tests supply a fake.
type SchemaCaller interface {
	CompleteWithSchema(ctx context.Context, prompt string, schema json.RawMessage, out any) error
}

// Extractor derives the initial concept set for a paper from its abstract.
type Extractor struct {
	llm SchemaCaller
	log *slog.Logger
}

func NewExtractor(llm SchemaCaller, log *slog.Logger) *Extractor {
	return &Extractor{llm: llm, log: log}
}

type extractedConcept struct {
	Name     string                   `json:"name"`
	Contents []lumidoc.ConceptContent `json:"contents"`
}

type extractionResponse struct {
	Concepts []extractedConcept `json:"concepts"`
}

// Extract issues one structured-output request against the abstract.
// Concept extraction is an enhancement, not a correctness-critical step:
// any failure is logged and an empty list returned.
func (e *Extractor) Extract(ctx context.Context, abstract string) []lumidoc.Concept {
	var resp extractionResponse
	err := e.llm.CompleteWithSchema(ctx, extractionPrompt(abstract), json.RawMessage(extractionSchema), &resp)
	if err != nil {
		e.log.Warn("concept extraction failed, continuing without concepts", "error", err)
		return []lumidoc.Concept{}
	}

	concepts := make([]lumidoc.Concept, 0, len(resp.Concepts))
	for i, c := range resp.Concepts {
		concepts = append(concepts, lumidoc.Concept{
			ID:              fmt.Sprintf("concept-%d", i),
			Name:            c.Name,
			Contents:        c.Contents,
			InTextCitations: []string{},
		})
	}
	return concepts
}
