// Package summaries generates the stage-3 summaries attached to a
// document after conversion.
package summaries

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lumidoc/lumi/internal/llm"
	"github.com/lumidoc/lumi/internal/lumidoc"
)

// Completer is the plain-text completion surface of the text-generation
// client; tests supply a fake.
type Completer interface {
	Complete(ctx context.Context, prompt string, attachments ...llm.Attachment) (string, error)
}

// Cap on how much section text is sent per summary request.
const maxSectionChars = 6000

const sectionPrompt = `Summarize the following section of an academic paper in at most two sentences, written for a non-expert reader. Reply with the summary only, no preamble.

Section:
`

// Generator produces per-section summaries and the abstract excerpt.
type Generator struct {
	llm Completer
	log *slog.Logger
}

func NewGenerator(llm Completer, log *slog.Logger) *Generator {
	return &Generator{llm: llm, log: log}
}

// Generate summarizes every section of the document. Failures here are
// stage-fatal: the orchestrator classifies and persists the error.
func (g *Generator) Generate(ctx context.Context, doc *lumidoc.LumiDoc) (*lumidoc.Summaries, error) {
	out := &lumidoc.Summaries{
		SectionSummaries: []lumidoc.Summary{},
		ContentSummaries: []lumidoc.Summary{},
		SpanSummaries:    []lumidoc.Summary{},
	}

	if doc.Abstract != nil {
		if spans := lumidoc.CollectSpans(doc.Abstract.Contents); len(spans) > 0 {
			out.AbstractExcerptSpanID = spans[0].ID
		}
	}

	var sections []*lumidoc.Section
	lumidoc.WalkSections(doc.Sections, func(s *lumidoc.Section) {
		sections = append(sections, s)
	})

	for _, sec := range sections {
		text := sectionText(sec)
		if text == "" {
			continue
		}
		summary, err := g.llm.Complete(ctx, sectionPrompt+text)
		if err != nil {
			return nil, fmt.Errorf("summarize section %q: %w", sec.Heading.Text, err)
		}
		out.SectionSummaries = append(out.SectionSummaries, lumidoc.Summary{
			ID: sec.ID,
			Summary: lumidoc.Span{
				ID:   lumidoc.NewID(),
				Text: strings.TrimSpace(summary),
			},
		})
	}

	g.log.Info("summaries generated", "sections", len(out.SectionSummaries))
	return out, nil
}

// sectionText flattens one section's own text (not sub-sections) for the
// summary prompt, capped at maxSectionChars.
func sectionText(sec *lumidoc.Section) string {
	var sb strings.Builder
	if sec.Heading.Text != "" {
		sb.WriteString(sec.Heading.Text)
		sb.WriteString("\n\n")
	}
	for _, span := range lumidoc.CollectSpans(sec.Contents) {
		if sb.Len()+len(span.Text) > maxSectionChars {
			break
		}
		sb.WriteString(span.Text)
		sb.WriteByte('\n')
	}
	text := strings.TrimSpace(sb.String())
	if text == sec.Heading.Text {
		return ""
	}
	return text
}
