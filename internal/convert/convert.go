package convert

import (
	"fmt"
	"log/slog"

	"github.com/lumidoc/lumi/internal/concepts"
	"github.com/lumidoc/lumi/internal/lumidoc"
)

// Build converts formatting-model output markdown into a LumiDoc. The
// figure pass runs over the whole document first; equations are extracted
// per region just before that region's markdown pass, into the same
// combined lookup. Abstract, main content and references/footnotes are
// processed independently when present.
func Build(modelOutput string, cons []lumidoc.Concept, docID string, log *slog.Logger) (*lumidoc.LumiDoc, error) {
	substituted, reg := ExtractFigures(modelOutput, docID)
	regions := SplitRegions(substituted)

	doc := &lumidoc.LumiDoc{
		Markdown: "",
		Concepts: cons,
	}

	if regions.Abstract != "" {
		abstract, err := buildAbstract(regions.Abstract, cons, reg, log)
		if err != nil {
			return nil, err
		}
		doc.Abstract = abstract
	}

	if regions.Content != "" {
		md := ExtractEquations(regions.Content, reg)
		rendered, err := markdownToHTML(md)
		if err != nil {
			return nil, fmt.Errorf("convert content: %w", err)
		}
		sections, err := htmlToSections(rendered, reg)
		if err != nil {
			return nil, fmt.Errorf("convert content: %w", err)
		}
		doc.Sections = sections
	}

	for _, item := range regions.References {
		if span := SpanFromRaw(item.Text, reg); span != nil {
			doc.References = append(doc.References, lumidoc.Reference{ID: item.ID, Span: *span})
		}
	}
	for _, item := range regions.Footnotes {
		if span := SpanFromRaw(item.Text, reg); span != nil {
			doc.Footnotes = append(doc.Footnotes, lumidoc.Footnote{ID: item.ID, Span: *span})
		}
	}

	return doc, nil
}

// buildAbstract converts the abstract region and annotates its spans with
// the extracted concepts. If the conversion yields more than one top-level
// section only the first is kept; that is an anomaly worth logging, not a
// failure.
func buildAbstract(raw string, cons []lumidoc.Concept, reg *Registry, log *slog.Logger) (*lumidoc.Abstract, error) {
	md := ExtractEquations(raw, reg)
	rendered, err := markdownToHTML(md)
	if err != nil {
		return nil, fmt.Errorf("convert abstract: %w", err)
	}
	sections, err := htmlToSections(rendered, reg)
	if err != nil {
		return nil, fmt.Errorf("convert abstract: %w", err)
	}
	if len(sections) == 0 {
		return nil, nil
	}
	if len(sections) > 1 {
		log.Warn("abstract produced multiple sections, keeping first", "sections", len(sections))
	}
	first := sections[0]
	concepts.Annotate(lumidoc.CollectSpans(first.Contents), cons)
	return &lumidoc.Abstract{Contents: first.Contents}, nil
}
