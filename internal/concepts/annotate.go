// Package concepts extracts key concepts from a paper abstract and tags
// their occurrences in document spans.
package concepts

import (
	"regexp"

	"github.com/lumidoc/lumi/internal/lumidoc"
)

// Annotate finds case-insensitive whole-word occurrences of each concept
// name in each span and appends a concept tag per non-overlapping match.
// Overlapping or adjacent ranges from different concepts are left as-is;
// rendering layers must tolerate overlapping tags. The same span slice is
// returned for convenience.
func Annotate(spans []*lumidoc.Span, concepts []lumidoc.Concept) []*lumidoc.Span {
	for _, concept := range concepts {
		if concept.Name == "" {
			continue
		}
		pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(concept.Name) + `\b`)
		if err != nil {
			continue
		}
		for _, span := range spans {
			for _, loc := range pattern.FindAllStringIndex(span.Text, -1) {
				span.InnerTags = append(span.InnerTags, lumidoc.InnerTag{
					ID:       lumidoc.NewID(),
					Kind:     lumidoc.TagConcept,
					Metadata: map[string]string{"conceptId": concept.ID},
					Position: lumidoc.Position{StartIndex: loc[0], EndIndex: loc[1]},
				})
			}
		}
	}
	return spans
}
