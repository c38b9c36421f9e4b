package convert

import (
	"regexp"
	"strings"
)

// The formatting model delimits the abstract, bibliography and footnotes
// with explicit region markers; everything outside those regions is main
// content.
var (
	abstractRegion  = regexp.MustCompile(`(?s)\[\[l-abstract-start\]\](.*?)\[\[l-abstract-end\]\]`)
	referenceRegion = regexp.MustCompile(`(?s)\[\[l-references-start\]\](.*?)\[\[l-references-end\]\]`)
	footnoteRegion  = regexp.MustCompile(`(?s)\[\[l-footnotes-start\]\](.*?)\[\[l-footnotes-end\]\]`)

	referenceItem = regexp.MustCompile(`\[\[l-ref id="([^"]+)"\]\]`)
	footnoteItem  = regexp.MustCompile(`\[\[l-footnote id="([^"]+)"\]\]`)
)

// Item is one reference or footnote block: its source id and verbatim text.
type Item struct {
	ID   string
	Text string
}

// Regions holds the three independently processed parts of the model
// output.
type Regions struct {
	Abstract   string
	Content    string
	References []Item
	Footnotes  []Item
}

// SplitRegions separates the model output markdown into abstract, main
// content, references and footnotes. Missing regions yield empty values.
func SplitRegions(markdown string) Regions {
	var r Regions

	rest := markdown
	if m := abstractRegion.FindStringSubmatchIndex(rest); m != nil {
		r.Abstract = strings.TrimSpace(rest[m[2]:m[3]])
		rest = rest[:m[0]] + rest[m[1]:]
	}
	if m := referenceRegion.FindStringSubmatchIndex(rest); m != nil {
		r.References = splitItems(rest[m[2]:m[3]], referenceItem)
		rest = rest[:m[0]] + rest[m[1]:]
	}
	if m := footnoteRegion.FindStringSubmatchIndex(rest); m != nil {
		r.Footnotes = splitItems(rest[m[2]:m[3]], footnoteItem)
		rest = rest[:m[0]] + rest[m[1]:]
	}
	r.Content = strings.TrimSpace(rest)
	return r
}

// splitItems slices a region body into per-item blocks. Each item runs
// from its marker to the next marker or the end of the region, preserving
// source order.
func splitItems(body string, marker *regexp.Regexp) []Item {
	matches := marker.FindAllStringSubmatchIndex(body, -1)
	items := make([]Item, 0, len(matches))
	for i, m := range matches {
		end := len(body)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		text := strings.TrimSpace(body[m[1]:end])
		if text == "" {
			continue
		}
		items = append(items, Item{ID: body[m[2]:m[3]], Text: text})
	}
	return items
}
