package convert

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/lumidoc/lumi/internal/lumidoc"
)

// spanBuilder accumulates raw text and positional inner tags while walking
// inline HTML nodes. Equation placeholders found in text are restored to
// their original TeX with a math tag over the restored range.
type spanBuilder struct {
	reg  *Registry
	text strings.Builder
	tags []lumidoc.InnerTag
}

func newSpanBuilder(reg *Registry) *spanBuilder {
	if reg == nil {
		reg = NewRegistry()
	}
	return &spanBuilder{reg: reg}
}

func (b *spanBuilder) walkInline(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.writeText(n.Data)
	case html.ElementNode:
		switch n.Data {
		case "br":
			b.text.WriteByte('\n')
		case "b":
			b.tagged(lumidoc.TagBold, nil, n)
		case "strong":
			b.tagged(lumidoc.TagStrong, nil, n)
		case "i":
			b.tagged(lumidoc.TagItalic, nil, n)
		case "em":
			b.tagged(lumidoc.TagEmphasis, nil, n)
		case "u":
			b.tagged(lumidoc.TagUnderline, nil, n)
		case "code":
			b.tagged(lumidoc.TagCode, nil, n)
		case "a":
			kind, metadata := linkTag(attr(n, "href"))
			b.tagged(kind, metadata, n)
		default:
			b.walkChildren(n)
		}
	}
}

func (b *spanBuilder) walkChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walkInline(c)
	}
}

// tagged records a positional tag over the text produced by n's children.
// Tags created while walking the children become Children of this tag, so
// structurally nested markup stays nested.
func (b *spanBuilder) tagged(kind lumidoc.TagKind, metadata map[string]string, n *html.Node) {
	start := b.text.Len()
	mark := len(b.tags)
	b.walkChildren(n)
	children := append([]lumidoc.InnerTag(nil), b.tags[mark:]...)
	b.tags = b.tags[:mark]
	end := b.text.Len()
	if end == start && len(children) == 0 {
		return
	}
	b.tags = append(b.tags, lumidoc.InnerTag{
		ID:       lumidoc.NewID(),
		Kind:     kind,
		Metadata: metadata,
		Position: lumidoc.Position{StartIndex: start, EndIndex: end},
		Children: children,
	})
}

func (b *spanBuilder) writeText(s string) {
	for {
		loc := placeholderTokenPattern.FindStringIndex(s)
		if loc == nil {
			b.text.WriteString(s)
			return
		}
		b.text.WriteString(s[:loc[0]])
		token := s[loc[0]:loc[1]]
		if eq, ok := b.reg.equationFor(token); ok {
			kind := lumidoc.TagMath
			if eq.Display {
				kind = lumidoc.TagMathDisplay
			}
			start := b.text.Len()
			b.text.WriteString(eq.TeX)
			b.tags = append(b.tags, lumidoc.InnerTag{
				ID:       lumidoc.NewID(),
				Kind:     kind,
				Position: lumidoc.Position{StartIndex: start, EndIndex: b.text.Len()},
			})
		} else {
			// Unknown token: keep the text verbatim rather than drop it.
			b.text.WriteString(token)
		}
		s = s[loc[1]:]
	}
}

// spans finalizes the builder into one span, or one span per sentence when
// split is set. Cut points inside a tag range are skipped so positions
// never straddle spans.
func (b *spanBuilder) spans(split bool) []lumidoc.Span {
	text := b.text.String()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !split {
		return []lumidoc.Span{{ID: lumidoc.NewID(), Text: text, InnerTags: b.tags}}
	}
	return splitSentences(text, b.tags)
}

func linkTag(href string) (lumidoc.TagKind, map[string]string) {
	switch {
	case strings.HasPrefix(href, "#bib"):
		return lumidoc.TagReference, map[string]string{"referenceId": strings.TrimPrefix(href, "#")}
	case strings.HasPrefix(href, "#fn"):
		return lumidoc.TagFootnote, map[string]string{"footnoteId": strings.TrimPrefix(href, "#")}
	case strings.HasPrefix(href, "#span-"):
		return lumidoc.TagSpanRef, map[string]string{"spanId": strings.TrimPrefix(href, "#span-")}
	default:
		return lumidoc.TagLink, map[string]string{"href": href}
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// splitSentences cuts the built text into sentence spans, remapping tag
// positions into each segment. A tag belongs to the segment containing its
// start offset.
func splitSentences(text string, tags []lumidoc.InnerTag) []lumidoc.Span {
	cuts := sentenceCuts(text, tags)
	starts := append([]int{0}, cuts...)
	ends := append(append([]int(nil), cuts...), len(text))

	var spans []lumidoc.Span
	for i := range starts {
		segStart, segEnd := starts[i], ends[i]
		seg := text[segStart:segEnd]
		// Trim surrounding whitespace, shifting tag offsets with the left trim.
		trimmedLeft := len(seg) - len(strings.TrimLeft(seg, " \n\t"))
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		base := segStart + trimmedLeft

		var segTags []lumidoc.InnerTag
		for _, t := range tags {
			if t.Position.StartIndex < base || t.Position.StartIndex >= base+len(seg) {
				continue
			}
			segTags = append(segTags, shiftTag(t, -base))
		}
		spans = append(spans, lumidoc.Span{ID: lumidoc.NewID(), Text: seg, InnerTags: segTags})
	}
	return spans
}

func shiftTag(t lumidoc.InnerTag, delta int) lumidoc.InnerTag {
	t.Position.StartIndex += delta
	t.Position.EndIndex += delta
	shifted := make([]lumidoc.InnerTag, len(t.Children))
	for i, c := range t.Children {
		shifted[i] = shiftTag(c, delta)
	}
	t.Children = shifted
	return t
}

// sentenceCuts finds byte offsets where a new sentence starts: after
// [.!?] plus whitespace, followed by an upper-case letter or digit, and
// never inside an existing tag range.
func sentenceCuts(text string, tags []lumidoc.InnerTag) []int {
	var cuts []int
	for i := 0; i+1 < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		j := i + 1
		if text[j] != ' ' && text[j] != '\n' {
			continue
		}
		k := j
		for k < len(text) && (text[k] == ' ' || text[k] == '\n') {
			k++
		}
		if k >= len(text) {
			break
		}
		next := text[k]
		if !(next >= 'A' && next <= 'Z') && !(next >= '0' && next <= '9') {
			continue
		}
		if insideTag(tags, i) || insideTag(tags, k) {
			continue
		}
		cuts = append(cuts, k)
		i = k - 1
	}
	return cuts
}

func insideTag(tags []lumidoc.InnerTag, pos int) bool {
	for _, t := range tags {
		if pos > t.Position.StartIndex && pos < t.Position.EndIndex {
			return true
		}
	}
	return false
}
