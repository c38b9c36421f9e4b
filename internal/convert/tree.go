package convert

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"

	"github.com/lumidoc/lumi/internal/lumidoc"
)

// markdownToHTML runs the generic markdown pass. Placeholder substitution
// must already have happened: anything still in the markdown at this point
// is fair game for goldmark to rewrite.
func markdownToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.New().Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("markdown to html: %w", err)
	}
	return buf.String(), nil
}

// SpansFromRaw converts a fragment of raw markup into spans. Equations are
// protected, the fragment is run through the markdown pass, and the
// resulting inline HTML is folded into tagged spans. With split set, the
// text is tokenized into one span per sentence.
func SpansFromRaw(raw string, reg *Registry, split bool) []lumidoc.Span {
	if reg == nil {
		reg = NewRegistry()
	}
	md := ExtractEquations(raw, reg)
	rendered, err := markdownToHTML(md)
	if err != nil {
		// Fall back to the raw text as a single untagged span.
		return []lumidoc.Span{{ID: lumidoc.NewID(), Text: strings.TrimSpace(raw)}}
	}
	root, err := html.Parse(strings.NewReader(rendered))
	if err != nil {
		return []lumidoc.Span{{ID: lumidoc.NewID(), Text: strings.TrimSpace(raw)}}
	}

	b := newSpanBuilder(reg)
	var walkBlocks func(n *html.Node)
	walkBlocks = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "li", "pre", "blockquote", "h1", "h2", "h3", "h4", "h5", "h6":
				if b.text.Len() > 0 {
					b.text.WriteByte(' ')
				}
				b.walkChildren(n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkBlocks(c)
		}
	}
	walkBlocks(root)
	return b.spans(split)
}

// SpanFromRaw returns the fragment as exactly one span (captions,
// references and footnotes are atomic), or nil for empty input.
func SpanFromRaw(raw string, reg *Registry) *lumidoc.Span {
	spans := SpansFromRaw(raw, reg, false)
	if len(spans) == 0 {
		return nil
	}
	return &spans[0]
}

// htmlToSections converts rendered HTML into the recursive section tree,
// rehydrating placeholder tokens into their content nodes. Content before
// the first heading lands in a synthetic level-0 section.
func htmlToSections(rendered string, reg *Registry) ([]lumidoc.Section, error) {
	root, err := html.Parse(strings.NewReader(rendered))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	body := findBody(root)
	if body == nil {
		body = root
	}

	type stackEntry struct {
		section *lumidoc.Section
		level   int
	}
	synthetic := &lumidoc.Section{ID: lumidoc.NewID()}
	stack := []stackEntry{{section: synthetic, level: 0}}

	var sections []lumidoc.Section
	closeTop := func() {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		parent := stack[len(stack)-1].section
		if parent == synthetic {
			sections = append(sections, *top.section)
			return
		}
		parent.SubSections = append(parent.SubSections, *top.section)
	}

	for n := body.FirstChild; n != nil; n = n.NextSibling {
		if n.Type != html.ElementNode {
			continue
		}
		if level := headingLevel(n.Data); level > 0 {
			// Pop sections at the same or deeper level; they attach to
			// their parents as they close.
			for len(stack) > 1 && stack[len(stack)-1].level >= level {
				closeTop()
			}
			sec := &lumidoc.Section{
				ID:      lumidoc.NewID(),
				Heading: lumidoc.Heading{Level: level, Text: textContent(n)},
			}
			stack = append(stack, stackEntry{section: sec, level: level})
			continue
		}
		contents := blockContents(n, reg)
		top := stack[len(stack)-1].section
		top.Contents = append(top.Contents, contents...)
	}
	for len(stack) > 1 {
		closeTop()
	}
	if len(synthetic.Contents) > 0 {
		// Headingless content becomes a single leading section.
		sections = append([]lumidoc.Section{*synthetic}, sections...)
	}
	return sections, nil
}

// blockContents converts one non-heading block element into content nodes.
// A paragraph consisting solely of a placeholder token is re-inflated into
// the registered figure, image or raw-HTML content.
func blockContents(n *html.Node, reg *Registry) []lumidoc.Content {
	switch n.Data {
	case "p":
		if c, ok := placeholderContent(n, reg); ok {
			return []lumidoc.Content{c}
		}
		return textBlock(n, reg, "p", true)
	case "pre":
		return textBlock(n, reg, "pre", false)
	case "code":
		return textBlock(n, reg, "code", false)
	case "ul", "ol":
		list := buildList(n, reg)
		if list == nil {
			return nil
		}
		id := lumidoc.NewID()
		return []lumidoc.Content{lumidoc.NewListContent(id, list)}
	case "blockquote", "div":
		var out []lumidoc.Content
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, blockContents(c, reg)...)
			}
		}
		if out == nil {
			return textBlock(n, reg, "p", true)
		}
		return out
	default:
		return textBlock(n, reg, "p", true)
	}
}

func textBlock(n *html.Node, reg *Registry, tagName string, split bool) []lumidoc.Content {
	b := newSpanBuilder(reg)
	b.walkChildren(n)
	spans := b.spans(split)
	if len(spans) == 0 {
		return nil
	}
	id := lumidoc.NewID()
	return []lumidoc.Content{lumidoc.NewTextContent(id, &lumidoc.TextContent{
		TagName: tagName,
		Spans:   spans,
	})}
}

// placeholderContent reports whether the block is exactly one placeholder
// token and resolves it through the registry.
func placeholderContent(n *html.Node, reg *Registry) (lumidoc.Content, bool) {
	text := strings.TrimSpace(textContent(n))
	if !placeholderTokenPattern.MatchString(text) {
		return lumidoc.Content{}, false
	}
	if placeholderTokenPattern.FindString(text) != text {
		return lumidoc.Content{}, false
	}
	return reg.Content(text)
}

func buildList(n *html.Node, reg *Registry) *lumidoc.ListContent {
	list := &lumidoc.ListContent{Ordered: n.Data == "ol"}
	for li := n.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.Data != "li" {
			continue
		}
		item := lumidoc.ListItem{}
		b := newSpanBuilder(reg)
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && (c.Data == "ul" || c.Data == "ol") {
				if sub := buildList(c, reg); sub != nil {
					item.Sublist = sub
				}
				continue
			}
			b.walkInline(c)
		}
		item.Spans = b.spans(false)
		if len(item.Spans) == 0 && item.Sublist == nil {
			continue
		}
		list.Items = append(list.Items, item)
	}
	if len(list.Items) == 0 {
		return nil
	}
	return list
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
