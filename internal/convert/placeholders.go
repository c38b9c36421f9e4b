// Package convert turns model-output markdown into the structured lumidoc
// tree. Complex markup (figures, images, raw-HTML figures, equations) is
// pulled out into placeholder tokens first so the generic markdown-to-HTML
// pass cannot mangle it, then re-inflated during tree assembly.
package convert

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/lumidoc/lumi/internal/lumidoc"
)

const (
	placeholderPrefix = "LUMIPH-"
	placeholderSuffix = "-HP"

	// Image paths are flattened into storage keys with this delimiter.
	storagePathDelimiter = "__"
)

// Figure and image markup emitted by the formatting model. Composite
// figures are matched before raw-HTML figures, and bare images last, so a
// bare-image pattern never matches an image nested in a figure block.
var (
	figurePattern = regexp.MustCompile(
		`(?s)\[\[l-figure-start\]\](?P<body>.*?)\[\[l-figure-end(?: caption="(?P<caption>[^"]*)")?\]\]`)
	htmlFigurePattern = regexp.MustCompile(
		`(?s)\[\[l-html-figure-start\]\](?P<html>.*?)\[\[l-html-figure-end(?: caption="(?P<caption>[^"]*)")?\]\]`)
	imagePattern = regexp.MustCompile(
		`\[\[l-image path="(?P<path>[^"]+)"(?: caption="(?P<caption>[^"]*)")?\]\]`)

	placeholderTokenPattern = regexp.MustCompile(placeholderPrefix + `[0-9A-Z-]+` + placeholderSuffix)
)

var htmlPolicy = bluemonday.UGCPolicy()

// equation is a piece of math markup protected from the markdown pass.
type equation struct {
	TeX     string
	Display bool
}

// Registry maps placeholder tokens to the structured content pulled out of
// the raw markup. Figures and equations live in disjoint key spaces merged
// into one lookup consumed during tree assembly.
type Registry struct {
	contents  map[string]lumidoc.Content
	equations map[string]equation
}

func NewRegistry() *Registry {
	return &Registry{
		contents:  make(map[string]lumidoc.Content),
		equations: make(map[string]equation),
	}
}

// Len returns the number of content entries (figures and images).
func (r *Registry) Len() int { return len(r.contents) }

// Content resolves a placeholder token to its content node.
func (r *Registry) Content(token string) (lumidoc.Content, bool) {
	c, ok := r.contents[token]
	return c, ok
}

func (r *Registry) equationFor(token string) (equation, bool) {
	eq, ok := r.equations[token]
	return eq, ok
}

func (r *Registry) putContent(id string, c lumidoc.Content) string {
	token := placeholderPrefix + id + placeholderSuffix
	r.contents[token] = c
	return token
}

func (r *Registry) putEquation(eq equation) string {
	token := placeholderPrefix + "EQ-" + lumidoc.NewID() + placeholderSuffix
	r.equations[token] = eq
	return token
}

// ExtractFigures scans raw markup for figure, raw-HTML-figure and
// image+caption patterns, stores the built content objects in a fresh
// registry keyed by placeholder token, and returns the markup with each
// match replaced by its token. Input with no figure markup is returned
// unchanged with an empty registry.
func ExtractFigures(raw, docID string) (string, *Registry) {
	reg := NewRegistry()

	// Order matters: composite figures first, then raw-HTML figures, then
	// bare images.
	out := replaceAllSubmatchFunc(figurePattern, raw, func(groups map[string]string) string {
		id := lumidoc.NewID()
		var images []lumidoc.ImageContent
		for _, m := range findAllSubmatches(imagePattern, groups["body"]) {
			images = append(images, buildImage(docID, m["path"], m["caption"]))
		}
		return reg.putContent(id, lumidoc.NewFigureContent(id, &lumidoc.FigureContent{
			Images:  images,
			Caption: captionSpan(groups["caption"]),
		}))
	})

	out = replaceAllSubmatchFunc(htmlFigurePattern, out, func(groups map[string]string) string {
		id := lumidoc.NewID()
		return reg.putContent(id, lumidoc.NewHTMLFigureContent(id, &lumidoc.HTMLFigureContent{
			HTML:    htmlPolicy.Sanitize(strings.TrimSpace(groups["html"])),
			Caption: captionSpan(groups["caption"]),
		}))
	})

	out = replaceAllSubmatchFunc(imagePattern, out, func(groups map[string]string) string {
		id := lumidoc.NewID()
		img := buildImage(docID, groups["path"], groups["caption"])
		return reg.putContent(id, lumidoc.NewImageContent(id, &img))
	})

	return out, reg
}

// Equation markup is extracted after figures, into its own key space, so
// that dollar-delimited math survives the markdown pass intact. Display
// math is matched before inline math.
var (
	displayMathPattern = regexp.MustCompile(`(?s)\$\$(.+?)\$\$`)
	inlineMathPattern  = regexp.MustCompile(`\$([^$\n]+?)\$`)
)

// ExtractEquations replaces equation markup with placeholder tokens
// registered in reg and returns the substituted markdown.
func ExtractEquations(markdown string, reg *Registry) string {
	out := displayMathPattern.ReplaceAllStringFunc(markdown, func(m string) string {
		tex := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(m, "$$"), "$$"))
		return reg.putEquation(equation{TeX: tex, Display: true})
	})
	out = inlineMathPattern.ReplaceAllStringFunc(out, func(m string) string {
		tex := strings.TrimSuffix(strings.TrimPrefix(m, "$"), "$")
		return reg.putEquation(equation{TeX: tex, Display: false})
	})
	return out
}

func buildImage(docID, latexPath, caption string) lumidoc.ImageContent {
	flattened := strings.ReplaceAll(latexPath, "/", storagePathDelimiter)
	return lumidoc.ImageContent{
		LatexPath:   latexPath,
		StoragePath: docID + "/images/" + flattened,
		AltText:     "",
		Caption:     captionSpan(caption),
	}
}

// captionSpan parses caption text into a single atomic span; captions are
// never tokenized into sentences.
func captionSpan(text string) *lumidoc.Span {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return SpanFromRaw(text, nil)
}

// replaceAllSubmatchFunc is ReplaceAllStringFunc with named submatch
// access inside the replacer.
func replaceAllSubmatchFunc(re *regexp.Regexp, src string, fn func(groups map[string]string) string) string {
	return re.ReplaceAllStringFunc(src, func(m string) string {
		return fn(namedGroups(re, m))
	})
}

func findAllSubmatches(re *regexp.Regexp, src string) []map[string]string {
	var out []map[string]string
	for _, m := range re.FindAllString(src, -1) {
		out = append(out, namedGroups(re, m))
	}
	return out
}

func namedGroups(re *regexp.Regexp, match string) map[string]string {
	groups := make(map[string]string)
	sub := re.FindStringSubmatch(match)
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(sub) {
			groups[name] = sub[i]
		}
	}
	return groups
}
