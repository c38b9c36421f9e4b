// Package lumidoc defines the structured document tree produced by the
// import pipeline: sections, typed content blocks, inline-tagged spans,
// references, footnotes, concepts and summaries.
package lumidoc

import "time"

// LoadingStatus tracks where a document is in the import pipeline.
type LoadingStatus string

const (
	StatusUnset       LoadingStatus = "UNSET"
	StatusWaiting     LoadingStatus = "WAITING"
	StatusSummarizing LoadingStatus = "SUMMARIZING"
	StatusSuccess     LoadingStatus = "SUCCESS"
	StatusTimeout     LoadingStatus = "TIMEOUT"

	StatusErrorLoad            LoadingStatus = "ERROR_DOCUMENT_LOAD"
	StatusErrorLoadQuota       LoadingStatus = "ERROR_DOCUMENT_LOAD_QUOTA_EXCEEDED"
	StatusErrorLoadInvalidResp LoadingStatus = "ERROR_DOCUMENT_LOAD_INVALID_RESPONSE"
)

// Terminal reports whether no further transitions can follow this status.
func (s LoadingStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusTimeout, StatusErrorLoad, StatusErrorLoadQuota, StatusErrorLoadInvalidResp:
		return true
	}
	return false
}

// Position is a byte-offset range into the original text of a span at
// tag-creation time. Spans are never mutated in ways that would shift
// offsets after tags are attached.
type Position struct {
	StartIndex int `json:"startIndex"`
	EndIndex   int `json:"endIndex"`
}

// TagKind enumerates the inline annotation kinds carried by InnerTag.
type TagKind string

const (
	TagBold        TagKind = "b"
	TagStrong      TagKind = "strong"
	TagItalic      TagKind = "i"
	TagEmphasis    TagKind = "em"
	TagUnderline   TagKind = "u"
	TagMath        TagKind = "math"
	TagMathDisplay TagKind = "math_display"
	TagReference   TagKind = "ref"
	TagSpanRef     TagKind = "spanref"
	TagConcept     TagKind = "concept"
	TagLink        TagKind = "a"
	TagCode        TagKind = "code"
	TagFootnote    TagKind = "footnote"
)

// InnerTag is a positional annotation over a span. Children hold tags that
// are structurally nested inside this one (e.g. a concept mention inside a
// bold run).
type InnerTag struct {
	ID       string            `json:"id"`
	Kind     TagKind           `json:"tagName"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Position Position          `json:"position"`
	Children []InnerTag        `json:"children,omitempty"`
}

// Span is a unit of raw text plus its inline tags. Tags are appended, never
// interleaved with edits, so positions stay valid against Text.
type Span struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	InnerTags []InnerTag `json:"innerTags"`
}

// Heading is a section heading with its markdown level (1-6).
type Heading struct {
	Level int    `json:"headingLevel"`
	Text  string `json:"text"`
}

// ContentKind discriminates the variants of Content.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentImage      ContentKind = "image"
	ContentFigure     ContentKind = "figure"
	ContentHTMLFigure ContentKind = "htmlFigure"
	ContentList       ContentKind = "list"
)

// Content is a tagged union over exactly one populated variant. The ID is
// also the placeholder key during the two-phase tree build. Use the New*
// constructors to guarantee exactly one variant is set.
type Content struct {
	ID   string      `json:"id"`
	Kind ContentKind `json:"kind"`

	Text       *TextContent       `json:"textContent,omitempty"`
	Image      *ImageContent      `json:"imageContent,omitempty"`
	Figure     *FigureContent     `json:"figureContent,omitempty"`
	HTMLFigure *HTMLFigureContent `json:"htmlFigureContent,omitempty"`
	List       *ListContent       `json:"listContent,omitempty"`
}

func NewTextContent(id string, t *TextContent) Content {
	return Content{ID: id, Kind: ContentText, Text: t}
}

func NewImageContent(id string, img *ImageContent) Content {
	return Content{ID: id, Kind: ContentImage, Image: img}
}

func NewFigureContent(id string, fig *FigureContent) Content {
	return Content{ID: id, Kind: ContentFigure, Figure: fig}
}

func NewHTMLFigureContent(id string, h *HTMLFigureContent) Content {
	return Content{ID: id, Kind: ContentHTMLFigure, HTMLFigure: h}
}

func NewListContent(id string, l *ListContent) Content {
	return Content{ID: id, Kind: ContentList, List: l}
}

// TextContent is a run of spans under a single block tag (p, pre, code).
type TextContent struct {
	TagName string `json:"tagName"`
	Spans   []Span `json:"spans"`
}

// ImageContent describes one extracted image. Width and height are zero
// until the image-extraction collaborator fills them in.
type ImageContent struct {
	LatexPath   string  `json:"latexPath"`
	StoragePath string  `json:"storagePath"`
	AltText     string  `json:"altText"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Caption     *Span   `json:"caption,omitempty"`
}

// FigureContent is a composite figure: an ordered list of images sharing
// one caption.
type FigureContent struct {
	Images  []ImageContent `json:"images"`
	Caption *Span          `json:"caption,omitempty"`
}

// HTMLFigureContent carries raw (sanitized) HTML for figures the markdown
// pass cannot express, e.g. tables and algorithm blocks.
type HTMLFigureContent struct {
	HTML    string `json:"html"`
	Caption *Span  `json:"caption,omitempty"`
}

// ListContent is an ordered or unordered list; items may nest sublists.
type ListContent struct {
	Items   []ListItem `json:"listItems"`
	Ordered bool       `json:"isOrdered"`
}

type ListItem struct {
	Spans   []Span       `json:"spans"`
	Sublist *ListContent `json:"subListContent,omitempty"`
}

// Section is a recursive structural unit. Invariant: SubSections, when
// present, is never empty.
type Section struct {
	ID          string    `json:"id"`
	Heading     Heading   `json:"heading"`
	Contents    []Content `json:"contents"`
	SubSections []Section `json:"subSections,omitempty"`
}

// Abstract holds the paper abstract as content blocks.
type Abstract struct {
	Contents []Content `json:"contents"`
}

// ConceptContent is one label/value detail pair on a concept.
type ConceptContent struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Concept is a named key concept extracted from the abstract. IDs are
// "concept-{index}", stable within one extraction batch.
type Concept struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Contents        []ConceptContent `json:"contents"`
	InTextCitations []string         `json:"inTextCitations"`
}

// Reference holds one bibliography entry as a single span, never split
// into sentences.
type Reference struct {
	ID   string `json:"id"`
	Span Span   `json:"span"`
}

// Footnote holds one footnote as a single span.
type Footnote struct {
	ID   string `json:"id"`
	Span Span   `json:"span"`
}

// Summary pairs a target id (section, content or span) with its summary.
type Summary struct {
	ID      string `json:"id"`
	Summary Span   `json:"summary"`
}

// Summaries holds the stage-3 output attached after summarization.
type Summaries struct {
	SectionSummaries      []Summary `json:"sectionSummaries"`
	ContentSummaries      []Summary `json:"contentSummaries"`
	SpanSummaries         []Summary `json:"spanSummaries"`
	AbstractExcerptSpanID string    `json:"abstractExcerptSpanId,omitempty"`
}

// Metadata is the lightweight paper metadata carried on the record and in
// waiting-stage status payloads.
type Metadata struct {
	PaperID     string    `json:"paperId"`
	Version     string    `json:"version"`
	Title       string    `json:"title"`
	Authors     []string  `json:"authors"`
	Summary     string    `json:"summary"`
	Pages       int       `json:"pages,omitempty"`
	PublishedAt time.Time `json:"publishedTimestamp"`
	UpdatedAt   time.Time `json:"updatedTimestamp"`
}

// LumiDoc is the root of the normalized document tree. Markdown is
// transient and cleared once the tree is structured. The orchestrator owns
// the value during construction; once persisted with StatusSuccess it is
// immutable by convention.
type LumiDoc struct {
	Markdown string `json:"markdown"`

	Sections []Section `json:"sections"`
	Concepts []Concept `json:"concepts"`

	Abstract   *Abstract   `json:"abstract,omitempty"`
	References []Reference `json:"references,omitempty"`
	Footnotes  []Footnote  `json:"footnotes,omitempty"`
	Summaries  *Summaries  `json:"summaries,omitempty"`
	Metadata   *Metadata   `json:"metadata,omitempty"`

	LoadingStatus LoadingStatus `json:"loadingStatus,omitempty"`
	LoadingError  string        `json:"loadingError,omitempty"`
}
