package importer

import "strings"

// formatInstructions tells the formatting model how to emit the
// intermediate markup that the conversion pass understands. The marker
// grammar here must stay in sync with the patterns in internal/convert.
const formatInstructions = `You are converting an academic paper into clean markdown with structural markers.

Read the attached PDF (and the LaTeX source below, when provided) and reproduce the full paper as markdown, following these rules exactly:

1. Use ATX headings (#, ##, ###) mirroring the paper's section hierarchy. Do not add headings the paper does not have.
2. Wrap the abstract in [[l-abstract-start]] and [[l-abstract-end]]. Do not include the word "Abstract" as a heading inside the region.
3. Write inline math as $...$ and display math as $$...$$, using the LaTeX from the source when available.
4. For each figure with a caption, wrap it as:
   [[l-figure-start]]...figure body...[[l-figure-end caption="the caption text"]]
5. For images, emit [[l-image path="relative/path/from/source.png" caption="the caption"]] using the path from the LaTeX source. If no source is available, omit the image.
6. For figures that are best expressed as HTML (tables, complex layouts), wrap the HTML as:
   [[l-html-figure-start]]...html...[[l-html-figure-end caption="the caption"]]
7. Wrap the bibliography in [[l-references-start]] and [[l-references-end]]. Precede each entry with [[l-ref id="bibN"]] where N is the entry number. Link in-text citations to entries as [N](#bibN).
8. Wrap footnotes in [[l-footnotes-start]] and [[l-footnotes-end]]. Precede each with [[l-footnote id="fnN"]] and link footnote marks as [N](#fnN).
9. Keep all body text verbatim. Do not summarize, omit or reorder content. Do not add commentary.

Output only the markdown document.`

// formatPrompt builds the conversion prompt, appending the inlined LaTeX
// source when the caller has one.
func formatPrompt(latex string) string {
	if strings.TrimSpace(latex) == "" {
		return formatInstructions
	}
	var b strings.Builder
	b.WriteString(formatInstructions)
	b.WriteString("\n\nLaTeX source of the paper:\n\n```latex\n")
	b.WriteString(latex)
	b.WriteString("\n```\n")
	return b.String()
}
