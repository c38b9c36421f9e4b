package convert

import "testing"

const regionSample = `[[l-abstract-start]]
We study things.
[[l-abstract-end]]

# Introduction

Body text.

[[l-references-start]]
[[l-ref id="bib1"]] First, A. (2020). A paper.
[[l-ref id="bib2"]] Second, B. (2021).
Continuation line of the second entry.
[[l-references-end]]

[[l-footnotes-start]]
[[l-footnote id="fn1"]] A clarifying note.
[[l-footnotes-end]]`

func TestSplitRegions(t *testing.T) {
	r := SplitRegions(regionSample)

	if r.Abstract != "We study things." {
		t.Errorf("Abstract = %q", r.Abstract)
	}
	if len(r.References) != 2 {
		t.Fatalf("got %d references, want 2", len(r.References))
	}
	if r.References[0].ID != "bib1" || r.References[0].Text != "First, A. (2020). A paper." {
		t.Errorf("reference[0] = %+v", r.References[0])
	}
	// A multi-line entry runs until the next marker.
	if r.References[1].ID != "bib2" {
		t.Errorf("reference[1].ID = %q", r.References[1].ID)
	}
	if want := "Second, B. (2021).\nContinuation line of the second entry."; r.References[1].Text != want {
		t.Errorf("reference[1].Text = %q, want %q", r.References[1].Text, want)
	}
	if len(r.Footnotes) != 1 || r.Footnotes[0].ID != "fn1" {
		t.Fatalf("footnotes = %+v", r.Footnotes)
	}
	if r.Content != "# Introduction\n\nBody text." {
		t.Errorf("Content = %q", r.Content)
	}
}

func TestSplitRegions_NoMarkers(t *testing.T) {
	r := SplitRegions("# Just content\n\nNothing else.")
	if r.Abstract != "" || len(r.References) != 0 || len(r.Footnotes) != 0 {
		t.Errorf("unexpected regions: %+v", r)
	}
	if r.Content != "# Just content\n\nNothing else." {
		t.Errorf("Content = %q", r.Content)
	}
}

func TestSplitRegions_EmptyItemSkipped(t *testing.T) {
	r := SplitRegions(`[[l-references-start]]
[[l-ref id="bib1"]]
[[l-ref id="bib2"]] Real entry.
[[l-references-end]]`)
	if len(r.References) != 1 || r.References[0].ID != "bib2" {
		t.Errorf("references = %+v", r.References)
	}
}
