package lumidoc

// CollectImages finds every ImageContent in the document, including images
// nested inside composite figures, in document order. The returned pointers
// alias the document so the image pipeline can fill in width and height.
func CollectImages(doc *LumiDoc) []*ImageContent {
	var images []*ImageContent

	fromContents := func(contents []Content) {
		for i := range contents {
			c := &contents[i]
			if c.Image != nil {
				images = append(images, c.Image)
			}
			if c.Figure != nil {
				for j := range c.Figure.Images {
					images = append(images, &c.Figure.Images[j])
				}
			}
		}
	}

	var fromSections func(sections []Section)
	fromSections = func(sections []Section) {
		for i := range sections {
			fromContents(sections[i].Contents)
			fromSections(sections[i].SubSections)
		}
	}

	if doc.Abstract != nil {
		fromContents(doc.Abstract.Contents)
	}
	fromSections(doc.Sections)
	return images
}

// CollectSpans returns pointers to every span in the given content blocks,
// including list items and nested sublists, in document order.
func CollectSpans(contents []Content) []*Span {
	var spans []*Span

	var fromList func(l *ListContent)
	fromList = func(l *ListContent) {
		for i := range l.Items {
			for j := range l.Items[i].Spans {
				spans = append(spans, &l.Items[i].Spans[j])
			}
			if l.Items[i].Sublist != nil {
				fromList(l.Items[i].Sublist)
			}
		}
	}

	for i := range contents {
		c := &contents[i]
		if c.Text != nil {
			for j := range c.Text.Spans {
				spans = append(spans, &c.Text.Spans[j])
			}
		}
		if c.List != nil {
			fromList(c.List)
		}
	}
	return spans
}

// WalkSections visits every section and nested sub-section in order.
func WalkSections(sections []Section, fn func(*Section)) {
	for i := range sections {
		fn(&sections[i])
		WalkSections(sections[i].SubSections, fn)
	}
}
