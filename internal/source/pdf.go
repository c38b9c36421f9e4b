// Package source inspects raw paper sources before import. PDF text is
// used to recover an abstract fallback when metadata carries none, and for
// the page count on the record.
package source

import (
	"fmt"
	"os"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// ExtractPDFText pulls plain text and the page count out of PDF bytes.
func ExtractPDFText(data []byte) (string, int, error) {
	// The pdf library needs a ReadSeeker plus size, so go through a temp file.
	tmp, err := os.CreateTemp("", "lumi-pdf-*.pdf")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	f, reader, err := pdflib.Open(tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if i > 1 {
			buf.WriteString("\f")
		}
		buf.WriteString(text)
	}
	return buf.String(), numPages, nil
}

// AbstractFallback takes the opening run of the extracted text as a stand-in
// abstract when the caller supplied none.
func AbstractFallback(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\f", "\n"))
	const limit = 1500
	if len(text) <= limit {
		return text
	}
	cut := strings.LastIndexByte(text[:limit], '.')
	if cut < limit/2 {
		cut = limit - 1
	}
	return strings.TrimSpace(text[:cut+1])
}
