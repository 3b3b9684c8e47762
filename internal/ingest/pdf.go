package ingest

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/knowvault/knowvault/internal/chunker"
)

// ingestPDF extracts text page by page, prefixing each page with the page
// marker letter-mode chunking splits on.
func (ing *Ingestor) ingestPDF(path string, mode chunker.Mode, extra map[string]string) ([]DocumentChunk, error) {
	text, err := extractPDFText(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: no extractable text in pdf", ErrExtraction)
	}
	return ing.buildChunks(path, "pdf", text, mode, extra), nil
}

// extractPDFText joins per-page text under "--- Page N ---" headers. The
// parser panics on some malformed files, so the recover turns those into
// plain errors.
func extractPDFText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n\n%s%d ---\n", chunker.PageBreakMarker, i)
		b.WriteString(pageText)
	}
	return strings.TrimSpace(b.String()), nil
}
