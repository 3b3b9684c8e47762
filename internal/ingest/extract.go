package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	gmtext "github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"

	"github.com/knowvault/knowvault/internal/chunker"
)

// ingestMarkdown extracts plain text from a markdown file and records the
// document outline as extension metadata so retrieval results keep their
// section context.
func (ing *Ingestor) ingestMarkdown(path string, mode chunker.Mode, extra map[string]string) ([]DocumentChunk, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	text, outline, err := extractMarkdown(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	merged := copyExtra(extra)
	if outline != "" {
		merged["outline"] = outline
	}
	return ing.buildChunks(path, "markdown", text, mode, merged), nil
}

// extractMarkdown parses the source with goldmark, walking the AST to
// collect visible text and inspecting the TOC for the H1/H2 outline.
func extractMarkdown(source []byte) (text string, outline string, err error) {
	md := goldmark.New(goldmark.WithParserOptions(parser.WithAutoHeadingID()))
	doc := md.Parser().Parse(gmtext.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return "", "", fmt.Errorf("inspect TOC: %w", err)
	}
	outline = flattenOutline(tree.Items, nil)

	var b strings.Builder
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.Kind() {
			case ast.KindHeading, ast.KindParagraph, ast.KindListItem, ast.KindBlockquote:
				b.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteString("\n")
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(source))
			}
			b.WriteString("\n")
		case *ast.CodeSpan:
			// chardata of code spans is carried by child Text nodes
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", "", err
	}

	return strings.TrimSpace(b.String()), outline, nil
}

// flattenOutline renders the TOC as "Title > Section; Title > Other".
func flattenOutline(items toc.Items, ancestors []string) string {
	var parts []string
	for _, item := range items {
		path := append(ancestors, string(item.Title))
		parts = append(parts, strings.Join(path, " > "))
		if len(item.Items) > 0 {
			if sub := flattenOutline(item.Items, path); sub != "" {
				parts = append(parts, sub)
			}
		}
	}
	return strings.Join(parts, "; ")
}

// ingestCSV treats each row as one chunk: the content column supplies the
// text, every other column becomes per-chunk metadata prefixed by its
// origin. Row index doubles as the chunk index so ids stay stable.
func (ing *Ingestor) ingestCSV(path, contentColumn string, extra map[string]string) ([]DocumentChunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: csv file has no columns", ErrExtraction)
	}

	headers := rows[0]
	contentIdx := 0
	if contentColumn != "" {
		contentIdx = -1
		for i, h := range headers {
			if h == contentColumn {
				contentIdx = i
				break
			}
		}
		if contentIdx < 0 {
			return nil, fmt.Errorf("%w: content column %q not found", ErrExtraction, contentColumn)
		}
	}

	fileName := filepath.Base(path)
	var chunks []DocumentChunk
	for rowIdx, row := range rows[1:] {
		if contentIdx >= len(row) {
			continue
		}
		content := strings.TrimSpace(row[contentIdx])
		if content == "" {
			continue
		}

		rowExtra := copyExtra(extra)
		rowExtra["row_number"] = strconv.Itoa(rowIdx + 1)
		for i, h := range headers {
			if i == contentIdx || i >= len(row) {
				continue
			}
			rowExtra["csv_"+h] = row[i]
		}

		chunks = append(chunks, DocumentChunk{
			ID:      ChunkID(fileName, rowIdx),
			Content: content,
			Metadata: Metadata{
				SourceFile:  fileName,
				SourceType:  "csv",
				ChunkIndex:  rowIdx,
				TotalChunks: 0, // filled below once the row count is known
				Extra:       rowExtra,
			},
		})
	}

	now := nowFunc()
	for i := range chunks {
		chunks[i].Metadata.TotalChunks = len(chunks)
		chunks[i].Metadata.ProcessedAt = now
	}

	ing.logger.Info("processed file", "file", fileName, "type", "csv", "chunks", len(chunks))
	return chunks, nil
}

// ingestDocx reads paragraph text from word/document.xml inside the OOXML
// archive. Formatting runs are concatenated; one line per paragraph.
func (ing *Ingestor) ingestDocx(path string, mode chunker.Mode, extra map[string]string) ([]DocumentChunk, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a valid docx archive", ErrExtraction)
	}

	text, err := extractDocxText(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	return ing.buildChunks(path, "docx", text, mode, extra), nil
}

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []struct {
		Text []struct {
			Content string `xml:",chardata"`
		} `xml:"t"`
	} `xml:"r"`
}

func extractDocxText(reader *zip.Reader) (string, error) {
	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}

		var doc docxDocument
		if err := xml.Unmarshal(content, &doc); err != nil {
			return "", err
		}

		var b strings.Builder
		for i, para := range doc.Body.Paragraphs {
			if i > 0 {
				b.WriteString("\n")
			}
			for _, run := range para.Runs {
				for _, t := range run.Text {
					b.WriteString(t.Content)
				}
			}
		}
		return strings.TrimSpace(b.String()), nil
	}
	return "", fmt.Errorf("word/document.xml not found")
}
