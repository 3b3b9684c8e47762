package ingest

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowvault/knowvault/internal/chunker"
)

func newTestIngestor(t *testing.T, opts ...chunker.Option) *Ingestor {
	t.Helper()
	c, err := chunker.New(opts...)
	require.NoError(t, err)
	return New(c, nil)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateFile(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		v := ValidateFile(filepath.Join(t.TempDir(), "nope.txt"))
		assert.False(t, v.Valid)
		assert.Contains(t, v.Error, "does not exist")
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, "slides.pptx", "binary")
		v := ValidateFile(path)
		assert.False(t, v.Valid)
		assert.Contains(t, v.Error, "unsupported file type")
		assert.Equal(t, ".pptx", v.Extension)
	})

	t.Run("pdf accepted", func(t *testing.T) {
		path := writeFile(t, "report.pdf", "binary")
		v := ValidateFile(path)
		assert.True(t, v.Valid)
		assert.Equal(t, ".pdf", v.Extension)
	})

	t.Run("valid", func(t *testing.T) {
		path := writeFile(t, "notes.txt", "hello")
		v := ValidateFile(path)
		assert.True(t, v.Valid)
		assert.Empty(t, v.Error)
		assert.Equal(t, ".txt", v.Extension)
	})
}

func TestChunkID_Deterministic(t *testing.T) {
	a := ChunkID("notes.txt", 0)
	b := ChunkID("notes.txt", 0)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, ChunkID("notes.txt", 1))
	assert.NotEqual(t, a, ChunkID("other.txt", 0))

	// Ids double as vector store point ids and must parse as UUIDs.
	_, err := uuid.Parse(a)
	require.NoError(t, err)
}

func TestIngest_TextFile(t *testing.T) {
	restore := nowFunc
	nowFunc = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	defer func() { nowFunc = restore }()

	ing := newTestIngestor(t, chunker.WithChunkSize(50), chunker.WithChunkOverlap(10))
	path := writeFile(t, "notes.txt", strings.Repeat("alpha beta gamma ", 20))

	chunks, err := ing.Ingest(path, chunker.ModeGeneral, map[string]string{"case": "alpha-v-beta"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, chunk := range chunks {
		assert.Equal(t, ChunkID("notes.txt", i), chunk.ID)
		assert.Equal(t, "notes.txt", chunk.Metadata.SourceFile)
		assert.Equal(t, "txt", chunk.Metadata.SourceType)
		assert.Equal(t, i, chunk.Metadata.ChunkIndex)
		assert.Equal(t, len(chunks), chunk.Metadata.TotalChunks)
		assert.Equal(t, nowFunc(), chunk.Metadata.ProcessedAt)
		assert.Equal(t, "alpha-v-beta", chunk.Metadata.Extra["case"])
	}

	// Re-ingesting the unchanged file yields identical ids.
	again, err := ing.Ingest(path, chunker.ModeGeneral, nil)
	require.NoError(t, err)
	require.Len(t, again, len(chunks))
	for i := range chunks {
		assert.Equal(t, chunks[i].ID, again[i].ID)
	}
}

func TestIngest_TypedErrors(t *testing.T) {
	ing := newTestIngestor(t)

	_, err := ing.Ingest(filepath.Join(t.TempDir(), "ghost.txt"), chunker.ModeGeneral, nil)
	assert.ErrorIs(t, err, ErrFileMissing)

	path := writeFile(t, "scan.pptx", "binary")
	_, err = ing.Ingest(path, chunker.ModeGeneral, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

// TestIngestPDF_BrokenFile verifies pdf files are routed to the extractor and
// that unparseable content surfaces as a typed extraction error rather than a
// format rejection.
func TestIngestPDF_BrokenFile(t *testing.T) {
	ing := newTestIngestor(t)

	path := writeFile(t, "broken.pdf", "this is not a pdf")
	_, err := ing.Ingest(path, chunker.ModeLetter, nil)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestIngestCSV(t *testing.T) {
	csvData := "title,content,author\n" +
		"First,Alpha duties apply broadly.,Smith\n" +
		"Second,,Jones\n" +
		"Third,Beta duties are narrower.,Lee\n"
	path := writeFile(t, "cases.csv", csvData)
	ing := newTestIngestor(t)

	chunks, err := ing.IngestCSV(path, "content", nil)
	require.NoError(t, err)
	require.Len(t, chunks, 2, "blank content rows are skipped")

	assert.Equal(t, "Alpha duties apply broadly.", chunks[0].Content)
	assert.Equal(t, "csv", chunks[0].Metadata.SourceType)
	assert.Equal(t, "1", chunks[0].Metadata.Extra["row_number"])
	assert.Equal(t, "First", chunks[0].Metadata.Extra["csv_title"])
	assert.Equal(t, "Smith", chunks[0].Metadata.Extra["csv_author"])

	// Row index, not chunk position, anchors the id so skipped rows don't
	// shift ids of the rows after them.
	assert.Equal(t, ChunkID("cases.csv", 2), chunks[1].ID)
	assert.Equal(t, 2, chunks[0].Metadata.TotalChunks)

	_, err = ing.IngestCSV(path, "missing_column", nil)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestIngest_CSVDefaultsToFirstColumn(t *testing.T) {
	path := writeFile(t, "rows.csv", "content,note\nHello there.,aside\n")
	ing := newTestIngestor(t)

	chunks, err := ing.Ingest(path, chunker.ModeGeneral, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Hello there.", chunks[0].Content)
}

func TestIngest_Markdown(t *testing.T) {
	md := "# Filing Guide\n\nIntroduction paragraph here.\n\n## Deadlines\n\nFile within thirty days.\n\n```\ndeadline --check\n```\n"
	path := writeFile(t, "guide.md", md)
	ing := newTestIngestor(t)

	chunks, err := ing.Ingest(path, chunker.ModeGeneral, nil)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	joined := ""
	for _, c := range chunks {
		joined += c.Content
	}
	assert.Contains(t, joined, "Introduction paragraph here.")
	assert.Contains(t, joined, "File within thirty days.")
	assert.Contains(t, joined, "deadline --check")

	outline := chunks[0].Metadata.Extra["outline"]
	assert.Contains(t, outline, "Filing Guide")
	assert.Contains(t, outline, "Filing Guide > Deadlines")
	assert.Equal(t, "markdown", chunks[0].Metadata.SourceType)
}

func TestIngest_Docx(t *testing.T) {
	path := filepath.Join(t.TempDir(), "letter.docx")
	writeDocx(t, path, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Dear Counsel,</w:t></w:r></w:p>
    <w:p><w:r><w:t>We write regarding </w:t></w:r><w:r><w:t>the pending matter.</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	ing := newTestIngestor(t)
	chunks, err := ing.Ingest(path, chunker.ModeGeneral, nil)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Contains(t, chunks[0].Content, "Dear Counsel,")
	assert.Contains(t, chunks[0].Content, "We write regarding the pending matter.")
	assert.Equal(t, "docx", chunks[0].Metadata.SourceType)
}

func TestIngest_DocxNotAnArchive(t *testing.T) {
	path := writeFile(t, "broken.docx", "this is not a zip")
	ing := newTestIngestor(t)

	_, err := ing.Ingest(path, chunker.ModeGeneral, nil)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestMetadata_PayloadRoundTrip(t *testing.T) {
	m := Metadata{
		SourceFile:  "notes.txt",
		SourceType:  "txt",
		ChunkIndex:  2,
		TotalChunks: 5,
		ProcessedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Extra:       map[string]string{"case": "alpha"},
	}

	got := MetadataFromPayload(m.Payload())
	assert.Equal(t, m.SourceFile, got.SourceFile)
	assert.Equal(t, m.ChunkIndex, got.ChunkIndex)
	assert.Equal(t, m.TotalChunks, got.TotalChunks)
	assert.True(t, m.ProcessedAt.Equal(got.ProcessedAt))
	assert.Equal(t, "alpha", got.Extra["case"])
}

func writeDocx(t *testing.T, path, documentXML string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
}
