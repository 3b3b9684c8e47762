// Package ingest turns files into DocumentChunk records: it validates the
// file, extracts raw text per format, runs the chunker, and attaches
// provenance metadata. Extraction failures are reported as typed errors with
// zero chunks; callers decide whether that is fatal for their batch.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knowvault/knowvault/internal/chunker"
)

// MaxFileSizeMB is the ingestion size ceiling.
const MaxFileSizeMB = 100

var (
	// ErrUnsupportedFormat indicates a file extension with no extractor.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrFileMissing indicates the file does not exist.
	ErrFileMissing = errors.New("file does not exist")
	// ErrFileTooLarge indicates the file exceeds MaxFileSizeMB.
	ErrFileTooLarge = errors.New("file too large")
	// ErrExtraction indicates format-specific text extraction failed.
	ErrExtraction = errors.New("text extraction failed")
)

// nowFunc is swapped in tests to freeze chunk timestamps.
var nowFunc = time.Now

// chunkNamespace anchors deterministic chunk id derivation. Changing it
// would invalidate every stored chunk id.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("knowvault.chunk"))

// ChunkID derives a stable chunk id from the source file name and chunk (or
// row) index. Re-ingesting an unchanged file yields identical ids, which
// makes re-imports idempotent under the store's overwrite-on-collision
// policy.
func ChunkID(fileName string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s_%d", fileName, index))).String()
}

// Metadata is the provenance record attached to every chunk: a fixed typed
// core plus an open extension map for format-specific fields.
type Metadata struct {
	SourceFile  string
	SourceType  string
	ChunkIndex  int
	TotalChunks int
	ProcessedAt time.Time
	Extra       map[string]string
}

// Payload flattens metadata into the key/value form vector-store
// collections persist alongside each chunk.
func (m Metadata) Payload() map[string]any {
	p := map[string]any{
		"source_file":  m.SourceFile,
		"source_type":  m.SourceType,
		"chunk_index":  m.ChunkIndex,
		"total_chunks": m.TotalChunks,
		"processed_at": m.ProcessedAt.Format(time.RFC3339),
	}
	for k, v := range m.Extra {
		p[k] = v
	}
	return p
}

// MetadataFromPayload rebuilds Metadata from a stored payload. Unknown keys
// land in Extra.
func MetadataFromPayload(p map[string]any) Metadata {
	m := Metadata{Extra: make(map[string]string)}
	for k, v := range p {
		switch k {
		case "source_file":
			m.SourceFile, _ = v.(string)
		case "source_type":
			m.SourceType, _ = v.(string)
		case "chunk_index":
			m.ChunkIndex = toInt(v)
		case "total_chunks":
			m.TotalChunks = toInt(v)
		case "processed_at":
			if s, ok := v.(string); ok {
				m.ProcessedAt, _ = time.Parse(time.RFC3339, s)
			}
		default:
			m.Extra[k] = fmt.Sprintf("%v", v)
		}
	}
	return m
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}

// DocumentChunk is one retrievable unit produced by ingestion. Immutable
// once created.
type DocumentChunk struct {
	ID       string
	Content  string
	Metadata Metadata
}

// ValidationResult describes whether a file may be ingested. It is a value,
// not an error: rejection is an expected outcome, reported per file.
type ValidationResult struct {
	Valid     bool
	Error     string
	SizeMB    float64
	Extension string
}

// SupportedExtensions lists the formats with extractors, lowercase with dot.
func SupportedExtensions() []string {
	return []string{".pdf", ".txt", ".text", ".md", ".markdown", ".csv", ".docx"}
}

// ValidateFile checks existence, extension and the size ceiling before any
// extraction happens.
func ValidateFile(path string) ValidationResult {
	result := ValidationResult{Extension: strings.ToLower(filepath.Ext(path))}

	info, err := os.Stat(path)
	if err != nil {
		result.Error = "file does not exist"
		return result
	}

	supported := false
	for _, ext := range SupportedExtensions() {
		if result.Extension == ext {
			supported = true
			break
		}
	}
	if !supported {
		result.Error = fmt.Sprintf("unsupported file type: %s", result.Extension)
		return result
	}

	result.SizeMB = float64(info.Size()) / (1024 * 1024)
	if result.SizeMB > MaxFileSizeMB {
		result.Error = fmt.Sprintf("file too large: %.1fMB (max %dMB)", result.SizeMB, MaxFileSizeMB)
		return result
	}

	result.Valid = true
	return result
}

// Ingestor extracts and chunks files.
type Ingestor struct {
	chunker *chunker.Chunker
	logger  *slog.Logger
}

// New creates an Ingestor around the given chunker.
func New(c *chunker.Chunker, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{chunker: c, logger: logger}
}

// Ingest processes one file in the given chunking mode. For tabular files
// the first column is the content column; use IngestCSV to designate
// another. Extra metadata is copied onto every produced chunk.
func (ing *Ingestor) Ingest(path string, mode chunker.Mode, extra map[string]string) ([]DocumentChunk, error) {
	v := ValidateFile(path)
	if !v.Valid {
		return nil, validationError(v)
	}

	switch v.Extension {
	case ".pdf":
		return ing.ingestPDF(path, mode, extra)
	case ".csv":
		return ing.ingestCSV(path, "", extra)
	case ".txt", ".text":
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		return ing.buildChunks(path, "txt", string(text), mode, extra), nil
	case ".md", ".markdown":
		return ing.ingestMarkdown(path, mode, extra)
	case ".docx":
		return ing.ingestDocx(path, mode, extra)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, v.Extension)
	}
}

// IngestCSV processes a tabular file using the named content column. Every
// non-empty cell of that column becomes one chunk; the remaining columns of
// the row become per-chunk metadata prefixed with "csv_".
func (ing *Ingestor) IngestCSV(path, contentColumn string, extra map[string]string) ([]DocumentChunk, error) {
	v := ValidateFile(path)
	if !v.Valid {
		return nil, validationError(v)
	}
	return ing.ingestCSV(path, contentColumn, extra)
}

func validationError(v ValidationResult) error {
	switch {
	case strings.HasPrefix(v.Error, "unsupported"):
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, v.Extension)
	case strings.HasPrefix(v.Error, "file too large"):
		return fmt.Errorf("%w: %.1fMB", ErrFileTooLarge, v.SizeMB)
	default:
		return ErrFileMissing
	}
}

// buildChunks runs the chunker over extracted text and wraps the results in
// DocumentChunk records with stable ids.
func (ing *Ingestor) buildChunks(path, sourceType, text string, mode chunker.Mode, extra map[string]string) []DocumentChunk {
	fileName := filepath.Base(path)
	pieces := ing.chunker.Chunk(text, mode)
	now := nowFunc()

	chunks := make([]DocumentChunk, 0, len(pieces))
	for i, content := range pieces {
		chunks = append(chunks, DocumentChunk{
			ID:      ChunkID(fileName, i),
			Content: content,
			Metadata: Metadata{
				SourceFile:  fileName,
				SourceType:  sourceType,
				ChunkIndex:  i,
				TotalChunks: len(pieces),
				ProcessedAt: now,
				Extra:       copyExtra(extra),
			},
		})
	}

	ing.logger.Info("processed file", "file", fileName, "type", sourceType, "chunks", len(chunks))
	return chunks
}

func copyExtra(extra map[string]string) map[string]string {
	out := make(map[string]string, len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}
