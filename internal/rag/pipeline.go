// Package rag wires ingestion and retrieval into the two long-running flows
// the engine exposes: batch document import and retrieval-augmented
// question answering. Both report incremental progress and honour
// cooperative cancellation between discrete steps, so an interrupt never
// lands mid-way through an encryption or vector-store write.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knowvault/knowvault/internal/chunker"
	"github.com/knowvault/knowvault/internal/generation"
	"github.com/knowvault/knowvault/internal/ingest"
	"github.com/knowvault/knowvault/internal/retrieval"
	"github.com/knowvault/knowvault/internal/store"
)

// NoContentAnswer is returned when no database yields any relevant chunk.
const NoContentAnswer = "No relevant content found in the selected databases."

// sourcePreviewLen bounds the per-source content preview in answers.
const sourcePreviewLen = 200

// Progress receives staged status messages during long operations. A nil
// Progress is silently ignored.
type Progress func(stage string)

func (p Progress) report(format string, args ...any) {
	if p != nil {
		p(fmt.Sprintf(format, args...))
	}
}

// FailedFile records one file that could not be imported.
type FailedFile struct {
	Path   string
	Reason string
}

// IngestResult summarises a batch import.
type IngestResult struct {
	TotalFiles      int
	SuccessfulFiles int
	TotalChunks     int
	FailedFiles     []FailedFile
	Duration        time.Duration
}

// Source describes where part of an answer came from.
type Source struct {
	Database       string
	ContentPreview string
	Metadata       ingest.Metadata
}

// Answer is the outcome of one retrieval-augmented query.
type Answer struct {
	Answer           string
	Sources          []Source
	Confidence       float64
	DatabasesQueried []string
}

// Pipeline composes the ingestor, store, coordinator and generator.
type Pipeline struct {
	ingestor    *ingest.Ingestor
	manager     *store.Manager
	coordinator *retrieval.Coordinator
	generator   generation.Generator
	logger      *slog.Logger
}

// NewPipeline creates a pipeline. The generator may be nil when only
// ingestion and raw retrieval are needed.
func NewPipeline(ingestor *ingest.Ingestor, manager *store.Manager, coordinator *retrieval.Coordinator, generator generation.Generator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		ingestor:    ingestor,
		manager:     manager,
		coordinator: coordinator,
		generator:   generator,
		logger:      logger,
	}
}

// IngestFiles imports a batch of files into one database. A file that fails
// validation or extraction is recorded and skipped; it never aborts the
// rest of the batch. Cancellation is checked between files.
func (p *Pipeline) IngestFiles(ctx context.Context, database string, paths []string, mode chunker.Mode, extra map[string]string, progress Progress) (*IngestResult, error) {
	start := time.Now()
	result := &IngestResult{TotalFiles: len(paths)}

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		progress.report("[%d/%d] Processing %s...", i+1, len(paths), path)

		chunks, err := p.ingestor.Ingest(path, mode, extra)
		if err != nil {
			p.logger.Warn("failed to ingest file", "path", path, "error", err)
			result.FailedFiles = append(result.FailedFiles, FailedFile{Path: path, Reason: err.Error()})
			continue
		}
		if len(chunks) == 0 {
			continue
		}

		if err := p.manager.AddDocuments(ctx, database, chunks); err != nil {
			p.logger.Warn("failed to store chunks", "path", path, "database", database, "error", err)
			result.FailedFiles = append(result.FailedFiles, FailedFile{Path: path, Reason: err.Error()})
			continue
		}

		result.SuccessfulFiles++
		result.TotalChunks += len(chunks)
	}

	result.Duration = time.Since(start)
	p.logger.Info("ingestion complete",
		"database", database,
		"successful", result.SuccessfulFiles,
		"failed", len(result.FailedFiles),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

// Ask retrieves relevant chunks across the given databases and generates an
// answer grounded in them. An empty retrieval produces the explicit
// no-content answer with zero confidence rather than a hallucinated reply.
func (p *Pipeline) Ask(ctx context.Context, query string, databases []string, progress Progress) (*Answer, error) {
	if p.generator == nil {
		return nil, fmt.Errorf("no answer generator configured")
	}
	progress.report("[1/4] Retrieving from %d database(s)...", len(databases))

	set, err := p.coordinator.Retrieve(ctx, query, databases)
	if err != nil {
		return nil, err
	}
	if set.NoContent {
		return &Answer{
			Answer:           NoContentAnswer,
			Confidence:       0,
			DatabasesQueried: databases,
		}, nil
	}

	progress.report("[2/4] Building prompt from %d chunks...", len(set.Results))
	prompt := buildPrompt(query, set.Results)

	progress.report("[3/4] Generating answer...")
	text, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	progress.report("[4/4] Complete")
	return &Answer{
		Answer:           text,
		Sources:          sourcesOf(set.Results),
		Confidence:       set.Confidence,
		DatabasesQueried: databases,
	}, nil
}

// buildPrompt assembles the grounded prompt: one source block per chunk,
// each labelled with its origin database.
func buildPrompt(query string, results []store.QueryResult) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. ")
	b.WriteString("If the context does not contain the answer, say so.\n\nContext:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "Source: %s\n%s\n\n", r.SourceDatabase, r.Content)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}

func sourcesOf(results []store.QueryResult) []Source {
	sources := make([]Source, 0, len(results))
	for _, r := range results {
		preview := r.Content
		if runes := []rune(preview); len(runes) > sourcePreviewLen {
			preview = string(runes[:sourcePreviewLen]) + "..."
		}
		sources = append(sources, Source{
			Database:       r.SourceDatabase,
			ContentPreview: preview,
			Metadata:       r.Metadata,
		})
	}
	return sources
}
