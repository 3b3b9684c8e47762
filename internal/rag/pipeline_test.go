package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowvault/knowvault/internal/chunker"
	"github.com/knowvault/knowvault/internal/crypto"
	"github.com/knowvault/knowvault/internal/ingest"
	"github.com/knowvault/knowvault/internal/retrieval"
	"github.com/knowvault/knowvault/internal/store"
	"github.com/knowvault/knowvault/internal/vectorstore"
)

// echoEmbedder places texts on a few fixed axes so retrieval is exact.
type echoEmbedder struct{}

func (echoEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		switch {
		case strings.Contains(text, "filing"):
			out[i] = []float32{1, 0, 0}
		case strings.Contains(text, "appeal"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (echoEmbedder) Dimension() int { return 3 }

// canned returns a fixed answer and records the prompt it was given.
type canned struct {
	answer string
	prompt string
}

func (c *canned) Generate(_ context.Context, prompt string) (string, error) {
	c.prompt = prompt
	return c.answer, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.Manager, *canned) {
	t.Helper()

	manager, err := store.NewManager(t.TempDir(), crypto.NewKeyring("pass"),
		vectorstore.NewMemoryProvider(echoEmbedder{}), store.NewRegistry(), nil)
	require.NoError(t, err)

	c, err := chunker.New()
	require.NoError(t, err)

	gen := &canned{answer: "File within thirty days."}
	coordinator := retrieval.New(manager, 5, nil)
	return NewPipeline(ingest.New(c, nil), manager, coordinator, gen, nil), manager, gen
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIngestFiles_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	p, manager, _ := newTestPipeline(t)
	require.NoError(t, manager.Create(ctx, "alpha", ""))

	dir := t.TempDir()
	good := writeFile(t, dir, "deadlines.txt", "filing deadline rules apply")
	bad := filepath.Join(dir, "missing.txt")
	unsupported := writeFile(t, dir, "scan.tiff", "binary")

	var stages []string
	result, err := p.IngestFiles(ctx, "alpha", []string{good, bad, unsupported}, chunker.ModeGeneral, nil, func(s string) {
		stages = append(stages, s)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalFiles)
	assert.Equal(t, 1, result.SuccessfulFiles)
	assert.Equal(t, 1, result.TotalChunks)
	require.Len(t, result.FailedFiles, 2)
	assert.Equal(t, bad, result.FailedFiles[0].Path)
	assert.Equal(t, unsupported, result.FailedFiles[1].Path)

	require.Len(t, stages, 3)
	assert.Contains(t, stages[0], "[1/3]")

	h, err := manager.Open(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.Info.DocumentCount)
}

func TestAsk_GroundsAnswerInRetrievedChunks(t *testing.T) {
	ctx := context.Background()
	p, manager, gen := newTestPipeline(t)
	require.NoError(t, manager.Create(ctx, "alpha", ""))

	dir := t.TempDir()
	path := writeFile(t, dir, "deadlines.txt", "filing deadline is thirty days")
	_, err := p.IngestFiles(ctx, "alpha", []string{path}, chunker.ModeGeneral, nil, nil)
	require.NoError(t, err)

	answer, err := p.Ask(ctx, "what is the filing deadline?", []string{"alpha"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "File within thirty days.", answer.Answer)
	assert.Greater(t, answer.Confidence, 0.0)
	assert.Equal(t, []string{"alpha"}, answer.DatabasesQueried)

	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "alpha", answer.Sources[0].Database)
	assert.Contains(t, answer.Sources[0].ContentPreview, "thirty days")
	assert.Equal(t, "deadlines.txt", answer.Sources[0].Metadata.SourceFile)

	// The generator saw the retrieved chunk, labelled with its database.
	assert.Contains(t, gen.prompt, "Source: alpha")
	assert.Contains(t, gen.prompt, "filing deadline is thirty days")
	assert.Contains(t, gen.prompt, "Question: what is the filing deadline?")
}

func TestAsk_NoContent(t *testing.T) {
	ctx := context.Background()
	p, manager, gen := newTestPipeline(t)
	require.NoError(t, manager.Create(ctx, "alpha", ""))

	answer, err := p.Ask(ctx, "anything relevant?", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, NoContentAnswer, answer.Answer)
	assert.Zero(t, answer.Confidence)
	assert.Empty(t, gen.prompt, "no generation without retrieved context")

	// An empty database also yields the no-content answer.
	answer, err = p.Ask(ctx, "anything relevant?", []string{"alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, NoContentAnswer, answer.Answer)
	assert.Zero(t, answer.Confidence)
}
