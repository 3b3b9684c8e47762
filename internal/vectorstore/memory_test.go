package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps known texts to fixed vectors so similarity ordering in
// tests is exact.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: map[string][]float32{
		"cats":        {1, 0, 0},
		"mostly cats": {0.9, 0.1, 0},
		"dogs":        {0, 1, 0},
		"query: cats": {1, 0, 0},
		"query: dogs": {0, 1, 0},
	}}
}

func TestMemoryProvider_Lifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(newFakeEmbedder())

	require.NoError(t, p.Create(ctx, "kb_alpha"))

	exists, err := p.Exists(ctx, "kb_alpha")
	require.NoError(t, err)
	assert.True(t, exists)

	err = p.Create(ctx, "kb_alpha")
	assert.ErrorIs(t, err, ErrCollectionExists)

	_, err = p.Open(ctx, "kb_ghost")
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	require.NoError(t, p.Delete(ctx, "kb_alpha"))
	exists, err = p.Exists(ctx, "kb_alpha")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCollection_QueryOrdering(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(newFakeEmbedder())
	require.NoError(t, p.Create(ctx, "kb_alpha"))

	coll, err := p.Open(ctx, "kb_alpha")
	require.NoError(t, err)

	require.NoError(t, coll.Add(ctx, []Record{
		{ID: "1", Content: "dogs"},
		{ID: "2", Content: "cats"},
		{ID: "3", Content: "mostly cats"},
	}))

	hits, err := coll.Query(ctx, "query: cats", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "cats", hits[0].Content)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-9)
	assert.Equal(t, "mostly cats", hits[1].Content)
	assert.Greater(t, hits[1].Distance, hits[0].Distance)
}

func TestMemoryCollection_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(newFakeEmbedder())
	require.NoError(t, p.Create(ctx, "kb_alpha"))

	coll, err := p.Open(ctx, "kb_alpha")
	require.NoError(t, err)

	require.NoError(t, coll.Add(ctx, []Record{{ID: "1", Content: "cats"}}))
	require.NoError(t, coll.Add(ctx, []Record{{ID: "1", Content: "dogs", Payload: map[string]any{"v": 2}}}))

	count, err := coll.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count, "re-adding an id must not grow the collection")

	hits, err := coll.Query(ctx, "query: dogs", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "dogs", hits[0].Content)
	assert.Equal(t, 2, hits[0].Payload["v"])
}

func TestMemoryCollection_QueryBounds(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider(newFakeEmbedder())
	require.NoError(t, p.Create(ctx, "kb_alpha"))

	coll, err := p.Open(ctx, "kb_alpha")
	require.NoError(t, err)
	require.NoError(t, coll.Add(ctx, []Record{{ID: "1", Content: "cats"}}))

	// topK beyond the collection size returns everything.
	hits, err := coll.Query(ctx, "query: cats", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = coll.Query(ctx, "query: cats", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
