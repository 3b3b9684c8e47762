package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowvault/knowvault/internal/store"
)

// fakeQuerier serves canned per-database results.
type fakeQuerier struct {
	results map[string][]store.QueryResult
	err     error
}

func (f *fakeQuerier) Query(_ context.Context, _ string, names []string, _ int) (map[string][]store.QueryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]store.QueryResult, len(names))
	for _, name := range names {
		out[name] = f.results[name]
	}
	return out, nil
}

func hit(db string, distance float64) store.QueryResult {
	return store.QueryResult{Content: db, Distance: distance, SourceDatabase: db}
}

func TestRetrieve_MergesAcrossDatabasesByDistance(t *testing.T) {
	q := &fakeQuerier{results: map[string][]store.QueryResult{
		"alpha": {hit("alpha", 0.30), hit("alpha", 0.50)},
		"beta":  {hit("beta", 0.10), hit("beta", 0.40)},
	}}
	c := New(q, 5, nil)

	set, err := c.Retrieve(context.Background(), "query", []string{"alpha", "beta"})
	require.NoError(t, err)
	require.False(t, set.NoContent)
	require.Len(t, set.Results, 4)

	distances := make([]float64, len(set.Results))
	for i, r := range set.Results {
		distances[i] = r.Distance
	}
	assert.Equal(t, []float64{0.10, 0.30, 0.40, 0.50}, distances)
	assert.Equal(t, []string{"alpha", "beta"}, set.Databases)
}

func TestRetrieve_StableOnTies(t *testing.T) {
	// Equal distances keep the order the databases were requested in.
	q := &fakeQuerier{results: map[string][]store.QueryResult{
		"alpha": {hit("alpha", 0.25)},
		"beta":  {hit("beta", 0.25)},
	}}
	c := New(q, 5, nil)

	set, err := c.Retrieve(context.Background(), "query", []string{"beta", "alpha"})
	require.NoError(t, err)
	require.Len(t, set.Results, 2)
	assert.Equal(t, "beta", set.Results[0].SourceDatabase)
	assert.Equal(t, "alpha", set.Results[1].SourceDatabase)
}

func TestRetrieve_TruncatesToMaxChunks(t *testing.T) {
	q := &fakeQuerier{results: map[string][]store.QueryResult{
		"alpha": {hit("alpha", 0.1), hit("alpha", 0.2), hit("alpha", 0.3)},
		"beta":  {hit("beta", 0.15), hit("beta", 0.25)},
	}}
	c := New(q, 3, nil)

	set, err := c.Retrieve(context.Background(), "query", []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, set.Results, 3)
	assert.Equal(t, 0.1, set.Results[0].Distance)
	assert.Equal(t, 0.15, set.Results[1].Distance)
	assert.Equal(t, 0.2, set.Results[2].Distance)
}

func TestRetrieve_SingleDatabaseKeepsStoreOrder(t *testing.T) {
	// A single database's results are already ranked by its own search.
	q := &fakeQuerier{results: map[string][]store.QueryResult{
		"alpha": {hit("alpha", 0.5), hit("alpha", 0.2)},
	}}
	c := New(q, 5, nil)

	set, err := c.Retrieve(context.Background(), "query", []string{"alpha"})
	require.NoError(t, err)
	require.Len(t, set.Results, 2)
	assert.Equal(t, 0.5, set.Results[0].Distance)
}

func TestRetrieve_NoContent(t *testing.T) {
	c := New(&fakeQuerier{}, 5, nil)

	set, err := c.Retrieve(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.True(t, set.NoContent)
	assert.Zero(t, set.Confidence)

	set, err = c.Retrieve(context.Background(), "query", []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.True(t, set.NoContent)
	assert.Zero(t, set.Confidence)
	assert.Empty(t, set.Results)
}

func TestConfidence(t *testing.T) {
	assert.Zero(t, Confidence(0, 1))
	assert.Zero(t, Confidence(0, 3))

	// Single database: 0.2 per hit, capped at 1.
	assert.InDelta(t, 0.2, Confidence(1, 1), 1e-9)
	assert.InDelta(t, 0.6, Confidence(3, 1), 1e-9)
	assert.InDelta(t, 1.0, Confidence(5, 1), 1e-9)
	assert.InDelta(t, 1.0, Confidence(9, 1), 1e-9)

	// Multiple databases: 0.15 per hit plus 0.1 per database.
	assert.InDelta(t, 0.35, Confidence(1, 2), 1e-9)
	assert.InDelta(t, 0.65, Confidence(3, 2), 1e-9)
	assert.InDelta(t, 1.0, Confidence(6, 3), 1e-9)

	// Non-decreasing in hits, and never above 1.
	prev := 0.0
	for hits := 1; hits <= 12; hits++ {
		conf := Confidence(hits, 2)
		assert.GreaterOrEqual(t, conf, prev)
		assert.LessOrEqual(t, conf, 1.0)
		prev = conf
	}
}
