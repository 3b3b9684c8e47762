// Package retrieval merges and ranks similarity hits across databases and
// attaches a coarse confidence estimate to the combined set.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/knowvault/knowvault/internal/store"
)

// Querier is the slice of the Database Store the coordinator needs.
type Querier interface {
	Query(ctx context.Context, text string, names []string, nResults int) (map[string][]store.QueryResult, error)
}

// Set is the outcome of one retrieval: ranked results plus a confidence
// estimate. NoContent distinguishes "nothing relevant anywhere" from a
// partial, low-confidence result.
type Set struct {
	Results    []store.QueryResult
	Confidence float64
	Databases  []string
	NoContent  bool
}

// Coordinator issues similarity queries through a Querier and combines the
// per-database answers. It only reads through the store's registry; it
// never mutates database state.
type Coordinator struct {
	querier   Querier
	maxChunks int
	logger    *slog.Logger
}

// New creates a Coordinator. maxChunks bounds both the per-database fetch
// and the merged result set.
func New(querier Querier, maxChunks int, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if maxChunks <= 0 {
		maxChunks = 5
	}
	return &Coordinator{querier: querier, maxChunks: maxChunks, logger: logger}
}

// Retrieve queries the named databases and returns the ranked combined
// result set.
//
// Each database's nearest-neighbour search is locally scoped, so the
// multi-database case re-sorts the union by ascending distance before
// truncating; merging without re-sorting would bias toward whichever
// database was queried first. The sort is stable: ties keep their original
// per-database order.
func (c *Coordinator) Retrieve(ctx context.Context, query string, databases []string) (*Set, error) {
	if len(databases) == 0 {
		return &Set{NoContent: true, Confidence: 0}, nil
	}

	perDB, err := c.querier.Query(ctx, query, databases, c.maxChunks)
	if err != nil {
		return nil, fmt.Errorf("query databases: %w", err)
	}

	var combined []store.QueryResult
	for _, name := range databases {
		combined = append(combined, perDB[name]...)
	}

	if len(combined) == 0 {
		c.logger.Info("no relevant content found", "databases", len(databases))
		return &Set{NoContent: true, Confidence: 0, Databases: databases}, nil
	}

	if len(databases) > 1 {
		sort.SliceStable(combined, func(i, j int) bool {
			return combined[i].Distance < combined[j].Distance
		})
	}
	if len(combined) > c.maxChunks {
		combined = combined[:c.maxChunks]
	}

	return &Set{
		Results:    combined,
		Confidence: Confidence(len(combined), len(databases)),
		Databases:  databases,
	}, nil
}

// Confidence is a coarse proxy for "more corroborating evidence means
// higher confidence": non-decreasing in hit count and database count,
// clamped to [0, 1]. It is not a calibrated probability.
func Confidence(hits, databases int) float64 {
	if hits <= 0 {
		return 0
	}
	var conf float64
	if databases <= 1 {
		conf = float64(hits) * 0.2
	} else {
		conf = float64(hits)*0.15 + float64(databases)*0.1
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}
