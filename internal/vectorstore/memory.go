package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/knowvault/knowvault/internal/embedding"
)

// MemoryProvider keeps collections in process memory with brute-force
// cosine search. It backs unit tests and offline sessions; nothing is
// persisted across restarts.
type MemoryProvider struct {
	mu          sync.RWMutex
	embedder    embedding.Embedder
	collections map[string]*memoryCollection
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider(embedder embedding.Embedder) *MemoryProvider {
	return &MemoryProvider{
		embedder:    embedder,
		collections: make(map[string]*memoryCollection),
	}
}

func (p *MemoryProvider) Create(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.collections[name]; ok {
		return fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}
	p.collections[name] = &memoryCollection{
		embedder: p.embedder,
		records:  make(map[string]memoryRecord),
	}
	return nil
}

func (p *MemoryProvider) Open(_ context.Context, name string) (Collection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

func (p *MemoryProvider) Delete(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, name)
	return nil
}

func (p *MemoryProvider) Exists(_ context.Context, name string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.collections[name]
	return ok, nil
}

func (p *MemoryProvider) Health(context.Context) error { return nil }

func (p *MemoryProvider) Close() error { return nil }

type memoryRecord struct {
	content string
	payload map[string]any
	vector  []float32
	seq     int // insertion order, keeps query results deterministic on ties
}

type memoryCollection struct {
	mu       sync.RWMutex
	embedder embedding.Embedder
	records  map[string]memoryRecord
	nextSeq  int
}

// Add upserts records, overwriting on id collision.
func (c *memoryCollection) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Content
	}
	vectors, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed records: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, rec := range records {
		if len(vectors[i]) != c.embedder.Dimension() {
			return fmt.Errorf("%w: record %d", ErrDimensionMismatch, i)
		}
		seq := c.nextSeq
		if existing, ok := c.records[rec.ID]; ok {
			seq = existing.seq // overwrite keeps original position
		} else {
			c.nextSeq++
		}
		c.records[rec.ID] = memoryRecord{
			content: rec.Content,
			payload: rec.Payload,
			vector:  vectors[i],
			seq:     seq,
		}
	}
	return nil
}

func (c *memoryCollection) Count(context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.records)), nil
}

func (c *memoryCollection) Query(ctx context.Context, text string, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	vectors, err := c.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	query := vectors[0]

	c.mu.RLock()
	defer c.mu.RUnlock()

	type scored struct {
		id   string
		rec  memoryRecord
		dist float64
	}
	all := make([]scored, 0, len(c.records))
	for id, rec := range c.records {
		all = append(all, scored{id: id, rec: rec, dist: 1 - cosine(query, rec.vector)})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return all[i].rec.seq < all[j].rec.seq
	})

	if len(all) > topK {
		all = all[:topK]
	}
	hits := make([]Hit, 0, len(all))
	for _, s := range all {
		hits = append(hits, Hit{
			ID:       s.id,
			Content:  s.rec.content,
			Payload:  s.rec.payload,
			Distance: s.dist,
		})
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
