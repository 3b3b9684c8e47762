package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/knowvault/knowvault/internal/embedding"
)

// collectionPrefix namespaces knowledge-base collections so they can share
// a Qdrant instance with unrelated data.
const collectionPrefix = "kb_"

// QdrantProvider backs collections with a Qdrant server over gRPC. Vectors
// use cosine distance; the reported Hit.Distance is 1 - score so lower
// still means more relevant.
type QdrantProvider struct {
	client   *qdrant.Client
	embedder embedding.Embedder
}

// NewQdrantProvider connects to Qdrant and verifies health with exponential
// backoff, failing fast if the server stays unreachable.
func NewQdrantProvider(host string, port int, embedder embedding.Embedder) (*QdrantProvider, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	p := &QdrantProvider{client: client, embedder: embedder}

	if err := p.healthWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}
	return p, nil
}

func (p *QdrantProvider) healthWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return p.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check.
func (p *QdrantProvider) Health(ctx context.Context) error {
	result, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// Create makes an empty collection for a new database.
func (p *QdrantProvider) Create(ctx context.Context, name string) error {
	exists, err := p.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionPrefix + name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(p.embedder.Dimension()),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Open returns the collection handle for an existing database.
func (p *QdrantProvider) Open(ctx context.Context, name string) (Collection, error) {
	exists, err := p.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return &qdrantCollection{
		client:   p.client,
		name:     collectionPrefix + name,
		embedder: p.embedder,
	}, nil
}

// Delete removes the collection and everything in it.
func (p *QdrantProvider) Delete(ctx context.Context, name string) error {
	if err := p.client.DeleteCollection(ctx, collectionPrefix+name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the named collection is present.
func (p *QdrantProvider) Exists(ctx context.Context, name string) (bool, error) {
	collections, err := p.client.ListCollections(ctx)
	if err != nil {
		return false, fmt.Errorf("list collections: %w", err)
	}
	for _, c := range collections {
		if c == collectionPrefix+name {
			return true, nil
		}
	}
	return false, nil
}

// Close closes the gRPC connection.
func (p *QdrantProvider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

type qdrantCollection struct {
	client   *qdrant.Client
	name     string
	embedder embedding.Embedder
}

// Add embeds and upserts records in batches of 100. Upsert semantics mean
// an existing point id is overwritten, never duplicated.
func (c *qdrantCollection) Add(ctx context.Context, records []Record) error {
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

	dim := c.embedder.Dimension()
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: record %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(v), dim)
		}
	}

	const batchSize = 100
	for i := 0; i < len(records); i += batchSize {
		end := min(i+batchSize, len(records))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for j := i; j < end; j++ {
			payload := map[string]any{"content": records[j].Content}
			for k, v := range records[j].Payload {
				payload[k] = v
			}
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(records[j].ID),
				Vectors: qdrant.NewVectors(vectors[j]...),
				Payload: qdrant.NewValueMap(payload),
			})
		}

		if err := c.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

func (c *qdrantCollection) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.name,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}, backoff.WithContext(b, ctx))
}

// Count reports the authoritative number of stored chunks.
func (c *qdrantCollection) Count(ctx context.Context) (uint64, error) {
	info, err := c.client.GetCollectionInfo(ctx, c.name)
	if err != nil {
		return 0, fmt.Errorf("get collection info: %w", err)
	}
	return info.GetPointsCount(), nil
}

// Query embeds the text and runs a nearest-neighbour search.
func (c *qdrantCollection) Query(ctx context.Context, text string, topK int) ([]Hit, error) {
	vectors, err := c.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.name,
		Query:          qdrant.NewQuery(vectors[0]...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, result := range results {
		payload := make(map[string]any, len(result.Payload))
		content := ""
		for k, v := range result.Payload {
			if k == "content" {
				content = v.GetStringValue()
				continue
			}
			payload[k] = valueToAny(v)
		}
		hits = append(hits, Hit{
			ID:       result.Id.GetUuid(),
			Content:  content,
			Payload:  payload,
			Distance: 1 - float64(result.Score), // cosine similarity -> distance
		})
	}
	return hits, nil
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return v.String()
	}
}
