package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultModel is the embedding model used unless configured otherwise.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the vector length of text-embedding-3-small.
	DefaultDimension = 1536

	// DefaultBatchSize balances requests-per-minute against tokens-per-minute
	// rate limits. OpenAI accepts up to 2048 texts per batch.
	DefaultBatchSize = 500
)

// OpenAI embeds text through the OpenAI embeddings API, batching requests
// and retrying rate-limit errors with exponential backoff.
type OpenAI struct {
	client    openai.Client
	model     string
	dimension int
	batchSize int
}

// NewOpenAI creates an OpenAI embedder. It requires OPENAI_API_KEY in the
// environment. Empty model or batchSize fall back to the defaults.
func NewOpenAI(model string, batchSize int) (*OpenAI, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = DefaultModel
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &OpenAI{
		client:    openai.NewClient(),
		model:     model,
		dimension: DefaultDimension,
		batchSize: batchSize,
	}, nil
}

// Dimension reports the fixed vector length.
func (e *OpenAI) Dimension() int { return e.dimension }

// Embed generates embeddings for the given texts in input order.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var all [][]float32

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		all = append(all, batch...)
	}

	return all, nil
}

// embedBatchWithRetry embeds one batch, retrying HTTP 429 with exponential
// backoff. Other errors are permanent and fail immediately.
func (e *OpenAI) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 narrows the API's float64 vectors for storage.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
