// Package embedding turns text into fixed-length vectors for similarity
// search. Consumers depend only on the Embedder interface; the OpenAI
// implementation lives alongside it.
package embedding

import "context"

// Embedder generates one vector per input text. Implementations must be
// safe for concurrent use.
type Embedder interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension reports the fixed vector length this embedder produces.
	Dimension() int
}
