// Package vectorstore abstracts the similarity-search collaborator. One
// named collection backs each knowledge base; collections store chunk text
// and metadata next to an embedding computed internally through an injected
// Embedder, and answer nearest-neighbour queries by distance.
package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrStoreUnreachable indicates the backing store cannot be reached.
	ErrStoreUnreachable = errors.New("vector store unreachable")
	// ErrCollectionNotFound indicates the named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrCollectionExists indicates a create collided with an existing name.
	ErrCollectionExists = errors.New("collection already exists")
	// ErrDimensionMismatch indicates an embedding of the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Record is one chunk to persist: a stable id, the chunk text and its
// flattened metadata payload.
type Record struct {
	ID      string
	Content string
	Payload map[string]any
}

// Hit is one query result. Distance is a similarity distance where lower
// means more relevant; hits come back in ascending distance order.
type Hit struct {
	ID       string
	Content  string
	Payload  map[string]any
	Distance float64
}

// Collection is one knowledge base's chunk container.
//
// Add upserts: a record whose id already exists overwrites the stored
// record, which is what makes re-ingestion of unchanged files idempotent.
type Collection interface {
	Add(ctx context.Context, records []Record) error
	Count(ctx context.Context) (uint64, error)
	Query(ctx context.Context, text string, topK int) ([]Hit, error)
}

// Provider manages named collections, one per database.
type Provider interface {
	Create(ctx context.Context, name string) error
	Open(ctx context.Context, name string) (Collection, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	Health(ctx context.Context) error
	Close() error
}
