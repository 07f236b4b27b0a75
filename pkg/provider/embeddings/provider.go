// Package embeddings defines the Provider interface consumed by the thought
// store and ingestion pipeline to turn text into a fixed-dimension unit vector.
//
// A Provider wraps whatever produces the vector — a deterministic offline
// hash, a local model, or a remote embedding API. Every vector a single
// Provider returns must share the same dimensionality (Dimensions); the core
// never mixes vectors from providers it hasn't verified agree on a space.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend. It is the Go
// realization of the Embedder contract: embed(text) -> unit vector of length
// Dimensions().
type Provider interface {
	// Embed computes the embedding vector for a single text string. The
	// returned slice has length Dimensions() and L2-norm approximately 1.0.
	// Implementations may return a zero vector only for empty input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced
	// by this provider, constant for the lifetime of the instance.
	Dimensions() int
}
