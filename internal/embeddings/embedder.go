// Package embeddings provides vector embedding generation for semantic
// search, behind a caching gateway with a lexical-only degradation path.
package embeddings

import (
	"context"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts (more efficient).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int

	// ProviderVersion identifies the provider and model revision. Stored
	// alongside embeddings so stale vectors can be re-embedded later.
	ProviderVersion() string
}

// IsZeroVector reports whether v is the all-zero fallback vector produced
// when the provider is unavailable. Callers must treat such results as
// lexical-only.
func IsZeroVector(v []float32) bool {
	if len(v) == 0 {
		return true
	}
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}
