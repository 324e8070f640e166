package embeddings

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// MockEmbedder provides a fake embedder for testing without external API
// dependencies. Embeddings are deterministic unit vectors seeded by the
// text's token set, so texts sharing words land near each other.
type MockEmbedder struct {
	dimension   int
	failOnEmbed bool
}

// NewMockEmbedder creates a mock embedder with the given dimension.
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

// NewFailingMockEmbedder creates a mock that always fails, for exercising
// the zero-vector degradation path.
func NewFailingMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension, failOnEmbed: true}
}

// Embed generates a deterministic embedding from the text's words.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.failOnEmbed {
		return nil, fmt.Errorf("mock embedder configured to fail")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// Sum per-word vectors so overlapping vocabularies yield high cosine
	// similarity, which is what retrieval tests need.
	embedding := make([]float32, m.dimension)
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		words = []string{text}
	}
	for _, w := range words {
		seed := int64(0)
		for _, c := range w {
			seed = seed*31 + int64(c)
		}
		rng := rand.New(rand.NewSource(seed))
		for i := 0; i < m.dimension; i++ {
			embedding[i] += float32(rng.NormFloat64())
		}
	}

	var sumSquares float64
	for _, f := range embedding {
		sumSquares += float64(f) * float64(f)
	}
	if sumSquares > 0 {
		mag := float32(math.Sqrt(sumSquares))
		for i := range embedding {
			embedding[i] /= mag
		}
	}
	return embedding, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.failOnEmbed {
		return nil, fmt.Errorf("mock embedder configured to fail")
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

// Dimension returns the embedding dimension.
func (m *MockEmbedder) Dimension() int { return m.dimension }

// ProviderVersion identifies the mock provider.
func (m *MockEmbedder) ProviderVersion() string { return "mock/v1" }

// SetFailOnEmbed toggles simulated provider failure.
func (m *MockEmbedder) SetFailOnEmbed(fail bool) { m.failOnEmbed = fail }
