package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	m := NewMockEmbedder(128)
	ctx := context.Background()

	a, err := m.Embed(ctx, "absolute path configuration")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "absolute path configuration")
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical input must produce identical output")
	assert.Len(t, a, 128)
}

func TestMockEmbedderUnitVectors(t *testing.T) {
	m := NewMockEmbedder(64)
	v, err := m.Embed(context.Background(), "some text")
	require.NoError(t, err)

	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestMockEmbedderSharedVocabulary(t *testing.T) {
	m := NewMockEmbedder(256)
	ctx := context.Background()

	a, _ := m.Embed(ctx, "config must use absolute path")
	b, _ := m.Embed(ctx, "config must use absolute path today")
	c, _ := m.Embed(ctx, "unrelated words entirely different")

	cos := func(x, y []float32) float64 {
		var dot float64
		for i := range x {
			dot += float64(x[i]) * float64(y[i])
		}
		return dot
	}
	assert.Greater(t, cos(a, b), cos(a, c),
		"overlapping vocabulary should score higher than disjoint text")
}

func TestIsZeroVector(t *testing.T) {
	assert.True(t, IsZeroVector(nil))
	assert.True(t, IsZeroVector(make([]float32, 8)))
	assert.False(t, IsZeroVector([]float32{0, 0.1, 0}))
}

func TestGatewayCachesByContent(t *testing.T) {
	m := NewMockEmbedder(64)
	g := NewGateway(GatewayConfig{Embedder: m, MaxEntries: 16})
	ctx := context.Background()

	v1, degraded := g.Embed(ctx, "repeat me")
	require.False(t, degraded)

	// Flip the underlying provider to failing; the cached entry must still
	// be served.
	m.SetFailOnEmbed(true)
	v2, degraded := g.Embed(ctx, "repeat me")
	assert.False(t, degraded)
	assert.Equal(t, v1, v2)
}

func TestGatewayZeroVectorFallback(t *testing.T) {
	g := NewGateway(GatewayConfig{Embedder: NewFailingMockEmbedder(32)})
	v, degraded := g.Embed(context.Background(), "anything")

	assert.True(t, degraded)
	assert.Len(t, v, 32)
	assert.True(t, IsZeroVector(v))
	assert.True(t, g.Degraded())
}

func TestGatewayBatch(t *testing.T) {
	m := NewMockEmbedder(64)
	g := NewGateway(GatewayConfig{Embedder: m})
	ctx := context.Background()

	// pre-cache one entry
	cached, _ := g.Embed(ctx, "alpha")

	vecs, degraded := g.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.False(t, degraded)
	require.Len(t, vecs, 2)
	assert.Equal(t, cached, vecs[0])
	assert.False(t, IsZeroVector(vecs[1]))
}

func TestGatewayBatchDegraded(t *testing.T) {
	g := NewGateway(GatewayConfig{Embedder: NewFailingMockEmbedder(16)})
	vecs, degraded := g.EmbedBatch(context.Background(), []string{"a", "b"})

	assert.True(t, degraded)
	for _, v := range vecs {
		assert.True(t, IsZeroVector(v))
	}
}

func TestHTTPEmbedderConfigValidation(t *testing.T) {
	_, err := NewHTTPEmbedder(HTTPConfig{Dimension: 768})
	assert.Error(t, err, "endpoint is required")

	_, err = NewHTTPEmbedder(HTTPConfig{Endpoint: "http://localhost:9999/v1/embeddings"})
	assert.Error(t, err, "dimension is required")

	e, err := NewHTTPEmbedder(HTTPConfig{Endpoint: "http://localhost:9999/v1/embeddings", Dimension: 768, Model: "test"})
	require.NoError(t, err)
	assert.Equal(t, 768, e.Dimension())
	assert.Equal(t, "http/test", e.ProviderVersion())
}

func TestMockBatchMatchesSingle(t *testing.T) {
	m := NewMockEmbedder(32)
	ctx := context.Background()

	single, err := m.Embed(ctx, "one")
	require.NoError(t, err)
	batch, err := m.EmbedBatch(ctx, []string{"one", "two"})
	require.NoError(t, err)

	assert.Equal(t, single, batch[0])
	assert.False(t, math.IsNaN(float64(batch[1][0])))
}
