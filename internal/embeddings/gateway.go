package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	"go.uber.org/zap"

	"knowledge-engine/pkg/cache"
)

// Gateway wraps an Embedder with a bounded content-hash LRU and a
// zero-vector fallback when the provider is unavailable.
//
// embed(text) is a pure function of (text, provider version), so cache
// entries never need invalidation within one provider version.
type Gateway struct {
	embedder Embedder
	lru      *cache.LRU[string, []float32]
	logger   *zap.Logger

	degraded atomic.Bool
}

// GatewayConfig configures the gateway.
type GatewayConfig struct {
	Embedder Embedder
	// MaxEntries bounds the LRU; 0 uses the 10k default.
	MaxEntries int
	Logger     *zap.Logger
}

// NewGateway creates an embedding gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	maxEntries := cfg.MaxEntries
	if maxEntries == 0 {
		maxEntries = 10000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		embedder: cfg.Embedder,
		lru:      cache.New[string, []float32](cache.Config{MaxEntries: maxEntries}),
		logger:   logger.Named("embeddings"),
	}
}

// Embed returns the embedding for text, serving repeats from the LRU.
//
// On provider failure it returns the zero vector and degraded=true instead
// of an error; callers must treat zero-vector results as lexical-only.
func (g *Gateway) Embed(ctx context.Context, text string) (vec []float32, degraded bool) {
	key := hashText(text)
	if cached, ok := g.lru.Get(key); ok {
		return cached, false
	}

	v, err := g.embedder.Embed(ctx, text)
	if err != nil {
		g.degraded.Store(true)
		g.logger.Warn("embedding provider failed, falling back to zero vector",
			zap.Error(err))
		return make([]float32, g.embedder.Dimension()), true
	}
	g.degraded.Store(false)
	g.lru.Set(key, v)
	return v, false
}

// EmbedBatch embeds several texts, serving cached entries individually and
// batching the rest. A provider failure degrades the whole batch.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) (vecs [][]float32, degraded bool) {
	vecs = make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if cached, ok := g.lru.Get(hashText(t)); ok {
			vecs[i] = cached
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return vecs, false
	}

	fresh, err := g.embedder.EmbedBatch(ctx, missing)
	if err != nil {
		g.degraded.Store(true)
		g.logger.Warn("batch embedding failed, falling back to zero vectors",
			zap.Int("count", len(missing)), zap.Error(err))
		for _, i := range missingIdx {
			vecs[i] = make([]float32, g.embedder.Dimension())
		}
		return vecs, true
	}
	g.degraded.Store(false)
	for j, i := range missingIdx {
		vecs[i] = fresh[j]
		g.lru.Set(hashText(missing[j]), fresh[j])
	}
	return vecs, false
}

// Dimension returns the configured embedding dimension.
func (g *Gateway) Dimension() int { return g.embedder.Dimension() }

// ProviderVersion identifies the wrapped provider.
func (g *Gateway) ProviderVersion() string { return g.embedder.ProviderVersion() }

// Degraded reports whether the last provider call failed.
func (g *Gateway) Degraded() bool { return g.degraded.Load() }

// CacheStats exposes LRU counters for health reporting.
func (g *Gateway) CacheStats() map[string]any { return g.lru.Stats() }

func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
