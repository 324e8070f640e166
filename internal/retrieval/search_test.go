package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/embeddings"
	kerrors "knowledge-engine/internal/errors"
	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
)

const testDim = 64

func newFixture(t *testing.T) (*storage.MemoryStore, *embeddings.MockEmbedder, *Searcher) {
	t.Helper()
	store := storage.NewMemoryStore(testDim)
	mock := embeddings.NewMockEmbedder(testDim)
	gateway := embeddings.NewGateway(embeddings.GatewayConfig{Embedder: mock})
	searcher := NewSearcher(store, gateway, config.Default().Retrieval, nil)
	return store, mock, searcher
}

func seed(t *testing.T, store *storage.MemoryStore, mock *embeddings.MockEmbedder, title, content string, importance float64) string {
	t.Helper()
	ctx := context.Background()
	vec, err := mock.Embed(ctx, title+"\n"+content)
	require.NoError(t, err)
	id, err := store.PutKnowledge(ctx, &types.KnowledgeItem{
		KnowledgeType: types.KnowledgeTechnical,
		SemanticType:  types.SemanticTechnicalDiscovery,
		Title:         title,
		Content:       content,
		ProjectID:     "proj-1",
		Importance:    importance,
		Quality:       60,
		Embedding:     vec,
	})
	require.NoError(t, err)
	return id
}

func TestEmptyQueryIsValidationError(t *testing.T) {
	_, _, searcher := newFixture(t)
	_, err := searcher.Search(context.Background(), "", storage.KnowledgeFilter{}, 10)
	assert.True(t, kerrors.IsKind(err, kerrors.KindValidation))
}

func TestStoreThenSearchTopHit(t *testing.T) {
	store, mock, searcher := newFixture(t)

	want := seed(t, store, mock, "X requires absolute path", "Config must use absolute path to X", 85)
	seed(t, store, mock, "pasta recipe", "boil water add salt cook pasta drain", 50)
	seed(t, store, mock, "deploy checklist", "verify staging run smoke tests promote", 50)

	res, err := searcher.Search(context.Background(),
		"Config must use absolute path", storage.KnowledgeFilter{ProjectID: "proj-1"}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)

	assert.Equal(t, want, res.Results[0].Item.ID)
	assert.False(t, res.Degraded)
	assert.Greater(t, res.Results[0].FinalScore, 0.5)
}

func TestRankingIsNonIncreasingAndStable(t *testing.T) {
	store, mock, searcher := newFixture(t)
	seed(t, store, mock, "alpha topic one", "shared vocabulary about databases and indexes", 80)
	seed(t, store, mock, "alpha topic two", "shared vocabulary about databases and caching", 40)
	seed(t, store, mock, "unrelated", "gardening tomatoes watering schedule", 90)

	res, err := searcher.Search(context.Background(),
		"shared vocabulary about databases", storage.KnowledgeFilter{ProjectID: "proj-1"}, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Results), 2)

	for i := 1; i < len(res.Results); i++ {
		assert.GreaterOrEqual(t, res.Results[i-1].FinalScore, res.Results[i].FinalScore)
	}
}

func TestImportanceBreaksNearTies(t *testing.T) {
	store, mock, searcher := newFixture(t)
	low := seed(t, store, mock, "retry with backoff", "transient failures need retry with backoff", 10)
	high := seed(t, store, mock, "retry with backoff", "transient failures need retry with backoff", 95)

	res, err := searcher.Search(context.Background(),
		"transient failures retry backoff", storage.KnowledgeFilter{ProjectID: "proj-1"}, 5)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, high, res.Results[0].Item.ID)
	assert.Equal(t, low, res.Results[1].Item.ID)
}

func TestDegradedFallsBackToLexical(t *testing.T) {
	store := storage.NewMemoryStore(testDim)
	healthy := embeddings.NewMockEmbedder(testDim)

	// items were embedded while the provider was healthy
	id := seed(t, store, healthy, "X requires absolute path", "Config must use absolute path to X", 85)

	failing := embeddings.NewGateway(embeddings.GatewayConfig{Embedder: embeddings.NewFailingMockEmbedder(testDim)})
	searcher := NewSearcher(store, failing, config.Default().Retrieval, nil)

	res, err := searcher.Search(context.Background(),
		"absolute path config", storage.KnowledgeFilter{ProjectID: "proj-1"}, 5)
	require.NoError(t, err, "provider outage must not surface DependencyUnavailable")
	assert.True(t, res.Degraded)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, id, res.Results[0].Item.ID)
	assert.Zero(t, res.Results[0].Similarity)
}

func TestThresholdRelaxation(t *testing.T) {
	store, mock, _ := newFixture(t)
	seed(t, store, mock, "database tuning page cache", "database tuning page cache sizing", 50)

	cfg := config.Default().Retrieval
	cfg.SimilarityThreshold = 0.999 // nothing clears this initially
	cfg.MinResults = 1
	gateway := embeddings.NewGateway(embeddings.GatewayConfig{Embedder: mock})
	searcher := NewSearcher(store, gateway, cfg, nil)

	res, err := searcher.Search(context.Background(),
		"database tuning page cache", storage.KnowledgeFilter{ProjectID: "proj-1"}, 5)
	require.NoError(t, err)
	assert.Less(t, res.ThresholdUsed, 0.999, "threshold should have been relaxed")
	assert.NotEmpty(t, res.Results)
}

func TestKnowledgeTypeFilter(t *testing.T) {
	store, mock, searcher := newFixture(t)
	seed(t, store, mock, "technical entry", "connection pool exhaustion under load", 70)

	ctx := context.Background()
	vec, err := mock.Embed(ctx, "experiential entry\nconnection pool exhaustion retrospective")
	require.NoError(t, err)
	_, err = store.PutKnowledge(ctx, &types.KnowledgeItem{
		KnowledgeType: types.KnowledgeExperiential,
		Title:         "experiential entry",
		Content:       "connection pool exhaustion retrospective",
		ProjectID:     "proj-1",
		Importance:    70,
		Embedding:     vec,
	})
	require.NoError(t, err)

	res, err := searcher.Search(ctx, "connection pool exhaustion",
		storage.KnowledgeFilter{ProjectID: "proj-1", KnowledgeType: types.KnowledgeExperiential}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	for _, r := range res.Results {
		assert.Equal(t, types.KnowledgeExperiential, r.Item.KnowledgeType)
	}
}

func TestRecencyDecay(t *testing.T) {
	now := time.Now()
	assert.InDelta(t, 1.0, recencyDecay(now, now), 1e-9)
	month := recencyDecay(now, now.Add(-30*24*time.Hour))
	assert.InDelta(t, 0.5, month, 0.01, "halves every 30 days")
	assert.Greater(t, recencyDecay(now, now.Add(-24*time.Hour)), month)
	assert.InDelta(t, 1.0, recencyDecay(now, now.Add(24*time.Hour)), 1e-9, "future timestamps clamp to now")
}
