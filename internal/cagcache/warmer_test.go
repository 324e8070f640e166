package cagcache

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/embeddings"
	"knowledge-engine/internal/retrieval"
	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
)

const testDim = 64

func newFixture(t *testing.T) (*storage.MemoryStore, *Warmer, *types.Project) {
	t.Helper()
	store := storage.NewMemoryStore(testDim)
	gateway := embeddings.NewGateway(embeddings.GatewayConfig{Embedder: embeddings.NewMockEmbedder(testDim)})
	searcher := retrieval.NewSearcher(store, gateway, config.Default().Retrieval, nil)
	warmer := NewWarmer(store, searcher, config.Default().Cache, nil)

	project := &types.Project{Name: "warm-project", Type: types.ProjectSoftware, Active: true}
	_, err := store.PutProject(context.Background(), project)
	require.NoError(t, err)
	return store, warmer, project
}

func seedCore(t *testing.T, store *storage.MemoryStore, project string, n int) {
	t.Helper()
	ctx := context.Background()
	mock := embeddings.NewMockEmbedder(testDim)
	for i := 0; i < n; i++ {
		title := "core discovery " + string(rune('a'+i))
		vec, err := mock.Embed(ctx, title)
		require.NoError(t, err)
		_, err = store.PutKnowledge(ctx, &types.KnowledgeItem{
			KnowledgeType: types.KnowledgeTechnical,
			SemanticType:  types.SemanticTechnicalDiscovery,
			Title:         title,
			Content:       "important operational detail number " + string(rune('a'+i)),
			ProjectID:     project,
			Importance:    80,
			Quality:       60,
			Embedding:     vec,
		})
		require.NoError(t, err)
	}
}

func TestNormalizeSituation(t *testing.T) {
	assert.Equal(t, "fix the build", NormalizeSituation("  Fix   THE\tbuild "))
	assert.Equal(t, Key("p", "Fix  The Build"), Key("p", "fix the build"))
	assert.NotEqual(t, Key("p1", "fix"), Key("p2", "fix"))
}

func TestWarmFillsCoreTier(t *testing.T) {
	store, warmer, project := newFixture(t)
	seedCore(t, store, project.ID, 5)

	packet, hit, err := warmer.Warm(context.Background(), project, "debugging the build", 20, 0)
	require.NoError(t, err)
	assert.False(t, hit)
	require.NotEmpty(t, packet.Entries)
	assert.NotEmpty(t, packet.WarmID)
	assert.Equal(t, len(packet.Entries), packet.TotalItems)

	coreSeen := false
	for _, e := range packet.Entries {
		if e.Tier == TierCoreDomain {
			coreSeen = true
			require.NotNil(t, e.Item)
			assert.GreaterOrEqual(t, e.Item.Importance, 70.0)
		}
		assert.Greater(t, e.TokensEst, 0)
	}
	assert.True(t, coreSeen)
	assert.Greater(t, packet.TierFill[TierCoreDomain], 0.0)
}

func TestWarmCacheHit(t *testing.T) {
	store, warmer, project := newFixture(t)
	seedCore(t, store, project.ID, 3)
	ctx := context.Background()

	first, hit, err := warmer.Warm(ctx, project, "Same Situation", 10, 0)
	require.NoError(t, err)
	assert.False(t, hit)

	// normalization maps trivially different phrasings to the same key
	second, hit, err := warmer.Warm(ctx, project, "same   situation", 10, 0)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.WarmID, second.WarmID)

	m := warmer.Metrics()
	assert.Equal(t, int64(1), m.Warms)
	assert.Equal(t, int64(1), m.Hits)
}

func TestSingleFlightWarm(t *testing.T) {
	store, warmer, project := newFixture(t)
	seedCore(t, store, project.ID, 5)
	ctx := context.Background()

	const callers = 10
	var wg sync.WaitGroup
	warmIDs := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			packet, _, err := warmer.Warm(ctx, project, "cold start situation", 10, 0)
			errs[n] = err
			if packet != nil {
				warmIDs[n] = packet.WarmID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, warmIDs[0], warmIDs[i], "all callers share one packet")
	}
	assert.Equal(t, int64(1), warmer.Metrics().Warms, "exactly one warm executed")
}

func TestWarmTokenBudget(t *testing.T) {
	store, warmer, project := newFixture(t)
	ctx := context.Background()

	// each item costs well over 50 tokens
	big := strings.Repeat("word ", 100)
	for i := 0; i < 4; i++ {
		_, err := store.PutKnowledge(ctx, &types.KnowledgeItem{
			KnowledgeType: types.KnowledgeTechnical,
			SemanticType:  types.SemanticTechnicalDiscovery,
			Title:         "big item " + string(rune('a'+i)),
			Content:       big,
			ProjectID:     project.ID,
			Importance:    90,
		})
		require.NoError(t, err)
	}

	packet, _, err := warmer.Warm(ctx, project, "anything", 10, 150)
	require.NoError(t, err)
	assert.LessOrEqual(t, packet.TotalTokens, 150)
	assert.LessOrEqual(t, len(packet.Entries), 2)
}

func TestWarmIncludesInsightAndPatternTiers(t *testing.T) {
	store, warmer, project := newFixture(t)
	ctx := context.Background()

	_, err := store.PutInsight(ctx, &types.StrategicInsight{
		InsightType:            types.InsightBestPractice,
		Title:                  "prefer idempotent migrations",
		Content:                map[string]any{"detail": "safe retries"},
		ApplicableProjectTypes: []types.ProjectType{types.ProjectSoftware},
		Confidence:             0.8,
		Effectiveness:          0.9,
	})
	require.NoError(t, err)

	_, err = store.PutPattern(ctx, &types.Pattern{
		PatternType:      types.PatternProceduralSequence,
		Title:            "migrate then reindex",
		Content:          map[string]any{"steps": []any{"migrate", "reindex"}},
		ProjectID:        project.ID,
		Confidence:       0.7,
		ValidationStatus: types.StatusValidated,
		IsActive:         true,
	})
	require.NoError(t, err)

	packet, _, err := warmer.Warm(ctx, project, "planning a schema change", 20, 0)
	require.NoError(t, err)

	tiers := map[string]bool{}
	for _, e := range packet.Entries {
		tiers[e.Tier] = true
	}
	assert.True(t, tiers[TierStrategic], "strategic insight tier should be filled")
	assert.True(t, tiers[TierRecentPatterns], "validated pattern tier should be filled")
}

func TestInvalidateForcesRewarm(t *testing.T) {
	store, warmer, project := newFixture(t)
	seedCore(t, store, project.ID, 2)
	ctx := context.Background()

	first, _, err := warmer.Warm(ctx, project, "sit", 10, 0)
	require.NoError(t, err)

	warmer.Invalidate()

	second, hit, err := warmer.Warm(ctx, project, "sit", 10, 0)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NotEqual(t, first.WarmID, second.WarmID)
}

func TestPeekDoesNotWarm(t *testing.T) {
	_, warmer, project := newFixture(t)
	_, ok := warmer.Peek(project.ID, "never warmed")
	assert.False(t, ok)
	assert.Equal(t, int64(0), warmer.Metrics().Warms)
}
