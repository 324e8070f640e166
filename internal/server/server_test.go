package server

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/assembler"
	"knowledge-engine/internal/cagcache"
	"knowledge-engine/internal/config"
	"knowledge-engine/internal/embeddings"
	kerrors "knowledge-engine/internal/errors"
	"knowledge-engine/internal/patterns"
	"knowledge-engine/internal/retrieval"
	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
)

const testDim = 64

type fixture struct {
	store  *storage.MemoryStore
	server *KnowledgeServer
	mock   *embeddings.MockEmbedder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Embeddings.Dimension = testDim

	store := storage.NewMemoryStore(testDim)
	mock := embeddings.NewMockEmbedder(testDim)
	gateway := embeddings.NewGateway(embeddings.GatewayConfig{Embedder: mock})
	searcher := retrieval.NewSearcher(store, gateway, cfg.Retrieval, nil)
	warmer := cagcache.NewWarmer(store, searcher, cfg.Cache, nil)
	asm := assembler.New(store, warmer, searcher, cfg.Context, nil)
	graph := patterns.NewGraph(nil)

	srv := NewKnowledgeServer(store, gateway, searcher, warmer, asm, graph, cfg, nil)
	return &fixture{store: store, server: srv, mock: mock}
}

func (f *fixture) seedProject(t *testing.T, name string) *types.Project {
	t.Helper()
	p := &types.Project{Name: name, Type: types.ProjectSoftware, Active: true}
	_, err := f.store.PutProject(context.Background(), p)
	require.NoError(t, err)
	return p
}

func TestRegisterTools(t *testing.T) {
	f := newFixture(t)
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "0.0.1"}, nil)
	assert.NotPanics(t, func() { f.server.RegisterTools(mcpServer) })
}

func TestStartSessionUnknownProject(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.server.handleStartSession(context.Background(), nil, StartSessionRequest{
		ProjectContext: "no-such-project",
	})
	assert.True(t, kerrors.IsKind(err, kerrors.KindNotFound))
}

func TestStartSessionReturnsStartupContext(t *testing.T) {
	f := newFixture(t)
	p := f.seedProject(t, "proj")
	ctx := context.Background()

	_, err := f.store.PutKnowledge(ctx, &types.KnowledgeItem{
		KnowledgeType: types.KnowledgeTechnical,
		SemanticType:  types.SemanticTechnicalDiscovery,
		Title:         "known gotcha",
		Content:       "config needs absolute path",
		ProjectID:     p.ID,
		Importance:    90,
	})
	require.NoError(t, err)
	_, err = f.store.PutPattern(ctx, &types.Pattern{
		PatternType:      types.PatternProceduralSequence,
		Title:            "validated procedure",
		Content:          map[string]any{},
		ProjectID:        p.ID,
		Confidence:       0.9,
		ValidationStatus: types.StatusValidated,
		IsActive:         true,
	})
	require.NoError(t, err)
	_, err = f.store.PutPattern(ctx, &types.Pattern{
		PatternType:      types.PatternRecurring,
		Title:            "unverified hunch",
		Content:          map[string]any{},
		ProjectID:        p.ID,
		Confidence:       0.3,
		ValidationStatus: types.StatusPending,
		IsActive:         true,
	})
	require.NoError(t, err)

	_, resp, err := f.server.handleStartSession(ctx, nil, StartSessionRequest{ProjectContext: "proj"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	require.Len(t, resp.StartupKnowledge, 1)
	assert.Equal(t, "known gotcha", resp.StartupKnowledge[0].Title)
	require.Len(t, resp.InteractionPatterns, 1)
	assert.Equal(t, "validated procedure", resp.InteractionPatterns[0].Title)
	require.Len(t, resp.ValidationTests, 1)
	assert.Contains(t, resp.ValidationTests[0], "unverified hunch")
}

func TestStoreThenSearchReadYourWrites(t *testing.T) {
	f := newFixture(t)
	f.seedProject(t, "proj")
	ctx := context.Background()

	importance := 85.0
	_, stored, err := f.server.handleStoreKnowledge(ctx, nil, StoreKnowledgeRequest{
		KnowledgeType: "technical",
		SemanticType:  "technical_discovery",
		Category:      "configuration",
		Title:         "X requires absolute path",
		Content:       "Config must use absolute path to X",
		Importance:    &importance,
		Project:       "proj",
	})
	require.NoError(t, err)
	require.NotEmpty(t, stored.KnowledgeID)
	assert.False(t, stored.Degraded)

	_, found, err := f.server.handleSearchSimilar(ctx, nil, SearchRequest{
		Query:   "Config must use absolute path",
		Project: "proj",
	})
	require.NoError(t, err)
	require.NotEmpty(t, found.Results)
	assert.Equal(t, stored.KnowledgeID, found.Results[0].ID)
	assert.GreaterOrEqual(t, found.Results[0].Score, 0.5)
}

func TestStoreKnowledgeValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  StoreKnowledgeRequest
	}{
		{"missing title", StoreKnowledgeRequest{KnowledgeType: "technical", Content: "c"}},
		{"missing content", StoreKnowledgeRequest{KnowledgeType: "technical", Title: "t"}},
		{"missing type", StoreKnowledgeRequest{Title: "t", Content: "c"}},
		{"bad type", StoreKnowledgeRequest{KnowledgeType: "bogus", Title: "t", Content: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.server.handleStoreKnowledge(context.Background(), nil, tt.req)
			assert.True(t, kerrors.IsKind(err, kerrors.KindValidation), "got %v", err)
		})
	}
}

func TestSearchEmptyQueryValidation(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.server.handleSearchSimilar(context.Background(), nil, SearchRequest{Query: ""})
	assert.True(t, kerrors.IsKind(err, kerrors.KindValidation))
}

func TestSearchMaxResultsCap(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.server.handleSearchSimilar(context.Background(), nil, SearchRequest{
		Query:      "anything",
		MaxResults: 500,
	})
	assert.True(t, kerrors.IsKind(err, kerrors.KindValidation))
}

func TestSearchDegradedProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Embeddings.Dimension = testDim

	store := storage.NewMemoryStore(testDim)
	healthy := embeddings.NewMockEmbedder(testDim)
	ctx := context.Background()

	p := &types.Project{Name: "proj", Type: types.ProjectSoftware, Active: true}
	_, err := store.PutProject(ctx, p)
	require.NoError(t, err)

	vec, err := healthy.Embed(ctx, "X requires absolute path\nConfig must use absolute path to X")
	require.NoError(t, err)
	id, err := store.PutKnowledge(ctx, &types.KnowledgeItem{
		KnowledgeType: types.KnowledgeTechnical,
		Title:         "X requires absolute path",
		Content:       "Config must use absolute path to X",
		ProjectID:     p.ID,
		Importance:    85,
		Embedding:     vec,
	})
	require.NoError(t, err)

	// the provider goes offline after the item was embedded
	gateway := embeddings.NewGateway(embeddings.GatewayConfig{Embedder: embeddings.NewFailingMockEmbedder(testDim)})
	searcher := retrieval.NewSearcher(store, gateway, cfg.Retrieval, nil)
	warmer := cagcache.NewWarmer(store, searcher, cfg.Cache, nil)
	asm := assembler.New(store, warmer, searcher, cfg.Context, nil)
	srv := NewKnowledgeServer(store, gateway, searcher, warmer, asm, patterns.NewGraph(nil), cfg, nil)

	_, resp, err := srv.handleSearchSimilar(ctx, nil, SearchRequest{Query: "absolute path config", Project: "proj"})
	require.NoError(t, err, "degraded search must not fail")
	assert.True(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, id, resp.Results[0].ID)
}

func TestGetTechnicalGotchas(t *testing.T) {
	f := newFixture(t)
	f.seedProject(t, "proj")
	ctx := context.Background()

	_, _, err := f.server.handleStoreKnowledge(ctx, nil, StoreKnowledgeRequest{
		KnowledgeType: "technical",
		SemanticType:  "technical_discovery",
		Title:         "sqlite busy timeout",
		Content:       "sqlite write contention needs busy timeout configured",
		Project:       "proj",
	})
	require.NoError(t, err)
	_, _, err = f.server.handleStoreKnowledge(ctx, nil, StoreKnowledgeRequest{
		KnowledgeType: "factual",
		SemanticType:  "factual",
		Title:         "sqlite release year",
		Content:       "sqlite was first released in 2000",
		Project:       "proj",
	})
	require.NoError(t, err)

	_, resp, err := f.server.handleGetGotchas(ctx, nil, GotchasRequest{
		ProblemSignature: "sqlite write contention busy timeout",
		Project:          "proj",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, "sqlite busy timeout", r.Title, "only technical discoveries are returned")
	}

	_, _, err = f.server.handleGetGotchas(ctx, nil, GotchasRequest{})
	assert.True(t, kerrors.IsKind(err, kerrors.KindValidation))
}

func TestGetContextualWithSessionAssembles(t *testing.T) {
	f := newFixture(t)
	f.seedProject(t, "proj")
	ctx := context.Background()

	_, started, err := f.server.handleStartSession(ctx, nil, StartSessionRequest{ProjectContext: "proj"})
	require.NoError(t, err)

	_, _, err = f.server.handleStoreKnowledge(ctx, nil, StoreKnowledgeRequest{
		KnowledgeType: "procedural",
		SemanticType:  "procedural",
		Title:         "deployment runbook",
		Content:       "run migrations then reindex then restart the service",
		Project:       "proj",
		Importance:    func() *float64 { v := 90.0; return &v }(),
	})
	require.NoError(t, err)

	_, resp, err := f.server.handleGetContextual(ctx, nil, ContextualRequest{
		Situation: "deploying the service with migrations",
		SessionID: started.SessionID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.WarmID)
	require.NotEmpty(t, resp.Items)

	// assembly records usage rows for the session
	usage, err := f.store.ListUsageBySession(ctx, started.SessionID, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, usage)
}

func TestGetContextualWithoutSessionWarmsOnly(t *testing.T) {
	f := newFixture(t)
	f.seedProject(t, "proj")
	ctx := context.Background()

	_, _, err := f.server.handleStoreKnowledge(ctx, nil, StoreKnowledgeRequest{
		KnowledgeType: "technical",
		SemanticType:  "technical_discovery",
		Title:         "cache ttl tuning",
		Content:       "short ttl churns the cache under load",
		Project:       "proj",
		Importance:    func() *float64 { v := 90.0; return &v }(),
	})
	require.NoError(t, err)

	_, first, err := f.server.handleGetContextual(ctx, nil, ContextualRequest{
		Situation: "tuning the cache",
		Project:   "proj",
	})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.NotEmpty(t, first.Items)

	_, second, err := f.server.handleGetContextual(ctx, nil, ContextualRequest{
		Situation: "Tuning  THE cache",
		Project:   "proj",
	})
	require.NoError(t, err)
	assert.True(t, second.CacheHit, "normalized situations share one warm")
	assert.Equal(t, first.WarmID, second.WarmID)
}

func TestGetSessionContext(t *testing.T) {
	f := newFixture(t)
	f.seedProject(t, "proj")
	ctx := context.Background()

	_, started, err := f.server.handleStartSession(ctx, nil, StartSessionRequest{ProjectContext: "proj"})
	require.NoError(t, err)

	_, _, err = f.server.handleGetSessionContext(ctx, nil, SessionContextRequest{SessionID: "ghost"})
	assert.True(t, kerrors.IsKind(err, kerrors.KindNotFound))

	_, resp, err := f.server.handleGetSessionContext(ctx, nil, SessionContextRequest{SessionID: started.SessionID})
	require.NoError(t, err)
	assert.Equal(t, started.SessionID, resp.SessionID)
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	f.seedProject(t, "proj")
	ctx := context.Background()

	_, started, err := f.server.handleStartSession(ctx, nil, StartSessionRequest{ProjectContext: "proj"})
	require.NoError(t, err)

	_, resp, err := f.server.handleEndSession(ctx, nil, EndSessionRequest{
		SessionID:     started.SessionID,
		Insights:      []string{"retry with backoff beats tight polling"},
		Breakthroughs: []string{"the flake was a race in the file watcher"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.KnowledgeRetained)
	assert.GreaterOrEqual(t, resp.DurationSeconds, int64(0))
	assert.Equal(t, 1.0, resp.QualityScore, "no interactions means no failures")

	sess, err := f.store.GetSession(ctx, started.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, sess.EndedAt)

	_, _, err = f.server.handleEndSession(ctx, nil, EndSessionRequest{SessionID: "ghost"})
	assert.True(t, kerrors.IsKind(err, kerrors.KindNotFound))
}

func TestRecordValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// unknown pattern: NotFound, never a partial write
	_, _, err := f.server.handleRecordValidation(ctx, nil, RecordValidationRequest{
		PatternID: "ghost",
		Type:      "usage_success",
		Result:    true,
	})
	assert.True(t, kerrors.IsKind(err, kerrors.KindNotFound))

	pid, err := f.store.PutPattern(ctx, &types.Pattern{
		PatternType: types.PatternProceduralSequence,
		Title:       "verified procedure",
		Content:     map[string]any{},
		Confidence:  0.5,
		IsActive:    true,
	})
	require.NoError(t, err)

	conf := 0.9
	_, resp, err := f.server.handleRecordValidation(ctx, nil, RecordValidationRequest{
		PatternID:  pid,
		Type:       "usage_success",
		Result:     true,
		Confidence: &conf,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ValidationID)

	p, err := f.store.GetPattern(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, types.StatusValidated, p.ValidationStatus)
}
