package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/types"
)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(SQLiteConfig{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		EmbedDim: testDim,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	// startup already migrated to latest; applying again is a no-op
	require.NoError(t, s.MigrateTo(ctx, LatestSchemaVersion))
	require.NoError(t, s.MigrateTo(ctx, LatestSchemaVersion))

	rows, err := s.db.QueryContext(ctx, `SELECT version, checksum FROM schema_versions ORDER BY version`)
	require.NoError(t, err)
	defer rows.Close()

	versions := map[int]string{}
	for rows.Next() {
		var v int
		var checksum string
		require.NoError(t, rows.Scan(&v, &checksum))
		_, dup := versions[v]
		require.False(t, dup, "version %d recorded twice", v)
		versions[v] = checksum
	}
	require.Len(t, versions, LatestSchemaVersion)

	for _, m := range Migrations {
		assert.Equal(t, m.Checksum(), versions[m.Version])
	}
}

func TestMigrateUnknownVersion(t *testing.T) {
	s := newSQLite(t)
	assert.Error(t, s.MigrateTo(context.Background(), LatestSchemaVersion+1))
	assert.Error(t, s.MigrateTo(context.Background(), 0))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(SQLiteConfig{Path: path, EmbedDim: testDim})
	require.NoError(t, err)
	p := seedProject(t, s1)

	item := testItem(p.ID, "survives restart", "content persists in sqlite")
	item.Embedding = embedText(t, item.Title)
	id, err := s1.PutKnowledge(ctx, item)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// reopen: rows come back and the in-memory vector index is rebuilt
	s2, err := NewSQLiteStore(SQLiteConfig{Path: path, EmbedDim: testDim})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetKnowledge(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "survives restart", got.Title)

	hits, err := s2.VectorSearch(ctx, embedText(t, "survives restart"), 5, KnowledgeFilter{}, 0.25)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, id, hits[0].Item.ID)
}

func TestReindexRebuildsVectors(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	p := seedProject(t, s)

	item := testItem(p.ID, "reindexable", "vector comes back after rebuild")
	item.Embedding = embedText(t, item.Title)
	id, err := s.PutKnowledge(ctx, item)
	require.NoError(t, err)

	require.NoError(t, s.Reindex(ctx))

	hits, err := s.VectorSearch(ctx, embedText(t, "reindexable"), 5, KnowledgeFilter{}, 0.25)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, id, hits[0].Item.ID)
}

func TestUpdatePreservesFTS(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()
	p := seedProject(t, s)

	item := testItem(p.ID, "original title", "original content words")
	id, err := s.PutKnowledge(ctx, item)
	require.NoError(t, err)

	// rewrite via upsert: the FTS row must follow the new text
	item.ID = id
	item.Title = "replacement title"
	item.Content = "entirely different vocabulary"
	_, err = s.PutKnowledge(ctx, item)
	require.NoError(t, err)

	hits, err := s.FulltextSearch(ctx, "replacement vocabulary", 10, KnowledgeFilter{ProjectID: p.ID})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, id, hits[0].Item.ID)

	stale, err := s.FulltextSearch(ctx, "original", 10, KnowledgeFilter{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestEmbeddingBlobCodec(t *testing.T) {
	vec := []float32{0.5, -1.25, 0, 3.75}
	blob := embeddingToBlob(vec)
	assert.Len(t, blob, 16)
	assert.Equal(t, vec, blobToEmbedding(blob))

	assert.Nil(t, embeddingToBlob(nil))
	assert.Nil(t, blobToEmbedding(nil))
	assert.Nil(t, blobToEmbedding([]byte{1, 2, 3}), "truncated blobs decode to nil")
}

func TestFTSQuerySanitization(t *testing.T) {
	assert.Equal(t, `"absolute" OR "path"`, ftsQuery("Absolute, Path!"))
	assert.Equal(t, "", ftsQuery("!!! ???"))
	assert.Equal(t, `"a1"`, ftsQuery("a1"))
}

func TestVectorDegradedRefusesSearch(t *testing.T) {
	s := newSQLite(t)
	ctx := context.Background()

	s.vectorDegraded.Store(true)
	_, err := s.VectorSearch(ctx, make([]float32, testDim), 5, KnowledgeFilter{}, 0.25)
	require.Error(t, err)

	// reindex recovers
	require.NoError(t, s.Reindex(ctx))
	_, err = s.VectorSearch(ctx, make([]float32, testDim), 5, KnowledgeFilter{}, 0.25)
	assert.NoError(t, err)
}

func TestStoreFactoryFallback(t *testing.T) {
	m := NewMemoryStore(testDim)
	_, err := m.PutKnowledge(context.Background(), testItem("p", "t", "c"))
	require.NoError(t, err)
	require.NoError(t, CloseStore(m), "memory store closes as a no-op")
}

func TestMemoryMigrate(t *testing.T) {
	m := NewMemoryStore(testDim)
	require.NoError(t, m.MigrateTo(context.Background(), LatestSchemaVersion))
	require.NoError(t, m.MigrateTo(context.Background(), LatestSchemaVersion))
	assert.Error(t, m.MigrateTo(context.Background(), 99))
}

func TestPutHealthDegradedWithDetails(t *testing.T) {
	s := newSQLite(t)
	_, err := s.PutHealth(context.Background(), &types.HealthLog{
		Component:       types.ComponentDatabase,
		Status:          types.HealthDegraded,
		ErrorDetails:    "index corruption detected",
		RecoveryActions: []string{"run reindex"},
		Metrics:         map[string]any{"tables": 3},
	})
	require.NoError(t, err)
}
