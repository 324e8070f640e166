package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledge-engine/internal/embeddings"
)

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	v, err := embeddings.NewMockEmbedder(64).Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

func TestUpsertAndQuery(t *testing.T) {
	ix, err := New("", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, CollectionKnowledge, "k1", embed(t, "absolute path config"), nil))
	require.NoError(t, ix.Upsert(ctx, CollectionKnowledge, "k2", embed(t, "pasta recipe tonight"), nil))
	assert.Equal(t, 2, ix.Count(CollectionKnowledge))

	hits, err := ix.Query(ctx, CollectionKnowledge, embed(t, "absolute path config"), 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "k1", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-3)
}

func TestQueryClampsToCollectionSize(t *testing.T) {
	ix, err := New("", nil)
	require.NoError(t, err)
	ctx := context.Background()

	// empty collection: no error, no hits
	hits, err := ix.Query(ctx, CollectionKnowledge, embed(t, "anything"), 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, ix.Upsert(ctx, CollectionKnowledge, "only", embed(t, "single document"), nil))
	hits, err = ix.Query(ctx, CollectionKnowledge, embed(t, "single document"), 50, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestResetDropsDocuments(t *testing.T) {
	ix, err := New("", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ix.Upsert(ctx, CollectionPatterns, "p1", embed(t, "pattern text"), nil))
	require.NoError(t, ix.Reset(CollectionPatterns))
	assert.Equal(t, 0, ix.Count(CollectionPatterns))
}

func TestDeleteUnknownCollectionIsNoop(t *testing.T) {
	ix, err := New("", nil)
	require.NoError(t, err)
	assert.NoError(t, ix.Delete(context.Background(), "ghosts", "id"))
}
