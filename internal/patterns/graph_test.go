package patterns

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "knowledge-engine/internal/errors"
	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
)

func rel(src, dst string, relType types.RelationshipType) *types.PatternRelationship {
	return &types.PatternRelationship{
		SourceID: src, TargetID: dst, Type: relType,
		Strength: 0.5, Confidence: 0.5,
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	g := NewGraph(nil)
	ctx := context.Background()

	require.NoError(t, g.AddRelationship(ctx, rel("a", "b", types.RelDependsOn)))
	require.NoError(t, g.AddRelationship(ctx, rel("b", "c", types.RelDependsOn)))

	err := g.AddRelationship(ctx, rel("c", "a", types.RelDependsOn))
	require.Error(t, err)
	assert.True(t, kerrors.IsKind(err, kerrors.KindValidation))
}

func TestNonDependencyCyclesAllowed(t *testing.T) {
	g := NewGraph(nil)
	ctx := context.Background()

	require.NoError(t, g.AddRelationship(ctx, rel("a", "b", types.RelSimilarTo)))
	require.NoError(t, g.AddRelationship(ctx, rel("b", "a", types.RelSimilarTo)))
}

func TestNeighborsAndRelated(t *testing.T) {
	g := NewGraph(nil)
	ctx := context.Background()

	require.NoError(t, g.AddRelationship(ctx, rel("a", "b", types.RelCauses)))
	require.NoError(t, g.AddRelationship(ctx, rel("a", "c", types.RelEnhances)))
	require.NoError(t, g.AddRelationship(ctx, rel("b", "d", types.RelCauses)))

	assert.Equal(t, []string{"b", "c"}, g.Neighbors("a"))
	assert.Empty(t, g.Neighbors("d"))

	assert.Equal(t, []string{"b", "c"}, g.Related("a", 1))
	assert.Equal(t, []string{"b", "c", "d"}, g.Related("a", 2))
	assert.Empty(t, g.Related("ghost", 2))
}

func TestLoadFromStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(64)

	mk := func(title string) string {
		id, err := store.PutPattern(ctx, &types.Pattern{
			PatternType: types.PatternDependencyRelationship,
			Title:       title,
			Content:     map[string]any{},
			Confidence:  0.5,
			IsActive:    true,
		})
		require.NoError(t, err)
		return id
	}
	a, b := mk("first"), mk("second")
	_, err := store.PutRelationship(ctx, rel(a, b, types.RelDependsOn))
	require.NoError(t, err)

	g := NewGraph(nil)
	require.NoError(t, g.Load(ctx, store))
	assert.Equal(t, []string{b}, g.Neighbors(a))

	// a loaded dependency edge still guards against closing the cycle
	err = g.AddRelationship(ctx, rel(b, a, types.RelDependsOn))
	assert.Error(t, err)
}
