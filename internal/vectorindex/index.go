// Package vectorindex wraps chromem-go with per-entity collections for
// cosine-similarity search over stored embeddings.
package vectorindex

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// Collection names, one per entity carrying embeddings.
const (
	CollectionKnowledge = "knowledge"
	CollectionPatterns  = "patterns"
	CollectionInsights  = "insights"
)

// Hit is one approximate-nearest-neighbor result.
type Hit struct {
	ID         string
	Similarity float64
}

// Index provides cosine ANN search backed by chromem-go.
type Index struct {
	db     *chromem.DB
	logger *zap.Logger
}

// New creates a vector index. An empty persistPath keeps the index
// in-memory only; it is then rebuilt from rows on startup (see
// Store.Reindex).
func New(persistPath string, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent vector index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &Index{db: db, logger: logger.Named("vectorindex")}, nil
}

func (ix *Index) collection(name string) (*chromem.Collection, error) {
	c := ix.db.GetCollection(name, nil)
	if c != nil {
		return c, nil
	}
	return ix.db.CreateCollection(name, nil, nil)
}

// Upsert stores or replaces a document's embedding.
func (ix *Index) Upsert(ctx context.Context, collection, id string, embedding []float32, metadata map[string]string) error {
	c, err := ix.collection(collection)
	if err != nil {
		return fmt.Errorf("failed to open collection %s: %w", collection, err)
	}
	err = c.AddDocument(ctx, chromem.Document{
		ID:        id,
		Content:   id, // content lives in the relational store
		Metadata:  metadata,
		Embedding: embedding,
	})
	if err != nil {
		return fmt.Errorf("failed to index %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes a document from a collection.
func (ix *Index) Delete(ctx context.Context, collection, id string) error {
	c := ix.db.GetCollection(collection, nil)
	if c == nil {
		return nil
	}
	return c.Delete(ctx, nil, nil, id)
}

// Query returns up to k hits by cosine similarity, optionally narrowed by
// metadata equality. k is clamped to the collection size.
func (ix *Index) Query(ctx context.Context, collection string, embedding []float32, k int, where map[string]string) ([]Hit, error) {
	c := ix.db.GetCollection(collection, nil)
	if c == nil {
		return nil, nil
	}
	if n := c.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}
	results, err := c.QueryEmbedding(ctx, embedding, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{ID: r.ID, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

// Count returns the number of indexed documents in a collection.
func (ix *Index) Count(collection string) int {
	c := ix.db.GetCollection(collection, nil)
	if c == nil {
		return 0
	}
	return c.Count()
}

// Reset drops and recreates a collection. Used by reindex.
func (ix *Index) Reset(collection string) error {
	ix.db.DeleteCollection(collection)
	_, err := ix.db.CreateCollection(collection, nil, nil)
	return err
}
