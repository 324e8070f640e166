// Package retrieval implements hybrid semantic + lexical search with
// weighted rank merging.
//
// The pipeline embeds the query, over-fetches from both the vector and
// full-text paths, then merges with
//
//	final = alpha*sim + beta*lex_norm + gamma*importance/100 + delta*recency
//
// where the weights sum to 1.0. When the embedding provider or the vector
// index is unavailable the search degrades to the lexical path and flags the
// result set.
package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/embeddings"
	kerrors "knowledge-engine/internal/errors"
	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
)

// OverFetchFactor widens both search legs so rank merging has candidates to
// work with.
const OverFetchFactor = 4

// vectorFloor is the similarity floor for the vector leg; the configured
// threshold is applied (and relaxed) during merging.
const vectorFloor = 0.25

// relaxStep and maxRelaxRetries govern threshold relaxation when too few
// results clear the configured similarity threshold.
const (
	relaxStep       = 0.1
	maxRelaxRetries = 3
)

// Result is one ranked search hit with its score decomposition.
type Result struct {
	Item       *types.KnowledgeItem `json:"item"`
	FinalScore float64              `json:"final_score"`
	Similarity float64              `json:"similarity"`
	Lexical    float64              `json:"lexical"`
}

// SearchResult is a ranked result list plus degradation state.
type SearchResult struct {
	Results []Result `json:"results"`
	// Degraded is set when the semantic leg was unavailable and only
	// lexical ranking applied.
	Degraded bool `json:"degraded"`
	// ThresholdUsed is the similarity threshold after any relaxation.
	ThresholdUsed float64 `json:"threshold_used"`
}

// Searcher performs hybrid retrieval over the knowledge store.
type Searcher struct {
	store   storage.KnowledgeRepository
	gateway *embeddings.Gateway
	cfg     config.RetrievalConfig
	logger  *zap.Logger
}

// NewSearcher creates a hybrid searcher.
func NewSearcher(store storage.KnowledgeRepository, gateway *embeddings.Gateway, cfg config.RetrievalConfig, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{store: store, gateway: gateway, cfg: cfg, logger: logger.Named("retrieval")}
}

// Search runs the hybrid pipeline and returns the top k results.
func (s *Searcher) Search(ctx context.Context, query string, f storage.KnowledgeFilter, k int) (*SearchResult, error) {
	if query == "" {
		return nil, kerrors.Validation("query must not be empty")
	}
	if k <= 0 {
		k = 10
	}

	qv, embedDegraded := s.gateway.Embed(ctx, query)
	degraded := embedDegraded || embeddings.IsZeroVector(qv)

	var vectorHits []storage.ScoredItem
	if !degraded {
		hits, err := s.store.VectorSearch(ctx, qv, k*OverFetchFactor, f, vectorFloor)
		switch {
		case err == nil:
			vectorHits = hits
		case kerrors.IsKind(err, kerrors.KindDegraded):
			s.logger.Warn("vector search degraded, using lexical only", zap.Error(err))
			degraded = true
		default:
			return nil, err
		}
	}

	lexicalHits, err := s.store.FulltextSearch(ctx, query, k*OverFetchFactor, f)
	if err != nil {
		return nil, err
	}

	merged := s.merge(ctx, vectorHits, lexicalHits)

	// Threshold relaxation: when too few semantic hits clear the configured
	// threshold, step it down and recount, bounded at the vector floor.
	threshold := s.cfg.SimilarityThreshold
	if !degraded {
		for retry := 0; retry < maxRelaxRetries; retry++ {
			above := 0
			for _, c := range merged {
				if c.Similarity >= threshold {
					above++
				}
			}
			if above >= s.cfg.MinResults || threshold <= vectorFloor {
				break
			}
			threshold -= relaxStep
			if threshold < vectorFloor {
				threshold = vectorFloor
			}
		}
		filtered := merged[:0]
		for _, c := range merged {
			if c.Similarity >= threshold || c.Similarity == 0 {
				filtered = append(filtered, c)
			}
		}
		merged = filtered
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].FinalScore != merged[j].FinalScore {
			return merged[i].FinalScore > merged[j].FinalScore
		}
		return merged[i].Item.ID < merged[j].Item.ID
	})
	if len(merged) > k {
		merged = merged[:k]
	}

	return &SearchResult{Results: merged, Degraded: degraded, ThresholdUsed: threshold}, nil
}

// merge deduplicates the two legs by item id and computes final scores on a
// bounded worker pool.
func (s *Searcher) merge(ctx context.Context, vectorHits, lexicalHits []storage.ScoredItem) []Result {
	type candidate struct {
		item *types.KnowledgeItem
		sim  float64
		lex  float64
	}
	byID := map[string]*candidate{}
	order := []string{}

	for _, h := range vectorHits {
		byID[h.Item.ID] = &candidate{item: h.Item, sim: h.Score}
		order = append(order, h.Item.ID)
	}

	maxLex := 0.0
	for _, h := range lexicalHits {
		if h.Score > maxLex {
			maxLex = h.Score
		}
	}
	for _, h := range lexicalHits {
		lex := h.Score
		if maxLex > 0 {
			lex /= maxLex
		}
		if c, ok := byID[h.Item.ID]; ok {
			c.lex = lex
		} else {
			byID[h.Item.ID] = &candidate{item: h.Item, lex: lex}
			order = append(order, h.Item.ID)
		}
	}

	alpha, beta, gamma, delta := s.cfg.HybridWeights[0], s.cfg.HybridWeights[1], s.cfg.HybridWeights[2], s.cfg.HybridWeights[3]
	now := time.Now().UTC()

	results := make([]Result, len(order))
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range order {
		c := byID[id]
		g.Go(func() error {
			final := alpha*c.sim + beta*c.lex + gamma*c.item.Importance/100 + delta*recencyDecay(now, c.item.UpdatedAt)
			results[i] = Result{Item: c.item, FinalScore: final, Similarity: c.sim, Lexical: c.lex}
			return nil
		})
	}
	_ = g.Wait() // scoring goroutines never error
	return results
}

// recencyDecay maps item age onto (0,1], halving roughly every 30 days.
func recencyDecay(now, updatedAt time.Time) float64 {
	age := now.Sub(updatedAt)
	if age < 0 {
		age = 0
	}
	days := age.Hours() / 24
	return math.Exp(-days * math.Ln2 / 30)
}
