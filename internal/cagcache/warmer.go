// Package cagcache implements the pre-computed context cache for
// cache-augmented generation.
//
// For a (project, situation) key the Warmer pre-loads the highest-value
// items across strategic tiers so the first query in that situation pays no
// cold-start cost. Warms are single-flight per key: concurrent callers for
// the same situation await one execution and share its packet.
package cagcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"knowledge-engine/internal/config"
	"knowledge-engine/internal/retrieval"
	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
	"knowledge-engine/pkg/cache"
)

// Strategic tier names.
const (
	TierCoreDomain  = "core_domain"
	TierExperiential = "experiential"
	TierSituational = "situational"
	TierStrategic   = "strategic"
	TierRecentPatterns = "recent_patterns"
)

// tierWeights allocate the item budget across tiers; they sum to 1.0.
var tierWeights = []struct {
	name   string
	weight float64
}{
	{TierCoreDomain, 0.40},
	{TierExperiential, 0.20},
	{TierSituational, 0.25},
	{TierStrategic, 0.10},
	{TierRecentPatterns, 0.05},
}

// DefaultBudgetItems is the item budget when the caller passes none.
const DefaultBudgetItems = 40

// coreImportanceFloor is the minimum importance for the core-domain tier.
const coreImportanceFloor = 70

// Entry is one warmed cache slot.
type Entry struct {
	ItemID    string  `json:"item_id"`
	Tier      string  `json:"tier"`
	Score     float64 `json:"score"`
	TokensEst int     `json:"tokens_est"`

	// Item is the hydrated row, kept in-process so assembly needs no
	// re-fetch. Pattern and insight entries are projected into the same
	// shape.
	Item *types.KnowledgeItem `json:"-"`
}

// CachePacket is the result of one warm: the ordered entries plus totals
// and fill metrics.
type CachePacket struct {
	WarmID      string             `json:"warm_id"`
	ProjectID   string             `json:"project_id"`
	Situation   string             `json:"situation"`
	Entries     []Entry            `json:"entries"`
	TotalItems  int                `json:"total_items"`
	TotalTokens int                `json:"total_tokens"`
	TierFill    map[string]float64 `json:"tier_fill"`
	WarmTimeMs  int64              `json:"warm_time_ms"`
	Degraded    bool               `json:"degraded"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Metrics are cumulative warm-cache counters.
type Metrics struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Warms  int64 `json:"warms"`
}

// Warmer owns the warmed context cache. It is the single writer; readers
// obtain packet snapshots through Warm. Lifecycle: created at serve start,
// drained on shutdown, replaced on reindex.
type Warmer struct {
	store    storage.Store
	searcher *retrieval.Searcher
	logger   *zap.Logger

	packets *cache.LRU[string, *CachePacket]
	flight  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	warms  atomic.Int64
}

// NewWarmer creates the context cache warmer.
func NewWarmer(store storage.Store, searcher *retrieval.Searcher, cfg config.CacheConfig, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{
		store:    store,
		searcher: searcher,
		logger:   logger.Named("warmer"),
		packets: cache.New[string, *CachePacket](cache.Config{
			MaxEntries: cfg.MaxEntries,
			TTL:        time.Duration(cfg.TTLSeconds) * time.Second,
		}),
	}
}

// NormalizeSituation case-folds and collapses whitespace so trivially
// different phrasings share a cache key.
func NormalizeSituation(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Key derives the cache key for a (project, situation) pair.
func Key(projectID, situation string) string {
	h := sha256.Sum256([]byte(projectID + "\x00" + NormalizeSituation(situation)))
	return hex.EncodeToString(h[:])
}

// Warm returns the cached packet for (project, situation) or executes a
// warm. hit reports whether the packet came from cache. Concurrent callers
// for the same key share a single execution and receive the same packet.
func (w *Warmer) Warm(ctx context.Context, project *types.Project, situation string, budgetItems, budgetTokens int) (packet *CachePacket, hit bool, err error) {
	key := Key(project.ID, situation)
	if p, ok := w.packets.Get(key); ok {
		w.hits.Add(1)
		return p, true, nil
	}
	w.misses.Add(1)

	v, err, _ := w.flight.Do(key, func() (any, error) {
		// Re-check: a concurrent warm may have landed while queueing.
		if p, ok := w.packets.Get(key); ok {
			return p, nil
		}
		p, err := w.buildPacket(ctx, project, situation, budgetItems, budgetTokens)
		if err != nil {
			return nil, err
		}
		w.packets.Set(key, p)
		w.warms.Add(1)
		return p, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*CachePacket), false, nil
}

// Peek returns the cached packet without warming.
func (w *Warmer) Peek(projectID, situation string) (*CachePacket, bool) {
	return w.packets.Peek(Key(projectID, situation))
}

// Invalidate drops all warmed packets. Called on reindex.
func (w *Warmer) Invalidate() {
	w.packets.Clear()
}

// Metrics returns cumulative hit/miss/warm counters.
func (w *Warmer) Metrics() Metrics {
	return Metrics{Hits: w.hits.Load(), Misses: w.misses.Load(), Warms: w.warms.Load()}
}

// buildPacket fills the strategic tiers proportionally until either budget
// is exhausted.
func (w *Warmer) buildPacket(ctx context.Context, project *types.Project, situation string, budgetItems, budgetTokens int) (*CachePacket, error) {
	start := time.Now()
	if budgetItems <= 0 {
		budgetItems = DefaultBudgetItems
	}

	packet := &CachePacket{
		WarmID:    uuid.NewString(),
		ProjectID: project.ID,
		Situation: NormalizeSituation(situation),
		TierFill:  map[string]float64{},
		CreatedAt: time.Now().UTC(),
	}

	seen := map[string]bool{}
	tokensUsed := 0

	for _, tier := range tierWeights {
		quota := int(math.Ceil(tier.weight * float64(budgetItems)))
		if remaining := budgetItems - len(packet.Entries); quota > remaining {
			quota = remaining
		}
		if quota <= 0 {
			packet.TierFill[tier.name] = 0
			continue
		}

		entries, degraded, err := w.fillTier(ctx, tier.name, project, situation, quota)
		if err != nil {
			return nil, err
		}
		if degraded {
			packet.Degraded = true
		}

		added := 0
		for _, e := range entries {
			if seen[e.ItemID] {
				continue
			}
			if budgetTokens > 0 && tokensUsed+e.TokensEst > budgetTokens {
				continue
			}
			seen[e.ItemID] = true
			tokensUsed += e.TokensEst
			packet.Entries = append(packet.Entries, e)
			added++
			if added >= quota {
				break
			}
		}
		packet.TierFill[tier.name] = float64(added) / float64(quota)

		if budgetTokens > 0 && tokensUsed >= budgetTokens {
			break
		}
	}

	packet.TotalItems = len(packet.Entries)
	packet.TotalTokens = tokensUsed
	packet.WarmTimeMs = time.Since(start).Milliseconds()

	w.logger.Debug("warm complete",
		zap.String("project", project.ID),
		zap.Int("items", packet.TotalItems),
		zap.Int("tokens", packet.TotalTokens),
		zap.Int64("ms", packet.WarmTimeMs))
	return packet, nil
}

func (w *Warmer) fillTier(ctx context.Context, tier string, project *types.Project, situation string, quota int) ([]Entry, bool, error) {
	switch tier {
	case TierCoreDomain:
		items, err := w.store.ListKnowledge(ctx, storage.KnowledgeFilter{
			ProjectID:     project.ID,
			SemanticTypes: []types.SemanticType{types.SemanticTechnicalDiscovery, types.SemanticProcedural},
			MinImportance: coreImportanceFloor,
			OrderBy:       "importance",
			Limit:         quota * 2,
		})
		if err != nil {
			return nil, false, err
		}
		return itemEntries(items, tier, func(it *types.KnowledgeItem) float64 { return it.Importance / 100 }), false, nil

	case TierExperiential:
		items, err := w.store.ListKnowledge(ctx, storage.KnowledgeFilter{
			ProjectID:    project.ID,
			SemanticType: types.SemanticExperiential,
			OrderBy:      "quality",
			Limit:        quota * 2,
		})
		if err != nil {
			return nil, false, err
		}
		more, err := w.store.ListKnowledge(ctx, storage.KnowledgeFilter{
			ProjectID:     project.ID,
			KnowledgeType: types.KnowledgeExperiential,
			OrderBy:       "quality",
			Limit:         quota * 2,
		})
		if err != nil {
			return nil, false, err
		}
		return itemEntries(append(items, more...), tier, func(it *types.KnowledgeItem) float64 { return it.Quality / 100 }), false, nil

	case TierSituational:
		if strings.TrimSpace(situation) == "" {
			return nil, false, nil
		}
		res, err := w.searcher.Search(ctx, situation, storage.KnowledgeFilter{ProjectID: project.ID}, quota)
		if err != nil {
			return nil, false, err
		}
		entries := make([]Entry, 0, len(res.Results))
		for _, r := range res.Results {
			entries = append(entries, Entry{
				ItemID:    r.Item.ID,
				Tier:      tier,
				Score:     r.FinalScore,
				TokensEst: r.Item.TokensEstimate(),
				Item:      r.Item,
			})
		}
		return entries, res.Degraded, nil

	case TierStrategic:
		insights, err := w.store.ListInsights(ctx, project.Type, quota)
		if err != nil {
			return nil, false, err
		}
		entries := make([]Entry, 0, len(insights))
		for _, ins := range insights {
			item := insightAsItem(ins)
			entries = append(entries, Entry{
				ItemID:    ins.ID,
				Tier:      tier,
				Score:     ins.Effectiveness,
				TokensEst: item.TokensEstimate(),
				Item:      item,
			})
		}
		return entries, false, nil

	case TierRecentPatterns:
		patterns, err := w.store.ListPatterns(ctx, storage.PatternFilter{
			ProjectID:        project.ID,
			ValidationStatus: types.StatusValidated,
			Limit:            quota,
		})
		if err != nil {
			return nil, false, err
		}
		entries := make([]Entry, 0, len(patterns))
		for _, p := range patterns {
			item := patternAsItem(p)
			entries = append(entries, Entry{
				ItemID:    p.ID,
				Tier:      tier,
				Score:     p.Confidence,
				TokensEst: item.TokensEstimate(),
				Item:      item,
			})
		}
		return entries, false, nil
	}
	return nil, false, nil
}

func itemEntries(items []*types.KnowledgeItem, tier string, score func(*types.KnowledgeItem) float64) []Entry {
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		entries = append(entries, Entry{
			ItemID:    it.ID,
			Tier:      tier,
			Score:     score(it),
			TokensEst: it.TokensEstimate(),
			Item:      it,
		})
	}
	return entries
}

// insightAsItem projects a strategic insight into the common context-item
// shape used for packing.
func insightAsItem(ins *types.StrategicInsight) *types.KnowledgeItem {
	content, _ := json.Marshal(ins.Content)
	return &types.KnowledgeItem{
		ID:            ins.ID,
		KnowledgeType: types.KnowledgeStrategic,
		SemanticType:  types.SemanticStrategicInsight,
		Title:         ins.Title,
		Content:       string(content),
		Importance:    ins.Effectiveness * 100,
		IsActive:      true,
		CreatedAt:     ins.CreatedAt,
		UpdatedAt:     ins.UpdatedAt,
	}
}

// patternAsItem projects a pattern into the common context-item shape.
func patternAsItem(p *types.Pattern) *types.KnowledgeItem {
	content, _ := json.Marshal(p.Content)
	return &types.KnowledgeItem{
		ID:            p.ID,
		KnowledgeType: types.KnowledgePatterns,
		SemanticType:  types.SemanticPatternRecognition,
		Title:         p.Title,
		Content:       string(content),
		ProjectID:     p.ProjectID,
		Importance:    p.Confidence * 100,
		IsActive:      p.IsActive,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
