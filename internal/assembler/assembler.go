// Package assembler produces the bounded context payload for a query within
// a session: warmed cache entries merged with live retrieval, greedily
// packed into a token budget.
package assembler

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"knowledge-engine/internal/cagcache"
	"knowledge-engine/internal/config"
	kerrors "knowledge-engine/internal/errors"
	"knowledge-engine/internal/retrieval"
	"knowledge-engine/internal/storage"
	"knowledge-engine/internal/types"
)

// Source labels where a context item came from.
const (
	SourceWarmed = "warmed"
	SourceLive   = "live"
)

// warmedBonus favors pre-computed context during re-ranking.
const warmedBonus = 0.05

// ContextItem is one selected item with provenance.
type ContextItem struct {
	ItemID    string  `json:"item_id"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	Tier      string  `json:"tier,omitempty"`
	Score     float64 `json:"score"`
	TokensEst int     `json:"tokens_est"`
	Source    string  `json:"source"`
}

// Metrics describe one assembly.
type Metrics struct {
	CacheHit                bool    `json:"cache_hit"`
	CacheHitRatio           float64 `json:"cache_hit_ratio"`
	AssemblyLatencyMs       int64   `json:"assembly_latency_ms"`
	ItemsSelected           int     `json:"items_selected"`
	ItemsRejectedOverBudget int     `json:"items_rejected_over_budget"`
	TokensUsed              int     `json:"tokens_used"`
}

// Payload is the assembled context: ordered items plus provenance and
// metrics.
type Payload struct {
	SessionID string        `json:"session_id"`
	WarmID    string        `json:"warm_id"`
	Items     []ContextItem `json:"items"`
	Degraded  bool          `json:"degraded"`
	Metrics   Metrics       `json:"metrics"`
}

// Options override per-call assembly limits. Nil fields fall back to
// configuration.
type Options struct {
	TokenBudget *int
	MaxItems    *int
}

// Assembler builds context payloads.
type Assembler struct {
	store    storage.Store
	warmer   *cagcache.Warmer
	searcher *retrieval.Searcher
	cfg      config.ContextConfig
	logger   *zap.Logger
}

// New creates an assembler.
func New(store storage.Store, warmer *cagcache.Warmer, searcher *retrieval.Searcher, cfg config.ContextConfig, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{store: store, warmer: warmer, searcher: searcher, cfg: cfg, logger: logger.Named("assembler")}
}

// Assemble resolves the session's situation, ensures the cache is warm,
// merges warmed and live results, and packs them into the token budget.
//
// Deterministic for identical inputs and cache state; monotonic in the
// budget: raising it never drops a previously selected item.
func (a *Assembler) Assemble(ctx context.Context, sessionID, query string, opts Options) (*Payload, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.AssembleTimeout)
	defer cancel()

	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	project, err := a.store.GetProject(ctx, sess.ProjectID)
	if err != nil {
		return nil, err
	}

	// The current query is the newest user turn; the situation key is the
	// last few of them.
	sess.RecentUserTurns = append(sess.RecentUserTurns, query)
	if n := len(sess.RecentUserTurns); n > a.cfg.SituationTurns {
		sess.RecentUserTurns = sess.RecentUserTurns[n-a.cfg.SituationTurns:]
	}
	if err := a.store.UpdateSession(ctx, sess); err != nil {
		a.logger.Warn("failed to persist session turns", zap.Error(err))
	}
	situation := strings.Join(sess.RecentUserTurns, " ")

	budget := a.cfg.TokenBudget
	if opts.TokenBudget != nil {
		budget = *opts.TokenBudget
	}
	maxItems := a.cfg.MaxItems
	if opts.MaxItems != nil && *opts.MaxItems > 0 && *opts.MaxItems < maxItems {
		maxItems = *opts.MaxItems
	}

	packet, hit, err := a.warmer.Warm(ctx, project, situation, 0, budget)
	if err != nil {
		return nil, err
	}

	live, err := a.searcher.Search(ctx, query, storage.KnowledgeFilter{ProjectID: project.ID}, a.cfg.LiveResults)
	if err != nil && !kerrors.IsKind(err, kerrors.KindValidation) {
		return nil, err
	}

	candidates := a.mergeCandidates(packet, live)

	// Greedy packing in rank order; stop at the first item that would
	// overflow so selection stays monotonic in the budget.
	payload := &Payload{SessionID: sessionID, WarmID: packet.WarmID, Degraded: packet.Degraded}
	if live != nil && live.Degraded {
		payload.Degraded = true
	}
	tokensUsed := 0
	rejected := 0
	for _, c := range candidates {
		if len(payload.Items) >= maxItems {
			rejected = len(candidates) - len(payload.Items)
			break
		}
		if tokensUsed+c.TokensEst > budget {
			rejected = len(candidates) - len(payload.Items)
			break
		}
		tokensUsed += c.TokensEst
		payload.Items = append(payload.Items, c)
	}

	a.recordUsage(ctx, sessionID, query, payload.Items)

	wm := a.warmer.Metrics()
	ratio := 0.0
	if total := wm.Hits + wm.Misses; total > 0 {
		ratio = float64(wm.Hits) / float64(total)
	}
	payload.Metrics = Metrics{
		CacheHit:                hit,
		CacheHitRatio:           ratio,
		AssemblyLatencyMs:       time.Since(start).Milliseconds(),
		ItemsSelected:           len(payload.Items),
		ItemsRejectedOverBudget: rejected,
		TokensUsed:              tokensUsed,
	}
	return payload, nil
}

// mergeCandidates deduplicates warmed and live results by id and re-ranks.
// Warmed items keep a small bonus so pre-computed context wins ties.
func (a *Assembler) mergeCandidates(packet *cagcache.CachePacket, live *retrieval.SearchResult) []ContextItem {
	byID := map[string]*ContextItem{}
	var order []string

	for _, e := range packet.Entries {
		ci := &ContextItem{
			ItemID:    e.ItemID,
			Title:     e.Item.Title,
			Content:   e.Item.Content,
			Tier:      e.Tier,
			Score:     e.Score + warmedBonus,
			TokensEst: e.TokensEst,
			Source:    SourceWarmed,
		}
		byID[e.ItemID] = ci
		order = append(order, e.ItemID)
	}

	if live != nil {
		for _, r := range live.Results {
			if existing, ok := byID[r.Item.ID]; ok {
				// Present in both: keep the warmed provenance, take the
				// stronger score.
				if s := r.FinalScore + warmedBonus; s > existing.Score {
					existing.Score = s
				}
				continue
			}
			byID[r.Item.ID] = &ContextItem{
				ItemID:    r.Item.ID,
				Title:     r.Item.Title,
				Content:   r.Item.Content,
				Score:     r.FinalScore,
				TokensEst: r.Item.TokensEstimate(),
				Source:    SourceLive,
			}
			order = append(order, r.Item.ID)
		}
	}

	out := make([]ContextItem, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out
}

// recordUsage writes a query_response usage row per included item and bumps
// knowledge usage counters. Outcomes are filled later via feedback.
func (a *Assembler) recordUsage(ctx context.Context, sessionID, query string, items []ContextItem) {
	usageContext := query
	if len(usageContext) > 200 {
		usageContext = usageContext[:200]
	}
	for _, it := range items {
		_, err := a.store.PutUsage(ctx, &types.PatternUsage{
			SubjectID: it.ItemID,
			SessionID: sessionID,
			Context:   usageContext,
			Type:      types.UsageQueryResponse,
		})
		if err != nil {
			a.logger.Warn("failed to record usage", zap.String("item", it.ItemID), zap.Error(err))
		}
		// Pattern- and insight-sourced entries have no knowledge row; a
		// not-found here is expected.
		if err := a.store.RecordItemUsage(ctx, it.ItemID); err != nil && !kerrors.IsKind(err, kerrors.KindNotFound) {
			a.logger.Warn("failed to bump usage count", zap.String("item", it.ItemID), zap.Error(err))
		}
	}
}
