package storage

import (
	"context"
	"time"

	"knowledge-engine/internal/types"
)

// KnowledgeFilter narrows knowledge queries. Zero values mean "no filter".
type KnowledgeFilter struct {
	ProjectID     string
	KnowledgeType types.KnowledgeType
	SemanticType  types.SemanticType
	// SemanticTypes matches any of the listed types when non-empty. Used by
	// the cache warmer's tier queries.
	SemanticTypes []types.SemanticType
	// IncludeInactive returns superseded/curated-out rows too.
	IncludeInactive bool
	MinImportance   float64
	MinConfidence   float64
	UpdatedAfter    time.Time
	// OrderBy is one of "", "importance", "quality", "updated_at".
	OrderBy string
	Limit   int
}

// PatternFilter narrows pattern queries.
type PatternFilter struct {
	ProjectID        string
	PatternType      types.PatternType
	ValidationStatus types.ValidationStatus
	IncludeInactive  bool
	Limit            int
}

// ScoredItem pairs a knowledge item with a search score. For vector search
// the score is cosine similarity; for full-text search it is a normalized
// lexical score.
type ScoredItem struct {
	Item  *types.KnowledgeItem
	Score float64
}

// Stats summarizes stored content for one project or globally.
type Stats struct {
	KnowledgeCount    int                       `json:"knowledge_count"`
	PatternCount      int                       `json:"pattern_count"`
	InsightCount      int                       `json:"insight_count"`
	SessionCount      int                       `json:"session_count"`
	PatternsByType    map[types.PatternType]int `json:"patterns_by_type"`
	AvgConfidence     float64                   `json:"avg_confidence"`
	AvgSuccessRate    float64                   `json:"avg_success_rate"`
	DegradedVectorOps bool                      `json:"degraded_vector_ops"`
}

// KnowledgeRepository manages knowledge item persistence and search.
type KnowledgeRepository interface {
	// PutKnowledge validates and writes an item, its embedding, and its
	// full-text tokens atomically. Supersession links are applied in the
	// same transaction. Returns the item id.
	PutKnowledge(ctx context.Context, item *types.KnowledgeItem) (string, error)
	GetKnowledge(ctx context.Context, id string) (*types.KnowledgeItem, error)
	ListKnowledge(ctx context.Context, f KnowledgeFilter) ([]*types.KnowledgeItem, error)

	// VectorSearch returns items with cosine similarity >= threshold,
	// ordered by similarity descending; ties broken by importance desc,
	// updated_at desc, id asc.
	VectorSearch(ctx context.Context, embedding []float32, k int, f KnowledgeFilter, threshold float64) ([]ScoredItem, error)

	// FulltextSearch matches the query against title, content, and merged
	// retrieval triggers.
	FulltextSearch(ctx context.Context, query string, k int, f KnowledgeFilter) ([]ScoredItem, error)

	// RecordItemUsage bumps usage_count.
	RecordItemUsage(ctx context.Context, id string) error
}

// PatternRepository manages patterns and their relationships.
type PatternRepository interface {
	PutPattern(ctx context.Context, p *types.Pattern) (string, error)
	GetPattern(ctx context.Context, id string) (*types.Pattern, error)
	ListPatterns(ctx context.Context, f PatternFilter) ([]*types.Pattern, error)

	// PutRelationship enforces source != target and uniqueness of
	// (source, target, type); duplicates yield a conflict error.
	PutRelationship(ctx context.Context, r *types.PatternRelationship) (string, error)
	ListRelationships(ctx context.Context, patternID string) ([]*types.PatternRelationship, error)
}

// InsightRepository manages cross-project strategic insights.
type InsightRepository interface {
	PutInsight(ctx context.Context, i *types.StrategicInsight) (string, error)
	ListInsights(ctx context.Context, projectType types.ProjectType, limit int) ([]*types.StrategicInsight, error)
}

// ValidationRepository manages pattern validation evidence.
type ValidationRepository interface {
	// PutValidation writes the evidence row and updates the pattern's
	// validation counters and status in one transaction.
	PutValidation(ctx context.Context, v *types.PatternValidation) (string, error)
}

// UsageRepository manages per-invocation usage records.
type UsageRepository interface {
	PutUsage(ctx context.Context, u *types.PatternUsage) (string, error)
	ListUsageBySession(ctx context.Context, sessionID string, limit int) ([]*types.PatternUsage, error)
}

// SessionRepository manages sessions.
type SessionRepository interface {
	PutSession(ctx context.Context, s *types.Session) (string, error)
	GetSession(ctx context.Context, id string) (*types.Session, error)
	GetSessionByExternalID(ctx context.Context, projectID, externalID string) (*types.Session, error)
	UpdateSession(ctx context.Context, s *types.Session) error
}

// ProjectRepository manages projects.
type ProjectRepository interface {
	PutProject(ctx context.Context, p *types.Project) (string, error)
	GetProject(ctx context.Context, id string) (*types.Project, error)
	GetProjectByName(ctx context.Context, name string) (*types.Project, error)
}

// HealthRepository records component health observations.
type HealthRepository interface {
	PutHealth(ctx context.Context, h *types.HealthLog) (string, error)
}

// ToolRegistryRepository tracks registered tools and their observed health.
type ToolRegistryRepository interface {
	PutToolRegistration(ctx context.Context, t *types.ToolRegistration) error
}

// Admin exposes operational primitives.
type Admin interface {
	Stats(ctx context.Context, projectID string) (*Stats, error)
	// MigrateTo applies schema migrations up to version. Idempotent:
	// applying twice equals applying once.
	MigrateTo(ctx context.Context, version int) error
	// Reindex rebuilds the vector collections and full-text index from the
	// stored rows.
	Reindex(ctx context.Context) error
}

// Store combines all repositories for unified access. Handlers and the
// retrieval/warming layers depend on this interface, not on a concrete
// backend.
type Store interface {
	KnowledgeRepository
	PatternRepository
	InsightRepository
	ValidationRepository
	UsageRepository
	SessionRepository
	ProjectRepository
	HealthRepository
	ToolRegistryRepository
	Admin
}

// Verify both backends implement Store.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
