// Package storage provides persistent storage for the knowledge engine.
//
// SQLiteStore keeps rows, counters, and the full-text index in SQLite
// (modernc.org/sqlite, WAL mode) and mirrors embeddings into a chromem-go
// vector index for cosine ANN search. All writes are transactional; the
// vector mirror is refreshed after commit and failures there degrade vector
// search rather than failing the write.
package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	kerrors "knowledge-engine/internal/errors"
	"knowledge-engine/internal/types"
	"knowledge-engine/internal/vectorindex"
)

// SQLiteStore implements Store backed by SQLite plus a chromem vector index.
type SQLiteStore struct {
	db      *sql.DB
	vectors *vectorindex.Index
	logger  *zap.Logger

	embedDim        int
	semanticMapping map[types.KnowledgeType]types.SemanticType

	// vectorDegraded flips when the vector mirror cannot be updated or
	// queried; vector search then refuses and retrieval falls back to the
	// lexical path.
	vectorDegraded atomic.Bool
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path           string
	VectorPath     string
	BusyTimeoutMs  int
	MaxConnections int
	EmbedDim       int
	Logger         *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database, applies all
// migrations, and rebuilds the vector index from stored rows.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.EmbedDim <= 0 {
		cfg.EmbedDim = types.DefaultEmbeddingDim
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	busyTimeout := cfg.BusyTimeoutMs
	if busyTimeout == 0 {
		busyTimeout = 5000
	}

	dsn := cfg.Path + fmt.Sprintf("?_busy_timeout=%d", busyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxConnections
	if maxConns == 0 {
		maxConns = 20
	}
	// SQLite works best with few writers; the pool soft cap bounds fairness.
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := configureSQLite(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure SQLite: %w", err)
	}
	if err := migrateTo(context.Background(), db, LatestSchemaVersion, "startup"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	vectors, err := vectorindex.New(cfg.VectorPath, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	s := &SQLiteStore{
		db:              db,
		vectors:         vectors,
		logger:          logger.Named("storage"),
		embedDim:        cfg.EmbedDim,
		semanticMapping: types.DefaultSemanticMapping(),
	}

	if cfg.VectorPath == "" {
		// In-memory vector index: rebuild from rows so search is warm on
		// startup.
		if err := s.Reindex(context.Background()); err != nil {
			s.logger.Warn("vector index rebuild failed, vector search degraded", zap.Error(err))
			s.markVectorDegraded(context.Background(), err)
		}
	}

	s.logger.Info("sqlite storage initialized",
		zap.String("path", cfg.Path), zap.Int("embed_dim", cfg.EmbedDim))
	return s, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SetSemanticMapping overrides the knowledge/semantic compatibility table.
func (s *SQLiteStore) SetSemanticMapping(m map[types.KnowledgeType]types.SemanticType) {
	if m != nil {
		s.semanticMapping = m
	}
}

// ---- codec helpers ----

func embeddingToBlob(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func blobToEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func marshalJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalMap(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ---- knowledge ----

const knowledgeColumns = `id, knowledge_type, semantic_type, semantic_confidence, classification_method,
	title, content, category, project_id, session_id, importance, quality,
	usage_count, validation_count, contradiction_count, embedding, provider_version,
	triggers, cross_project, source_projects, version, superseded_by, supersedes,
	is_active, created_at, updated_at`

// knowledgeColumnsQualified disambiguates against the FTS virtual table's
// title/content/triggers columns in join queries.
const knowledgeColumnsQualified = `ki.id, ki.knowledge_type, ki.semantic_type, ki.semantic_confidence, ki.classification_method,
	ki.title, ki.content, ki.category, ki.project_id, ki.session_id, ki.importance, ki.quality,
	ki.usage_count, ki.validation_count, ki.contradiction_count, ki.embedding, ki.provider_version,
	ki.triggers, ki.cross_project, ki.source_projects, ki.version, ki.superseded_by, ki.supersedes,
	ki.is_active, ki.created_at, ki.updated_at`

// PutKnowledge validates and writes the item, its embedding, its merged
// trigger tokens, and any supersession links in one transaction.
func (s *SQLiteStore) PutKnowledge(ctx context.Context, item *types.KnowledgeItem) (string, error) {
	if err := item.Validate(s.embedDim, s.semanticMapping); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid knowledge item: %v", err)
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Version == 0 {
		item.Version = 1
	}
	item.IsActive = item.SupersededBy == ""

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", kerrors.Unavailable("storage", err)
	}
	defer func() { _ = tx.Rollback() }()

	triggers := strings.Join(item.RetrievalTriggers, " ")
	_, err = tx.ExecContext(ctx, `
		INSERT INTO knowledge_items (`+knowledgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			content=excluded.content,
			category=excluded.category,
			importance=excluded.importance,
			quality=excluded.quality,
			embedding=excluded.embedding,
			provider_version=excluded.provider_version,
			triggers=excluded.triggers,
			version=excluded.version,
			superseded_by=excluded.superseded_by,
			supersedes=excluded.supersedes,
			is_active=excluded.is_active,
			updated_at=excluded.updated_at`,
		item.ID, string(item.KnowledgeType), string(item.SemanticType), item.SemanticConfidence,
		item.ClassificationMethod, item.Title, item.Content, item.Category,
		item.ProjectID, nullStr(item.SessionID), item.Importance, item.Quality,
		item.UsageCount, item.ValidationCount, item.ContradictionCount,
		embeddingToBlob(item.Embedding), item.ProviderVersion, triggers,
		boolToInt(item.CrossProject), marshalJSON(item.SourceProjects), item.Version,
		nullStr(item.SupersededBy), marshalJSON(item.Supersedes),
		boolToInt(item.IsActive), item.CreatedAt.Unix(), item.UpdatedAt.Unix())
	if err != nil {
		return "", kerrors.Unavailable("storage", err)
	}

	// Supersession: the superseded rows are deactivated and linked to the
	// new item in the same transaction.
	for _, oldID := range item.Supersedes {
		res, err := tx.ExecContext(ctx, `
			UPDATE knowledge_items
			SET superseded_by = ?, is_active = 0, updated_at = ?
			WHERE id = ?`, item.ID, now.Unix(), oldID)
		if err != nil {
			return "", kerrors.Unavailable("storage", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return "", kerrors.NotFound("superseded knowledge item", oldID)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", kerrors.Unavailable("storage", err)
	}

	s.indexKnowledge(ctx, item)
	return item.ID, nil
}

// indexKnowledge mirrors the embedding into the vector index. Failures flip
// the degraded flag; retrieval then stays lexical-only.
func (s *SQLiteStore) indexKnowledge(ctx context.Context, item *types.KnowledgeItem) {
	if len(item.Embedding) == 0 {
		return
	}
	meta := map[string]string{"project": item.ProjectID}
	if err := s.vectors.Upsert(ctx, vectorindex.CollectionKnowledge, item.ID, item.Embedding, meta); err != nil {
		s.logger.Warn("failed to index embedding", zap.String("id", item.ID), zap.Error(err))
		s.markVectorDegraded(ctx, err)
		return
	}
	s.vectorDegraded.Store(false)
}

func (s *SQLiteStore) markVectorDegraded(ctx context.Context, cause error) {
	if s.vectorDegraded.Swap(true) {
		return
	}
	_, _ = s.PutHealth(ctx, &types.HealthLog{
		Component:       types.ComponentDatabase,
		Status:          types.HealthDegraded,
		ErrorDetails:    cause.Error(),
		RecoveryActions: []string{"run reindex to rebuild the vector index"},
	})
}

// GetKnowledge returns the item or a not-found error.
func (s *SQLiteStore) GetKnowledge(ctx context.Context, id string) (*types.KnowledgeItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+knowledgeColumns+` FROM knowledge_items WHERE id = ?`, id)
	item, err := scanKnowledge(row)
	if err == sql.ErrNoRows {
		return nil, kerrors.NotFound("knowledge item", id)
	}
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	return item, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnowledge(row rowScanner) (*types.KnowledgeItem, error) {
	var (
		item                                  types.KnowledgeItem
		sessionID, supersededBy               sql.NullString
		embedding                             []byte
		triggers, sourceProjects, supersedes  string
		crossProject, isActive                int
		createdAt, updatedAt                  int64
		knowledgeType, semanticType           string
	)
	err := row.Scan(&item.ID, &knowledgeType, &semanticType, &item.SemanticConfidence,
		&item.ClassificationMethod, &item.Title, &item.Content, &item.Category,
		&item.ProjectID, &sessionID, &item.Importance, &item.Quality,
		&item.UsageCount, &item.ValidationCount, &item.ContradictionCount,
		&embedding, &item.ProviderVersion, &triggers, &crossProject,
		&sourceProjects, &item.Version, &supersededBy, &supersedes,
		&isActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	item.KnowledgeType = types.KnowledgeType(knowledgeType)
	item.SemanticType = types.SemanticType(semanticType)
	item.SessionID = sessionID.String
	item.Embedding = blobToEmbedding(embedding)
	if triggers != "" {
		item.RetrievalTriggers = strings.Fields(triggers)
	}
	item.CrossProject = crossProject != 0
	item.SourceProjects = unmarshalStrings(sourceProjects)
	item.SupersededBy = supersededBy.String
	item.Supersedes = unmarshalStrings(supersedes)
	item.IsActive = isActive != 0
	item.CreatedAt = time.Unix(createdAt, 0).UTC()
	item.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &item, nil
}

func (f KnowledgeFilter) whereClause(args *[]any) string {
	var conds []string
	if f.ProjectID != "" {
		conds = append(conds, "(ki.project_id = ? OR ki.cross_project = 1)")
		*args = append(*args, f.ProjectID)
	}
	if f.KnowledgeType != "" {
		conds = append(conds, "ki.knowledge_type = ?")
		*args = append(*args, string(f.KnowledgeType))
	}
	if f.SemanticType != "" {
		conds = append(conds, "ki.semantic_type = ?")
		*args = append(*args, string(f.SemanticType))
	}
	if len(f.SemanticTypes) > 0 {
		ph := make([]string, len(f.SemanticTypes))
		for i, st := range f.SemanticTypes {
			ph[i] = "?"
			*args = append(*args, string(st))
		}
		conds = append(conds, "ki.semantic_type IN ("+strings.Join(ph, ",")+")")
	}
	if !f.IncludeInactive {
		conds = append(conds, "ki.is_active = 1")
	}
	if f.MinImportance > 0 {
		conds = append(conds, "ki.importance >= ?")
		*args = append(*args, f.MinImportance)
	}
	if f.MinConfidence > 0 {
		conds = append(conds, "ki.semantic_confidence >= ?")
		*args = append(*args, f.MinConfidence)
	}
	if !f.UpdatedAfter.IsZero() {
		conds = append(conds, "ki.updated_at >= ?")
		*args = append(*args, f.UpdatedAfter.Unix())
	}
	if len(conds) == 0 {
		return "1=1"
	}
	return strings.Join(conds, " AND ")
}

// ListKnowledge returns items matching the filter.
func (s *SQLiteStore) ListKnowledge(ctx context.Context, f KnowledgeFilter) ([]*types.KnowledgeItem, error) {
	var args []any
	where := f.whereClause(&args)

	order := "ki.updated_at DESC, ki.id ASC"
	switch f.OrderBy {
	case "importance":
		order = "ki.importance DESC, ki.updated_at DESC, ki.id ASC"
	case "quality":
		order = "ki.quality DESC, ki.updated_at DESC, ki.id ASC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+knowledgeColumnsQualified+`
		 FROM knowledge_items ki WHERE `+where+` ORDER BY `+order+` LIMIT ?`, args...)
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	defer rows.Close()

	var items []*types.KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledge(rows)
		if err != nil {
			return nil, kerrors.Unavailable("storage", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// VectorSearch queries the chromem index and hydrates matching rows,
// applying the filter and threshold. Refuses when the vector index is
// degraded so callers fall back to the lexical path.
func (s *SQLiteStore) VectorSearch(ctx context.Context, embedding []float32, k int, f KnowledgeFilter, threshold float64) ([]ScoredItem, error) {
	if s.vectorDegraded.Load() {
		return nil, kerrors.New(kerrors.KindDegraded, "vector index degraded, use lexical search")
	}
	if len(embedding) != s.embedDim {
		return nil, kerrors.Validation("query embedding dimension mismatch: got %d, want %d", len(embedding), s.embedDim)
	}
	if k <= 0 {
		k = 10
	}

	// Over-fetch so post-filtering still fills k. Project narrowing happens
	// in matchesFilter because cross-project items must stay visible.
	hits, err := s.vectors.Query(ctx, vectorindex.CollectionKnowledge, embedding, k*4, nil)
	if err != nil {
		s.markVectorDegraded(ctx, err)
		return nil, kerrors.New(kerrors.KindDegraded, "vector query failed: %v", err)
	}

	var scored []ScoredItem
	for _, h := range hits {
		if h.Similarity < threshold {
			continue
		}
		item, err := s.GetKnowledge(ctx, h.ID)
		if err != nil {
			continue // row may have been deactivated between index and fetch
		}
		if !matchesFilter(item, f) {
			continue
		}
		scored = append(scored, ScoredItem{Item: item, Score: h.Similarity})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Item.Importance != b.Item.Importance {
			return a.Item.Importance > b.Item.Importance
		}
		if !a.Item.UpdatedAt.Equal(b.Item.UpdatedAt) {
			return a.Item.UpdatedAt.After(b.Item.UpdatedAt)
		}
		return a.Item.ID < b.Item.ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func matchesFilter(item *types.KnowledgeItem, f KnowledgeFilter) bool {
	if f.ProjectID != "" && item.ProjectID != f.ProjectID && !item.CrossProject {
		return false
	}
	if f.KnowledgeType != "" && item.KnowledgeType != f.KnowledgeType {
		return false
	}
	if f.SemanticType != "" && item.SemanticType != f.SemanticType {
		return false
	}
	if len(f.SemanticTypes) > 0 {
		found := false
		for _, st := range f.SemanticTypes {
			if item.SemanticType == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.IncludeInactive && !item.IsActive {
		return false
	}
	if f.MinImportance > 0 && item.Importance < f.MinImportance {
		return false
	}
	if f.MinConfidence > 0 && item.SemanticConfidence < f.MinConfidence {
		return false
	}
	if !f.UpdatedAfter.IsZero() && item.UpdatedAt.Before(f.UpdatedAfter) {
		return false
	}
	return true
}

// FulltextSearch matches tokens against title, content, and triggers via
// FTS5, scored by bm25.
func (s *SQLiteStore) FulltextSearch(ctx context.Context, query string, k int, f KnowledgeFilter) ([]ScoredItem, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}

	var args []any
	args = append(args, match)
	where := f.whereClause(&args)
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+knowledgeColumnsQualified+`, bm25(knowledge_fts) AS rank
		FROM knowledge_fts
		JOIN knowledge_items ki ON ki.rowid = knowledge_fts.rowid
		WHERE knowledge_fts MATCH ? AND `+where+`
		ORDER BY rank, ki.id ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	defer rows.Close()

	var scored []ScoredItem
	for rows.Next() {
		var (
			item                                 types.KnowledgeItem
			sessionID, supersededBy              sql.NullString
			embedding                            []byte
			triggers, sourceProjects, supersedes string
			crossProject, isActive               int
			createdAt, updatedAt                 int64
			knowledgeType, semanticType          string
			rank                                 float64
		)
		err := rows.Scan(&item.ID, &knowledgeType, &semanticType, &item.SemanticConfidence,
			&item.ClassificationMethod, &item.Title, &item.Content, &item.Category,
			&item.ProjectID, &sessionID, &item.Importance, &item.Quality,
			&item.UsageCount, &item.ValidationCount, &item.ContradictionCount,
			&embedding, &item.ProviderVersion, &triggers, &crossProject,
			&sourceProjects, &item.Version, &supersededBy, &supersedes,
			&isActive, &createdAt, &updatedAt, &rank)
		if err != nil {
			return nil, kerrors.Unavailable("storage", err)
		}
		item.KnowledgeType = types.KnowledgeType(knowledgeType)
		item.SemanticType = types.SemanticType(semanticType)
		item.SessionID = sessionID.String
		item.Embedding = blobToEmbedding(embedding)
		if triggers != "" {
			item.RetrievalTriggers = strings.Fields(triggers)
		}
		item.CrossProject = crossProject != 0
		item.SourceProjects = unmarshalStrings(sourceProjects)
		item.SupersededBy = supersededBy.String
		item.Supersedes = unmarshalStrings(supersedes)
		item.IsActive = isActive != 0
		item.CreatedAt = time.Unix(createdAt, 0).UTC()
		item.UpdatedAt = time.Unix(updatedAt, 0).UTC()

		// bm25 is smaller-is-better (negative for matches); flip to a
		// positive raw score for downstream normalization.
		score := -rank
		if score < 0 {
			score = 0
		}
		scored = append(scored, ScoredItem{Item: &item, Score: score})
	}
	return scored, rows.Err()
}

// ftsQuery tokenizes free text into a safe FTS5 OR-query.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + f + `"`
	}
	return strings.Join(quoted, " OR ")
}

// RecordItemUsage bumps the usage counter.
func (s *SQLiteStore) RecordItemUsage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_items SET usage_count = usage_count + 1, updated_at = ?
		WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return kerrors.Unavailable("storage", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kerrors.NotFound("knowledge item", id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
