package storage

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	kerrors "knowledge-engine/internal/errors"
	"knowledge-engine/internal/types"
)

// MemoryStore implements Store entirely in memory. It backs tests and
// serves as the graceful fallback when SQLite cannot be opened. Vector
// search is brute-force cosine; lexical search is token overlap.
type MemoryStore struct {
	mu sync.RWMutex

	embedDim        int
	semanticMapping map[types.KnowledgeType]types.SemanticType

	projects      map[string]*types.Project
	sessions      map[string]*types.Session
	knowledge     map[string]*types.KnowledgeItem
	patterns      map[string]*types.Pattern
	relationships map[string]*types.PatternRelationship
	relKeys       map[string]bool // source|target|type uniqueness
	insights      map[string]*types.StrategicInsight
	validations   map[string]*types.PatternValidation
	usage         map[string]*types.PatternUsage
	health        map[string]*types.HealthLog
	tools         map[string]*types.ToolRegistration

	migratedTo int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(embedDim int) *MemoryStore {
	if embedDim <= 0 {
		embedDim = types.DefaultEmbeddingDim
	}
	return &MemoryStore{
		embedDim:        embedDim,
		semanticMapping: types.DefaultSemanticMapping(),
		projects:        make(map[string]*types.Project),
		sessions:        make(map[string]*types.Session),
		knowledge:       make(map[string]*types.KnowledgeItem),
		patterns:        make(map[string]*types.Pattern),
		relationships:   make(map[string]*types.PatternRelationship),
		relKeys:         make(map[string]bool),
		insights:        make(map[string]*types.StrategicInsight),
		validations:     make(map[string]*types.PatternValidation),
		usage:           make(map[string]*types.PatternUsage),
		health:          make(map[string]*types.HealthLog),
		tools:           make(map[string]*types.ToolRegistration),
		migratedTo:      LatestSchemaVersion,
	}
}

func copyItem(item *types.KnowledgeItem) *types.KnowledgeItem {
	cp := *item
	cp.Embedding = append([]float32(nil), item.Embedding...)
	cp.RetrievalTriggers = append([]string(nil), item.RetrievalTriggers...)
	cp.Supersedes = append([]string(nil), item.Supersedes...)
	cp.SourceProjects = append([]string(nil), item.SourceProjects...)
	return &cp
}

// ---- knowledge ----

// PutKnowledge validates and stores an item, applying supersession links.
func (m *MemoryStore) PutKnowledge(ctx context.Context, item *types.KnowledgeItem) (string, error) {
	if err := item.Validate(m.embedDim, m.semanticMapping); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid knowledge item: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

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

	// All-or-nothing: verify superseded rows exist before mutating anything.
	for _, oldID := range item.Supersedes {
		if _, ok := m.knowledge[oldID]; !ok {
			return "", kerrors.NotFound("superseded knowledge item", oldID)
		}
	}
	for _, oldID := range item.Supersedes {
		old := m.knowledge[oldID]
		old.SupersededBy = item.ID
		old.IsActive = false
		old.UpdatedAt = now
	}

	m.knowledge[item.ID] = copyItem(item)
	return item.ID, nil
}

// GetKnowledge returns a copy of the item.
func (m *MemoryStore) GetKnowledge(ctx context.Context, id string) (*types.KnowledgeItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.knowledge[id]
	if !ok {
		return nil, kerrors.NotFound("knowledge item", id)
	}
	return copyItem(item), nil
}

// ListKnowledge returns items matching the filter.
func (m *MemoryStore) ListKnowledge(ctx context.Context, f KnowledgeFilter) ([]*types.KnowledgeItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.KnowledgeItem
	for _, item := range m.knowledge {
		if matchesFilter(item, f) {
			out = append(out, copyItem(item))
		}
	}
	switch f.OrderBy {
	case "importance":
		sort.Slice(out, func(i, j int) bool {
			if out[i].Importance != out[j].Importance {
				return out[i].Importance > out[j].Importance
			}
			return out[i].ID < out[j].ID
		})
	case "quality":
		sort.Slice(out, func(i, j int) bool {
			if out[i].Quality != out[j].Quality {
				return out[i].Quality > out[j].Quality
			}
			return out[i].ID < out[j].ID
		})
	default:
		sort.Slice(out, func(i, j int) bool {
			if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
				return out[i].UpdatedAt.After(out[j].UpdatedAt)
			}
			return out[i].ID < out[j].ID
		})
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// VectorSearch brute-forces cosine similarity across stored embeddings.
func (m *MemoryStore) VectorSearch(ctx context.Context, embedding []float32, k int, f KnowledgeFilter, threshold float64) ([]ScoredItem, error) {
	if len(embedding) != m.embedDim {
		return nil, kerrors.Validation("query embedding dimension mismatch: got %d, want %d", len(embedding), m.embedDim)
	}
	if k <= 0 {
		k = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scored []ScoredItem
	for _, item := range m.knowledge {
		if len(item.Embedding) == 0 || !matchesFilter(item, f) {
			continue
		}
		sim := cosineSimilarity(embedding, item.Embedding)
		if sim < threshold {
			continue
		}
		scored = append(scored, ScoredItem{Item: copyItem(item), Score: sim})
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

func tokenize(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		out[f] = true
	}
	return out
}

// FulltextSearch scores items by query-token overlap against title, content,
// and merged triggers.
func (m *MemoryStore) FulltextSearch(ctx context.Context, query string, k int, f KnowledgeFilter) ([]ScoredItem, error) {
	qtokens := tokenize(query)
	if len(qtokens) == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scored []ScoredItem
	for _, item := range m.knowledge {
		if !matchesFilter(item, f) {
			continue
		}
		doc := tokenize(item.Title + " " + item.Content + " " + strings.Join(item.RetrievalTriggers, " "))
		matches := 0
		for t := range qtokens {
			if doc[t] {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		score := float64(matches) / float64(len(qtokens))
		scored = append(scored, ScoredItem{Item: copyItem(item), Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Item.ID < scored[j].Item.ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// RecordItemUsage bumps the usage counter.
func (m *MemoryStore) RecordItemUsage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.knowledge[id]
	if !ok {
		return kerrors.NotFound("knowledge item", id)
	}
	item.UsageCount++
	return nil
}

// ---- patterns ----

// PutPattern validates and stores a pattern.
func (m *MemoryStore) PutPattern(ctx context.Context, p *types.Pattern) (string, error) {
	if err := p.Validate(m.embedDim); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid pattern: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.ValidationStatus == "" {
		p.ValidationStatus = types.StatusPending
	}
	cp := *p
	m.patterns[p.ID] = &cp
	return p.ID, nil
}

// GetPattern returns a copy of the pattern.
func (m *MemoryStore) GetPattern(ctx context.Context, id string) (*types.Pattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patterns[id]
	if !ok {
		return nil, kerrors.NotFound("pattern", id)
	}
	cp := *p
	return &cp, nil
}

// ListPatterns returns patterns matching the filter, newest first.
func (m *MemoryStore) ListPatterns(ctx context.Context, f PatternFilter) ([]*types.Pattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Pattern
	for _, p := range m.patterns {
		if f.ProjectID != "" && p.ProjectID != f.ProjectID {
			continue
		}
		if f.PatternType != "" && p.PatternType != f.PatternType {
			continue
		}
		if f.ValidationStatus != "" && p.ValidationStatus != f.ValidationStatus {
			continue
		}
		if !f.IncludeInactive && !p.IsActive {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// PutRelationship stores an edge, enforcing uniqueness and maintaining the
// endpoints' adjacency lists.
func (m *MemoryStore) PutRelationship(ctx context.Context, r *types.PatternRelationship) (string, error) {
	if err := r.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid relationship: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.patterns[r.SourceID]
	if !ok {
		return "", kerrors.NotFound("pattern", r.SourceID)
	}
	dst, ok := m.patterns[r.TargetID]
	if !ok {
		return "", kerrors.NotFound("pattern", r.TargetID)
	}

	key := r.SourceID + "|" + r.TargetID + "|" + string(r.Type)
	if m.relKeys[key] {
		return "", kerrors.Conflict("relationship %s -[%s]-> %s already exists", r.SourceID, r.Type, r.TargetID)
	}

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	cp := *r
	m.relationships[r.ID] = &cp
	m.relKeys[key] = true

	appendUnique := func(p *types.Pattern, id string) {
		for _, n := range p.Adjacency {
			if n == id {
				return
			}
		}
		p.Adjacency = append(p.Adjacency, id)
	}
	appendUnique(src, r.TargetID)
	appendUnique(dst, r.SourceID)
	return r.ID, nil
}

// ListRelationships returns edges touching the given pattern.
func (m *MemoryStore) ListRelationships(ctx context.Context, patternID string) ([]*types.PatternRelationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.PatternRelationship
	for _, r := range m.relationships {
		if r.SourceID == patternID || r.TargetID == patternID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- insights ----

// PutInsight validates and stores an insight.
func (m *MemoryStore) PutInsight(ctx context.Context, i *types.StrategicInsight) (string, error) {
	if err := i.Validate(m.embedDim); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid insight: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now
	if i.ValidationStatus == "" {
		i.ValidationStatus = types.StatusPending
	}
	cp := *i
	m.insights[i.ID] = &cp
	return i.ID, nil
}

// ListInsights returns insights applicable to the project type by
// effectiveness descending.
func (m *MemoryStore) ListInsights(ctx context.Context, projectType types.ProjectType, limit int) ([]*types.StrategicInsight, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.StrategicInsight
	for _, i := range m.insights {
		if insightApplies(i, projectType) {
			cp := *i
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Effectiveness != out[j].Effectiveness {
			return out[i].Effectiveness > out[j].Effectiveness
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- validations ----

// PutValidation stores evidence and updates the pattern's status atomically
// under the store lock. The in-memory backend keeps no validation counters.
func (m *MemoryStore) PutValidation(ctx context.Context, v *types.PatternValidation) (string, error) {
	if err := v.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid validation: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.patterns[v.PatternID]
	if !ok {
		return "", kerrors.NotFound("pattern", v.PatternID)
	}

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if v.ValidatedBy == "" {
		v.ValidatedBy = types.ValidatorSystem
	}
	cp := *v
	m.validations[v.ID] = &cp

	if v.Result {
		p.ValidationStatus = types.StatusValidated
	} else if p.ValidationStatus != types.StatusValidated {
		p.ValidationStatus = types.StatusContradicted
	}
	p.UpdatedAt = time.Now().UTC()
	return v.ID, nil
}

// ---- usage ----

// PutUsage stores one usage record.
func (m *MemoryStore) PutUsage(ctx context.Context, u *types.PatternUsage) (string, error) {
	if err := u.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid usage record: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	m.usage[u.ID] = &cp
	return u.ID, nil
}

// ListUsageBySession returns a session's usage records, newest first.
func (m *MemoryStore) ListUsageBySession(ctx context.Context, sessionID string, limit int) ([]*types.PatternUsage, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.PatternUsage
	for _, u := range m.usage {
		if u.SessionID == sessionID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- sessions ----

// PutSession stores a session; duplicate external ids per project conflict.
func (m *MemoryStore) PutSession(ctx context.Context, sess *types.Session) (string, error) {
	if err := sess.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid session: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.sessions {
		if existing.ProjectID == sess.ProjectID && existing.ExternalID == sess.ExternalID {
			return "", kerrors.Conflict("session %s already exists in project %s", sess.ExternalID, sess.ProjectID)
		}
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	if sess.Type == "" {
		sess.Type = "interactive"
	}
	cp := *sess
	m.sessions[sess.ID] = &cp
	return sess.ID, nil
}

// GetSession returns a copy of the session.
func (m *MemoryStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, kerrors.NotFound("session", id)
	}
	cp := *sess
	cp.RecentUserTurns = append([]string(nil), sess.RecentUserTurns...)
	return &cp, nil
}

// GetSessionByExternalID resolves a client-supplied session id.
func (m *MemoryStore) GetSessionByExternalID(ctx context.Context, projectID, externalID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		if sess.ProjectID == projectID && sess.ExternalID == externalID {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, kerrors.NotFound("session", externalID)
}

// UpdateSession rewrites mutable session fields.
func (m *MemoryStore) UpdateSession(ctx context.Context, sess *types.Session) error {
	if err := sess.Validate(); err != nil {
		return kerrors.Wrap(kerrors.KindValidation, err, "invalid session: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sess.ID]; !ok {
		return kerrors.NotFound("session", sess.ID)
	}
	cp := *sess
	cp.RecentUserTurns = append([]string(nil), sess.RecentUserTurns...)
	m.sessions[sess.ID] = &cp
	return nil
}

// ---- projects ----

// PutProject stores a project; duplicate names conflict.
func (m *MemoryStore) PutProject(ctx context.Context, p *types.Project) (string, error) {
	if err := p.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid project: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.projects {
		if existing.Name == p.Name && existing.ID != p.ID {
			return "", kerrors.Conflict("project name %q already exists", p.Name)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.SchemaVersion == 0 {
		p.SchemaVersion = LatestSchemaVersion
	}
	cp := *p
	m.projects[p.ID] = &cp
	return p.ID, nil
}

// GetProject returns a copy of the project.
func (m *MemoryStore) GetProject(ctx context.Context, id string) (*types.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, kerrors.NotFound("project", id)
	}
	cp := *p
	return &cp, nil
}

// GetProjectByName resolves a project by name.
func (m *MemoryStore) GetProjectByName(ctx context.Context, name string) (*types.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.projects {
		if p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, kerrors.NotFound("project", name)
}

// ---- health ----

// PutHealth stores a health observation.
func (m *MemoryStore) PutHealth(ctx context.Context, h *types.HealthLog) (string, error) {
	if err := h.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid health log: %v", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	cp := *h
	m.health[h.ID] = &cp
	return h.ID, nil
}

// HealthLogs returns all recorded health observations (test helper).
func (m *MemoryStore) HealthLogs() []*types.HealthLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.HealthLog, 0, len(m.health))
	for _, h := range m.health {
		cp := *h
		out = append(out, &cp)
	}
	return out
}

// UsageRecords returns all usage rows (test helper).
func (m *MemoryStore) UsageRecords() []*types.PatternUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.PatternUsage, 0, len(m.usage))
	for _, u := range m.usage {
		cp := *u
		out = append(out, &cp)
	}
	return out
}

// PutToolRegistration upserts a tool registry row.
func (m *MemoryStore) PutToolRegistration(ctx context.Context, t *types.ToolRegistration) error {
	if t.Name == "" {
		return kerrors.Validation("tool name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.HealthStatus == "" {
		t.HealthStatus = types.HealthHealthy
	}
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	m.tools[t.Name] = &cp
	return nil
}

// ---- admin ----

// Stats summarizes stored content.
func (m *MemoryStore) Stats(ctx context.Context, projectID string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := &Stats{PatternsByType: map[types.PatternType]int{}}
	for _, item := range m.knowledge {
		if projectID == "" || item.ProjectID == projectID {
			st.KnowledgeCount++
		}
	}
	for _, sess := range m.sessions {
		if projectID == "" || sess.ProjectID == projectID {
			st.SessionCount++
		}
	}
	st.InsightCount = len(m.insights)

	var confSum, rateSum float64
	for _, p := range m.patterns {
		if projectID != "" && p.ProjectID != projectID {
			continue
		}
		st.PatternsByType[p.PatternType]++
		st.PatternCount++
		confSum += p.Confidence
		rateSum += p.SuccessRate
	}
	if st.PatternCount > 0 {
		st.AvgConfidence = confSum / float64(st.PatternCount)
		st.AvgSuccessRate = rateSum / float64(st.PatternCount)
	}
	return st, nil
}

// MigrateTo records the target version; the in-memory schema needs no DDL.
func (m *MemoryStore) MigrateTo(ctx context.Context, version int) error {
	if version <= 0 || version > LatestSchemaVersion {
		return kerrors.Validation("unknown schema version %d (latest is %d)", version, LatestSchemaVersion)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if version > m.migratedTo {
		m.migratedTo = version
	}
	return nil
}

// Reindex is a no-op for the brute-force backend.
func (m *MemoryStore) Reindex(ctx context.Context) error { return nil }
