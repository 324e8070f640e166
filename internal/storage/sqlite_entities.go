package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	kerrors "knowledge-engine/internal/errors"
	"knowledge-engine/internal/types"
	"knowledge-engine/internal/vectorindex"
)

// ---- patterns ----

const patternColumns = `id, pattern_type, title, content, project_id, session_id, semantic_type,
	confidence, success_rate, pattern_strength, validation_status, embedding,
	provider_version, adjacency, is_active, created_at, updated_at`

// PutPattern validates and writes a pattern.
func (s *SQLiteStore) PutPattern(ctx context.Context, p *types.Pattern) (string, error) {
	if err := p.Validate(s.embedDim); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid pattern: %v", err)
	}
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patterns (`+patternColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			content=excluded.content,
			confidence=excluded.confidence,
			success_rate=excluded.success_rate,
			pattern_strength=excluded.pattern_strength,
			validation_status=excluded.validation_status,
			embedding=excluded.embedding,
			adjacency=excluded.adjacency,
			is_active=excluded.is_active,
			updated_at=excluded.updated_at`,
		p.ID, string(p.PatternType), p.Title, marshalJSON(p.Content), p.ProjectID,
		nullStr(p.SessionID), string(p.SemanticType), p.Confidence, p.SuccessRate,
		p.PatternStrength, string(p.ValidationStatus), embeddingToBlob(p.Embedding),
		p.ProviderVersion, marshalJSON(p.Adjacency), boolToInt(p.IsActive),
		p.CreatedAt.Unix(), p.UpdatedAt.Unix())
	if err != nil {
		return "", kerrors.Unavailable("storage", err)
	}

	if len(p.Embedding) > 0 {
		meta := map[string]string{"project": p.ProjectID}
		if err := s.vectors.Upsert(ctx, vectorindex.CollectionPatterns, p.ID, p.Embedding, meta); err != nil {
			s.logger.Warn("failed to index pattern embedding", zap.String("id", p.ID), zap.Error(err))
			s.markVectorDegraded(ctx, err)
		}
	}
	return p.ID, nil
}

func scanPattern(row rowScanner) (*types.Pattern, error) {
	var (
		p                          types.Pattern
		sessionID                  sql.NullString
		content, adjacency         string
		patternType, semanticType  string
		validationStatus           string
		embedding                  []byte
		isActive                   int
		createdAt, updatedAt       int64
	)
	err := row.Scan(&p.ID, &patternType, &p.Title, &content, &p.ProjectID, &sessionID,
		&semanticType, &p.Confidence, &p.SuccessRate, &p.PatternStrength,
		&validationStatus, &embedding, &p.ProviderVersion, &adjacency,
		&isActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.PatternType = types.PatternType(patternType)
	p.SemanticType = types.SemanticType(semanticType)
	p.ValidationStatus = types.ValidationStatus(validationStatus)
	p.SessionID = sessionID.String
	p.Content = unmarshalMap(content)
	p.Adjacency = unmarshalStrings(adjacency)
	p.Embedding = blobToEmbedding(embedding)
	p.IsActive = isActive != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

// GetPattern returns the pattern or a not-found error.
func (s *SQLiteStore) GetPattern(ctx context.Context, id string) (*types.Pattern, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, kerrors.NotFound("pattern", id)
	}
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	return p, nil
}

// ListPatterns returns patterns matching the filter, newest first.
func (s *SQLiteStore) ListPatterns(ctx context.Context, f PatternFilter) ([]*types.Pattern, error) {
	var conds []string
	var args []any
	if f.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.PatternType != "" {
		conds = append(conds, "pattern_type = ?")
		args = append(args, string(f.PatternType))
	}
	if f.ValidationStatus != "" {
		conds = append(conds, "validation_status = ?")
		args = append(args, string(f.ValidationStatus))
	}
	if !f.IncludeInactive {
		conds = append(conds, "is_active = 1")
	}
	where := "1=1"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+` FROM patterns
		WHERE `+where+` ORDER BY updated_at DESC, id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	defer rows.Close()

	var out []*types.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, kerrors.Unavailable("storage", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PutRelationship writes a relationship edge and maintains both endpoints'
// denormalized adjacency lists in the same transaction. Duplicate
// (source, target, type) rows yield a conflict error.
func (s *SQLiteStore) PutRelationship(ctx context.Context, r *types.PatternRelationship) (string, error) {
	if err := r.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid relationship: %v", err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", kerrors.Unavailable("storage", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range []string{r.SourceID, r.TargetID} {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM patterns WHERE id = ?`, id).Scan(&exists); err == sql.ErrNoRows {
			return "", kerrors.NotFound("pattern", id)
		} else if err != nil {
			return "", kerrors.Unavailable("storage", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pattern_relationships
			(id, source_id, target_id, type, strength, confidence, evidence,
			 validation_count, contradiction_count, extraction_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SourceID, r.TargetID, string(r.Type), r.Strength, r.Confidence,
		marshalJSON(r.Evidence), r.ValidationCount, r.ContradictionCount,
		r.ExtractionMethod, r.CreatedAt.Unix(), r.UpdatedAt.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", kerrors.Conflict("relationship %s -[%s]-> %s already exists", r.SourceID, r.Type, r.TargetID)
		}
		return "", kerrors.Unavailable("storage", err)
	}

	for src, dst := range map[string]string{r.SourceID: r.TargetID, r.TargetID: r.SourceID} {
		if err := addAdjacency(ctx, tx, src, dst, now); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", kerrors.Unavailable("storage", err)
	}
	return r.ID, nil
}

func addAdjacency(ctx context.Context, tx *sql.Tx, patternID, neighborID string, now time.Time) error {
	var raw sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT adjacency FROM patterns WHERE id = ?`, patternID).Scan(&raw); err != nil {
		return kerrors.Unavailable("storage", err)
	}
	neighbors := unmarshalStrings(raw.String)
	for _, n := range neighbors {
		if n == neighborID {
			return nil
		}
	}
	neighbors = append(neighbors, neighborID)
	data, _ := json.Marshal(neighbors)
	if _, err := tx.ExecContext(ctx,
		`UPDATE patterns SET adjacency = ?, updated_at = ? WHERE id = ?`,
		string(data), now.Unix(), patternID); err != nil {
		return kerrors.Unavailable("storage", err)
	}
	return nil
}

// ListRelationships returns edges touching the given pattern.
func (s *SQLiteStore) ListRelationships(ctx context.Context, patternID string) ([]*types.PatternRelationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, type, strength, confidence, evidence,
		       validation_count, contradiction_count, extraction_method, created_at, updated_at
		FROM pattern_relationships
		WHERE source_id = ? OR target_id = ?
		ORDER BY created_at DESC`, patternID, patternID)
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	defer rows.Close()

	var out []*types.PatternRelationship
	for rows.Next() {
		var (
			r                    types.PatternRelationship
			relType, evidence    string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &relType, &r.Strength,
			&r.Confidence, &evidence, &r.ValidationCount, &r.ContradictionCount,
			&r.ExtractionMethod, &createdAt, &updatedAt); err != nil {
			return nil, kerrors.Unavailable("storage", err)
		}
		r.Type = types.RelationshipType(relType)
		r.Evidence = unmarshalMap(evidence)
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		r.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ---- strategic insights ----

// PutInsight validates and writes an insight.
func (s *SQLiteStore) PutInsight(ctx context.Context, i *types.StrategicInsight) (string, error) {
	if err := i.Validate(s.embedDim); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid insight: %v", err)
	}
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategic_insights
			(id, insight_type, title, content, applicable_project_types, confidence,
			 effectiveness, semantic_type, embedding, provider_version,
			 validation_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content,
			confidence=excluded.confidence,
			effectiveness=excluded.effectiveness,
			validation_status=excluded.validation_status,
			updated_at=excluded.updated_at`,
		i.ID, string(i.InsightType), i.Title, marshalJSON(i.Content),
		marshalJSON(i.ApplicableProjectTypes), i.Confidence, i.Effectiveness,
		string(i.SemanticType), embeddingToBlob(i.Embedding), i.ProviderVersion,
		string(i.ValidationStatus), i.CreatedAt.Unix(), i.UpdatedAt.Unix())
	if err != nil {
		return "", kerrors.Unavailable("storage", err)
	}

	if len(i.Embedding) > 0 {
		if err := s.vectors.Upsert(ctx, vectorindex.CollectionInsights, i.ID, i.Embedding, nil); err != nil {
			s.logger.Warn("failed to index insight embedding", zap.String("id", i.ID), zap.Error(err))
			s.markVectorDegraded(ctx, err)
		}
	}
	return i.ID, nil
}

// ListInsights returns insights applicable to the given project type,
// ordered by effectiveness.
func (s *SQLiteStore) ListInsights(ctx context.Context, projectType types.ProjectType, limit int) ([]*types.StrategicInsight, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, insight_type, title, content, applicable_project_types, confidence,
		       effectiveness, semantic_type, embedding, provider_version,
		       validation_status, created_at, updated_at
		FROM strategic_insights
		ORDER BY effectiveness DESC, updated_at DESC, id ASC`)
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	defer rows.Close()

	var out []*types.StrategicInsight
	for rows.Next() {
		var (
			ins                              types.StrategicInsight
			insightType, content, applicable string
			semanticType, status             string
			embedding                        []byte
			createdAt, updatedAt             int64
		)
		if err := rows.Scan(&ins.ID, &insightType, &ins.Title, &content, &applicable,
			&ins.Confidence, &ins.Effectiveness, &semanticType, &embedding,
			&ins.ProviderVersion, &status, &createdAt, &updatedAt); err != nil {
			return nil, kerrors.Unavailable("storage", err)
		}
		ins.InsightType = types.InsightType(insightType)
		ins.Content = unmarshalMap(content)
		for _, pt := range unmarshalStrings(applicable) {
			ins.ApplicableProjectTypes = append(ins.ApplicableProjectTypes, types.ProjectType(pt))
		}
		ins.SemanticType = types.SemanticType(semanticType)
		ins.Embedding = blobToEmbedding(embedding)
		ins.ValidationStatus = types.ValidationStatus(status)
		ins.CreatedAt = time.Unix(createdAt, 0).UTC()
		ins.UpdatedAt = time.Unix(updatedAt, 0).UTC()

		if !insightApplies(&ins, projectType) {
			continue
		}
		out = append(out, &ins)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

func insightApplies(i *types.StrategicInsight, projectType types.ProjectType) bool {
	if len(i.ApplicableProjectTypes) == 0 {
		return true
	}
	for _, pt := range i.ApplicableProjectTypes {
		if pt == projectType {
			return true
		}
	}
	return false
}

// ---- validations ----

// PutValidation writes the evidence row and updates the pattern's counters
// and status in one transaction. Never a partial write: an unknown pattern
// fails before anything is inserted.
func (s *SQLiteStore) PutValidation(ctx context.Context, v *types.PatternValidation) (string, error) {
	if err := v.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid validation: %v", err)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", kerrors.Unavailable("storage", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM patterns WHERE id = ?`, v.PatternID).Scan(&exists); err == sql.ErrNoRows {
		return "", kerrors.NotFound("pattern", v.PatternID)
	} else if err != nil {
		return "", kerrors.Unavailable("storage", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pattern_validations
			(id, pattern_id, type, result, evidence, validated_by, confidence,
			 session_id, project_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.PatternID, string(v.Type), boolToInt(v.Result), marshalJSON(v.Evidence),
		string(v.ValidatedBy), v.Confidence, nullStr(v.SessionID), nullStr(v.ProjectID),
		v.CreatedAt.Unix())
	if err != nil {
		return "", kerrors.Unavailable("storage", err)
	}

	// Positive evidence validates the pattern; negative evidence marks it
	// contradicted once contradictions outnumber confirmations.
	status := `CASE
		WHEN ? = 1 THEN 'validated'
		WHEN contradiction_count + 1 > validation_count THEN 'contradicted'
		ELSE validation_status
	END`
	if v.Result {
		_, err = tx.ExecContext(ctx, `
			UPDATE patterns
			SET validation_count = validation_count + 1,
			    validation_status = `+status+`,
			    updated_at = ?
			WHERE id = ?`, 1, time.Now().Unix(), v.PatternID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE patterns
			SET contradiction_count = contradiction_count + 1,
			    validation_status = `+status+`,
			    updated_at = ?
			WHERE id = ?`, 0, time.Now().Unix(), v.PatternID)
	}
	if err != nil {
		return "", kerrors.Unavailable("storage", err)
	}

	if err := tx.Commit(); err != nil {
		return "", kerrors.Unavailable("storage", err)
	}
	return v.ID, nil
}

// ---- usage ----

// PutUsage writes one usage record.
func (s *SQLiteStore) PutUsage(ctx context.Context, u *types.PatternUsage) (string, error) {
	if err := u.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid usage record: %v", err)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pattern_usage (id, subject_id, session_id, context, outcome, type, effectiveness, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.SubjectID, nullStr(u.SessionID), u.Context, string(u.Outcome),
		string(u.Type), u.Effectiveness, u.CreatedAt.Unix())
	if err != nil {
		return "", kerrors.Unavailable("storage", err)
	}
	return u.ID, nil
}

// ListUsageBySession returns a session's usage records, newest first.
func (s *SQLiteStore) ListUsageBySession(ctx context.Context, sessionID string, limit int) ([]*types.PatternUsage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, session_id, context, outcome, type, effectiveness, created_at
		FROM pattern_usage WHERE session_id = ?
		ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	defer rows.Close()

	var out []*types.PatternUsage
	for rows.Next() {
		var (
			u              types.PatternUsage
			sessID         sql.NullString
			outcome, utype string
			createdAt      int64
		)
		if err := rows.Scan(&u.ID, &u.SubjectID, &sessID, &u.Context, &outcome, &utype,
			&u.Effectiveness, &createdAt); err != nil {
			return nil, kerrors.Unavailable("storage", err)
		}
		u.SessionID = sessID.String
		u.Outcome = types.UsageOutcome(outcome)
		u.Type = types.UsageType(utype)
		u.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, &u)
	}
	return out, rows.Err()
}

// ---- sessions ----

const sessionColumns = `id, external_id, project_id, type, started_at, ended_at, user_context,
	total_interactions, successful_interactions, failed_interactions, avg_response_ms,
	pattern_extraction_enabled, semantic_classification_enabled, error_recovery_enabled,
	recent_user_turns`

// PutSession writes a session row.
func (s *SQLiteStore) PutSession(ctx context.Context, sess *types.Session) (string, error) {
	if err := sess.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid session: %v", err)
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

	var endedAt any
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ExternalID, sess.ProjectID, sess.Type, sess.StartedAt.Unix(),
		endedAt, marshalJSON(sess.UserContext), sess.TotalInteractions,
		sess.SuccessfulCount, sess.FailedCount, sess.AvgResponseMs,
		boolToInt(sess.PatternExtractionEnabled), boolToInt(sess.SemanticClassificationEnabled),
		boolToInt(sess.ErrorRecoveryEnabled), marshalJSON(sess.RecentUserTurns))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", kerrors.Conflict("session %s already exists in project %s", sess.ExternalID, sess.ProjectID)
		}
		return "", kerrors.Unavailable("storage", err)
	}
	return sess.ID, nil
}

func scanSession(row rowScanner) (*types.Session, error) {
	var (
		sess                         types.Session
		endedAt                      sql.NullInt64
		userContext, recentTurns     string
		patternExtr, semClass, errRec int
		startedAt                    int64
	)
	err := row.Scan(&sess.ID, &sess.ExternalID, &sess.ProjectID, &sess.Type, &startedAt,
		&endedAt, &userContext, &sess.TotalInteractions, &sess.SuccessfulCount,
		&sess.FailedCount, &sess.AvgResponseMs, &patternExtr, &semClass, &errRec,
		&recentTurns)
	if err != nil {
		return nil, err
	}
	sess.StartedAt = time.Unix(startedAt, 0).UTC()
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0).UTC()
		sess.EndedAt = &t
	}
	sess.UserContext = unmarshalMap(userContext)
	sess.RecentUserTurns = unmarshalStrings(recentTurns)
	sess.PatternExtractionEnabled = patternExtr != 0
	sess.SemanticClassificationEnabled = semClass != 0
	sess.ErrorRecoveryEnabled = errRec != 0
	return &sess, nil
}

// GetSession returns the session or a not-found error.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, kerrors.NotFound("session", id)
	}
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	return sess, nil
}

// GetSessionByExternalID resolves a client-supplied session id within a
// project.
func (s *SQLiteStore) GetSessionByExternalID(ctx context.Context, projectID, externalID string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE project_id = ? AND external_id = ?`,
		projectID, externalID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, kerrors.NotFound("session", externalID)
	}
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	return sess, nil
}

// UpdateSession rewrites mutable session fields.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sess *types.Session) error {
	if err := sess.Validate(); err != nil {
		return kerrors.Wrap(kerrors.KindValidation, err, "invalid session: %v", err)
	}
	var endedAt any
	if sess.EndedAt != nil {
		endedAt = sess.EndedAt.Unix()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			ended_at = ?,
			user_context = ?,
			total_interactions = ?,
			successful_interactions = ?,
			failed_interactions = ?,
			avg_response_ms = ?,
			recent_user_turns = ?
		WHERE id = ?`,
		endedAt, marshalJSON(sess.UserContext), sess.TotalInteractions,
		sess.SuccessfulCount, sess.FailedCount, sess.AvgResponseMs,
		marshalJSON(sess.RecentUserTurns), sess.ID)
	if err != nil {
		return kerrors.Unavailable("storage", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kerrors.NotFound("session", sess.ID)
	}
	return nil
}

// ---- projects ----

// PutProject writes a project row; duplicate names conflict.
func (s *SQLiteStore) PutProject(ctx context.Context, p *types.Project) (string, error) {
	if err := p.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid project: %v", err)
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, display_name, type, settings, active, schema_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name=excluded.display_name,
			settings=excluded.settings,
			active=excluded.active,
			updated_at=excluded.updated_at`,
		p.ID, p.Name, p.DisplayName, string(p.Type), marshalJSON(p.Settings),
		boolToInt(p.Active), p.SchemaVersion, p.CreatedAt.Unix(), p.UpdatedAt.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return "", kerrors.Conflict("project name %q already exists", p.Name)
		}
		return "", kerrors.Unavailable("storage", err)
	}
	return p.ID, nil
}

func scanProject(row rowScanner) (*types.Project, error) {
	var (
		p                    types.Project
		projType, settings   string
		active               int
		createdAt, updatedAt int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &projType, &settings, &active,
		&p.SchemaVersion, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Type = types.ProjectType(projType)
	p.Settings = unmarshalMap(settings)
	p.Active = active != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}

// GetProject returns the project or a not-found error.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, type, settings, active, schema_version, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, kerrors.NotFound("project", id)
	}
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	return p, nil
}

// GetProjectByName resolves a project by its unique name.
func (s *SQLiteStore) GetProjectByName(ctx context.Context, name string) (*types.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, type, settings, active, schema_version, created_at, updated_at
		FROM projects WHERE name = ?`, name)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, kerrors.NotFound("project", name)
	}
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	return p, nil
}

// ---- health ----

// PutHealth writes a component health observation.
func (s *SQLiteStore) PutHealth(ctx context.Context, h *types.HealthLog) (string, error) {
	if err := h.Validate(); err != nil {
		return "", kerrors.Wrap(kerrors.KindValidation, err, "invalid health log: %v", err)
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_logs (id, component, status, metrics, error_details, recovery_actions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, string(h.Component), string(h.Status), marshalJSON(h.Metrics),
		h.ErrorDetails, marshalJSON(h.RecoveryActions), h.CreatedAt.Unix())
	if err != nil {
		return "", kerrors.Unavailable("storage", err)
	}
	return h.ID, nil
}

// PutToolRegistration upserts a tool registry row.
func (s *SQLiteStore) PutToolRegistration(ctx context.Context, t *types.ToolRegistration) error {
	if t.Name == "" {
		return kerrors.Validation("tool name is required")
	}
	if t.HealthStatus == "" {
		t.HealthStatus = types.HealthHealthy
	}
	t.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_registry (name, description, input_schema, health_status, avg_response_ms, success_rate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description=excluded.description,
			input_schema=excluded.input_schema,
			health_status=excluded.health_status,
			avg_response_ms=excluded.avg_response_ms,
			success_rate=excluded.success_rate,
			updated_at=excluded.updated_at`,
		t.Name, t.Description, marshalJSON(t.InputSchema), string(t.HealthStatus),
		t.AvgResponseMs, t.SuccessRate, t.UpdatedAt.Unix())
	if err != nil {
		return kerrors.Unavailable("storage", err)
	}
	return nil
}

// ---- admin ----

// Stats summarizes stored content, optionally scoped to one project.
func (s *SQLiteStore) Stats(ctx context.Context, projectID string) (*Stats, error) {
	st := &Stats{
		PatternsByType:    map[types.PatternType]int{},
		DegradedVectorOps: s.vectorDegraded.Load(),
	}

	scope := ""
	var args []any
	if projectID != "" {
		scope = " WHERE project_id = ?"
		args = append(args, projectID)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_items`+scope, args...).Scan(&st.KnowledgeCount); err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`+scope, args...).Scan(&st.SessionCount); err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM strategic_insights`).Scan(&st.InsightCount); err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_type, COUNT(*), AVG(confidence), AVG(success_rate)
		FROM patterns`+scope+` GROUP BY pattern_type`, args...)
	if err != nil {
		return nil, kerrors.Unavailable("storage", err)
	}
	defer rows.Close()

	var confSum, rateSum float64
	var groups int
	for rows.Next() {
		var pt string
		var count int
		var avgConf, avgRate float64
		if err := rows.Scan(&pt, &count, &avgConf, &avgRate); err != nil {
			return nil, kerrors.Unavailable("storage", err)
		}
		st.PatternsByType[types.PatternType(pt)] = count
		st.PatternCount += count
		confSum += avgConf
		rateSum += avgRate
		groups++
	}
	if groups > 0 {
		st.AvgConfidence = confSum / float64(groups)
		st.AvgSuccessRate = rateSum / float64(groups)
	}
	return st, rows.Err()
}

// MigrateTo applies schema migrations up to the given version. Idempotent.
func (s *SQLiteStore) MigrateTo(ctx context.Context, version int) error {
	if err := migrateTo(ctx, s.db, version, "cli"); err != nil {
		return kerrors.Wrap(kerrors.KindDependencyUnavailable, err, "migration failed: %v", err)
	}
	return nil
}

// Reindex rebuilds the vector collections from stored rows and repairs the
// FTS shadow tables, then clears the degraded flag.
func (s *SQLiteStore) Reindex(ctx context.Context) error {
	for _, c := range []string{vectorindex.CollectionKnowledge, vectorindex.CollectionPatterns, vectorindex.CollectionInsights} {
		if err := s.vectors.Reset(c); err != nil {
			return kerrors.Wrap(kerrors.KindDependencyUnavailable, err, "failed to reset collection %s", c)
		}
	}

	items, err := s.ListKnowledge(ctx, KnowledgeFilter{IncludeInactive: true, Limit: 1 << 20})
	if err != nil {
		return err
	}
	for _, item := range items {
		if len(item.Embedding) == 0 {
			continue
		}
		meta := map[string]string{"project": item.ProjectID}
		if err := s.vectors.Upsert(ctx, vectorindex.CollectionKnowledge, item.ID, item.Embedding, meta); err != nil {
			return kerrors.Wrap(kerrors.KindDependencyUnavailable, err, "failed to reindex item %s", item.ID)
		}
	}

	patterns, err := s.ListPatterns(ctx, PatternFilter{IncludeInactive: true, Limit: 1 << 20})
	if err != nil {
		return err
	}
	for _, p := range patterns {
		if len(p.Embedding) == 0 {
			continue
		}
		meta := map[string]string{"project": p.ProjectID}
		if err := s.vectors.Upsert(ctx, vectorindex.CollectionPatterns, p.ID, p.Embedding, meta); err != nil {
			return kerrors.Wrap(kerrors.KindDependencyUnavailable, err, "failed to reindex pattern %s", p.ID)
		}
	}

	for _, fts := range []string{"knowledge_fts", "patterns_fts", "insights_fts"} {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO `+fts+`(`+fts+`) VALUES('rebuild')`); err != nil {
			return kerrors.Wrap(kerrors.KindDependencyUnavailable, err, "failed to rebuild %s", fts)
		}
	}

	s.vectorDegraded.Store(false)
	s.logger.Info("reindex complete",
		zap.Int("knowledge", len(items)), zap.Int("patterns", len(patterns)))
	return nil
}
