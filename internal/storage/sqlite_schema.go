// Package storage: SQLite schema definitions and migrations.
package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// LatestSchemaVersion is the newest known migration.
const LatestSchemaVersion = 3

// Migration is one append-only schema change. Historical rows are never
// rewritten; later versions only add.
type Migration struct {
	Version     int
	Description string
	Script      string
	Rollback    string
}

// Checksum returns the sha256 of the migration script.
func (m Migration) Checksum() string {
	h := sha256.Sum256([]byte(m.Script))
	return hex.EncodeToString(h[:])
}

const migrationCoreTables = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    settings TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    schema_version INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    external_id TEXT NOT NULL,
    project_id TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'interactive',
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    user_context TEXT,
    total_interactions INTEGER NOT NULL DEFAULT 0,
    successful_interactions INTEGER NOT NULL DEFAULT 0,
    failed_interactions INTEGER NOT NULL DEFAULT 0,
    avg_response_ms REAL NOT NULL DEFAULT 0,
    pattern_extraction_enabled INTEGER NOT NULL DEFAULT 1,
    semantic_classification_enabled INTEGER NOT NULL DEFAULT 1,
    error_recovery_enabled INTEGER NOT NULL DEFAULT 1,
    recent_user_turns TEXT,
    UNIQUE (project_id, external_id),
    FOREIGN KEY (project_id) REFERENCES projects(id)
);

CREATE TABLE IF NOT EXISTS knowledge_items (
    id TEXT PRIMARY KEY,
    knowledge_type TEXT NOT NULL,
    semantic_type TEXT NOT NULL DEFAULT '',
    semantic_confidence REAL NOT NULL DEFAULT 0,
    classification_method TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    project_id TEXT NOT NULL,
    session_id TEXT,
    importance REAL NOT NULL DEFAULT 0,
    quality REAL NOT NULL DEFAULT 0,
    usage_count INTEGER NOT NULL DEFAULT 0,
    validation_count INTEGER NOT NULL DEFAULT 0,
    contradiction_count INTEGER NOT NULL DEFAULT 0,
    embedding BLOB,
    provider_version TEXT NOT NULL DEFAULT '',
    triggers TEXT NOT NULL DEFAULT '',
    cross_project INTEGER NOT NULL DEFAULT 0,
    source_projects TEXT,
    version INTEGER NOT NULL DEFAULT 1,
    superseded_by TEXT,
    supersedes TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (project_id) REFERENCES projects(id)
);

CREATE TABLE IF NOT EXISTS patterns (
    id TEXT PRIMARY KEY,
    pattern_type TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    project_id TEXT NOT NULL DEFAULT '',
    session_id TEXT,
    semantic_type TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL DEFAULT 0,
    success_rate REAL NOT NULL DEFAULT 0,
    pattern_strength REAL NOT NULL DEFAULT 0,
    validation_status TEXT NOT NULL DEFAULT 'pending',
    validation_count INTEGER NOT NULL DEFAULT 0,
    contradiction_count INTEGER NOT NULL DEFAULT 0,
    embedding BLOB,
    provider_version TEXT NOT NULL DEFAULT '',
    adjacency TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pattern_relationships (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    type TEXT NOT NULL,
    strength REAL NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    evidence TEXT,
    validation_count INTEGER NOT NULL DEFAULT 0,
    contradiction_count INTEGER NOT NULL DEFAULT 0,
    extraction_method TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (source_id, target_id, type),
    CHECK (source_id <> target_id)
);

CREATE TABLE IF NOT EXISTS strategic_insights (
    id TEXT PRIMARY KEY,
    insight_type TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    applicable_project_types TEXT,
    confidence REAL NOT NULL DEFAULT 0,
    effectiveness REAL NOT NULL DEFAULT 0,
    semantic_type TEXT NOT NULL DEFAULT '',
    embedding BLOB,
    provider_version TEXT NOT NULL DEFAULT '',
    validation_status TEXT NOT NULL DEFAULT 'pending',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pattern_validations (
    id TEXT PRIMARY KEY,
    pattern_id TEXT NOT NULL,
    type TEXT NOT NULL,
    result INTEGER NOT NULL,
    evidence TEXT,
    validated_by TEXT NOT NULL DEFAULT 'system',
    confidence REAL NOT NULL DEFAULT 0,
    session_id TEXT,
    project_id TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (pattern_id) REFERENCES patterns(id)
);

CREATE TABLE IF NOT EXISTS pattern_usage (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    session_id TEXT,
    context TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    effectiveness REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS health_logs (
    id TEXT PRIMARY KEY,
    component TEXT NOT NULL,
    status TEXT NOT NULL,
    metrics TEXT,
    error_details TEXT NOT NULL DEFAULT '',
    recovery_actions TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS schema_versions (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at INTEGER NOT NULL,
    applied_by TEXT NOT NULL,
    migration_script TEXT NOT NULL,
    rollback_script TEXT NOT NULL DEFAULT '',
    checksum TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_project ON knowledge_items(project_id);
CREATE INDEX IF NOT EXISTS idx_knowledge_semantic ON knowledge_items(semantic_type);
CREATE INDEX IF NOT EXISTS idx_knowledge_active ON knowledge_items(is_active);
CREATE INDEX IF NOT EXISTS idx_knowledge_updated ON knowledge_items(updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_patterns_status ON patterns(validation_status);
CREATE INDEX IF NOT EXISTS idx_patterns_project ON patterns(project_id);
CREATE INDEX IF NOT EXISTS idx_validations_pattern ON pattern_validations(pattern_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_usage_subject ON pattern_usage(subject_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_usage_session ON pattern_usage(session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
`

const migrationFullText = `
CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
    title,
    content,
    triggers,
    content='knowledge_items',
    content_rowid='rowid',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS knowledge_fts_insert AFTER INSERT ON knowledge_items BEGIN
    INSERT INTO knowledge_fts(rowid, title, content, triggers)
    VALUES (new.rowid, new.title, new.content, new.triggers);
END;

CREATE TRIGGER IF NOT EXISTS knowledge_fts_update AFTER UPDATE ON knowledge_items BEGIN
    INSERT INTO knowledge_fts(knowledge_fts, rowid, title, content, triggers)
    VALUES ('delete', old.rowid, old.title, old.content, old.triggers);
    INSERT INTO knowledge_fts(rowid, title, content, triggers)
    VALUES (new.rowid, new.title, new.content, new.triggers);
END;

CREATE TRIGGER IF NOT EXISTS knowledge_fts_delete AFTER DELETE ON knowledge_items BEGIN
    INSERT INTO knowledge_fts(knowledge_fts, rowid, title, content, triggers)
    VALUES ('delete', old.rowid, old.title, old.content, old.triggers);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS patterns_fts USING fts5(
    title,
    content,
    content='patterns',
    content_rowid='rowid',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS patterns_fts_insert AFTER INSERT ON patterns BEGIN
    INSERT INTO patterns_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
END;

CREATE TRIGGER IF NOT EXISTS patterns_fts_update AFTER UPDATE ON patterns BEGIN
    INSERT INTO patterns_fts(patterns_fts, rowid, title, content)
    VALUES ('delete', old.rowid, old.title, old.content);
    INSERT INTO patterns_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
END;

CREATE TRIGGER IF NOT EXISTS patterns_fts_delete AFTER DELETE ON patterns BEGIN
    INSERT INTO patterns_fts(patterns_fts, rowid, title, content)
    VALUES ('delete', old.rowid, old.title, old.content);
END;

CREATE VIRTUAL TABLE IF NOT EXISTS insights_fts USING fts5(
    title,
    content,
    content='strategic_insights',
    content_rowid='rowid',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS insights_fts_insert AFTER INSERT ON strategic_insights BEGIN
    INSERT INTO insights_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
END;

CREATE TRIGGER IF NOT EXISTS insights_fts_update AFTER UPDATE ON strategic_insights BEGIN
    INSERT INTO insights_fts(insights_fts, rowid, title, content)
    VALUES ('delete', old.rowid, old.title, old.content);
    INSERT INTO insights_fts(rowid, title, content) VALUES (new.rowid, new.title, new.content);
END;

CREATE TRIGGER IF NOT EXISTS insights_fts_delete AFTER DELETE ON strategic_insights BEGIN
    INSERT INTO insights_fts(insights_fts, rowid, title, content)
    VALUES ('delete', old.rowid, old.title, old.content);
END;
`

const migrationToolRegistry = `
CREATE TABLE IF NOT EXISTS tool_registry (
    name TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    input_schema TEXT,
    health_status TEXT NOT NULL DEFAULT 'healthy',
    avg_response_ms REAL NOT NULL DEFAULT 0,
    success_rate REAL NOT NULL DEFAULT 1,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_health_component ON health_logs(component, created_at DESC);
`

// Migrations is the append-only migration registry, ordered by version.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "core tables and secondary indexes",
		Script:      migrationCoreTables,
	},
	{
		Version:     2,
		Description: "full-text indexes and sync triggers",
		Script:      migrationFullText,
	},
	{
		Version:     3,
		Description: "tool registry and health component index",
		Script:      migrationToolRegistry,
	},
}

// configureSQLite sets pragmas for performance and safety.
func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// appliedVersions returns the set of migrations recorded in schema_versions.
func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	applied := map[int]bool{}

	// schema_versions itself is created by migration 1; absence means a
	// fresh database.
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='schema_versions'`).Scan(&name)
	if err == sql.ErrNoRows {
		return applied, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_versions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// migrateTo applies all unapplied migrations with version <= target, each in
// its own transaction together with its schema_versions row.
func migrateTo(ctx context.Context, db *sql.DB, target int, appliedBy string) error {
	if target <= 0 || target > LatestSchemaVersion {
		return fmt.Errorf("unknown schema version %d (latest is %d)", target, LatestSchemaVersion)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read schema versions: %w", err)
	}

	for _, m := range Migrations {
		if m.Version > target || applied[m.Version] {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.Script); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_versions (version, description, applied_at, applied_by, migration_script, rollback_script, checksum)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.Version, m.Description, time.Now().Unix(), appliedBy, m.Script, m.Rollback, m.Checksum())
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
