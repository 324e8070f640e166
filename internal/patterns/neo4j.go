package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	neo4jconfig "github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"go.uber.org/zap"

	"knowledge-engine/internal/types"
)

// Mirror replicates pattern relationships into Neo4j for external graph
// tooling. It is optional (enabled by KP_NEO4J_URI) and strictly
// best-effort: mirror failures are logged and never fail the write path.
type Mirror struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// MirrorConfig holds Neo4j connection settings.
type MirrorConfig struct {
	URI      string
	Username string
	Password string
	Database string
	Timeout  time.Duration
}

// NewMirror connects to Neo4j and verifies connectivity.
func NewMirror(cfg MirrorConfig, logger *zap.Logger) (*Mirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4jconfig.Config) {
			c.MaxConnectionPoolSize = 10
			c.ConnectionAcquisitionTimeout = timeout
			c.SocketConnectTimeout = timeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	return &Mirror{driver: driver, database: database, logger: logger.Named("neo4j")}, nil
}

// MirrorRelationship merges both pattern nodes and the typed edge.
func (m *Mirror) MirrorRelationship(ctx context.Context, r *types.PatternRelationship) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: m.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer func() { _ = session.Close(ctx) }()

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (s:Pattern {id: $source})
			MERGE (t:Pattern {id: $target})
			MERGE (s)-[rel:RELATES {type: $type}]->(t)
			SET rel.strength = $strength, rel.confidence = $confidence`,
			map[string]any{
				"source":     r.SourceID,
				"target":     r.TargetID,
				"type":       string(r.Type),
				"strength":   r.Strength,
				"confidence": r.Confidence,
			})
		return nil, err
	})
	if err != nil {
		m.logger.Warn("failed to mirror relationship",
			zap.String("source", r.SourceID), zap.String("target", r.TargetID), zap.Error(err))
	}
}

// Close releases the driver.
func (m *Mirror) Close(ctx context.Context) error {
	if m.driver != nil {
		return m.driver.Close(ctx)
	}
	return nil
}
