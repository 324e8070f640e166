// Package storage: factory for creating storage backends.
package storage

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"knowledge-engine/internal/config"
)

// NewStore creates a storage backend from configuration.
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		logger.Info("initializing in-memory storage")
		return NewMemoryStore(cfg.Embeddings.Dimension), nil

	case "sqlite":
		logger.Info("initializing sqlite storage", zap.String("path", cfg.Storage.DBPath))
		store, err := NewSQLiteStore(SQLiteConfig{
			Path:           cfg.Storage.DBPath,
			VectorPath:     cfg.Storage.VectorPath,
			BusyTimeoutMs:  cfg.Storage.BusyTimeoutMs,
			MaxConnections: cfg.Storage.MaxConnections,
			EmbedDim:       cfg.Embeddings.Dimension,
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite initialization failed: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}

// CloseStore safely closes storage if it implements io.Closer.
func CloseStore(s Store) error {
	if closer, ok := s.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
