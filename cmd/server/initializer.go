package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"knowledge-engine/internal/assembler"
	"knowledge-engine/internal/cagcache"
	"knowledge-engine/internal/config"
	"knowledge-engine/internal/embeddings"
	"knowledge-engine/internal/patterns"
	"knowledge-engine/internal/retrieval"
	"knowledge-engine/internal/server"
	"knowledge-engine/internal/storage"
)

// engine bundles the wired components for the lifetime of one command.
type engine struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     storage.Store
	gateway   *embeddings.Gateway
	searcher  *retrieval.Searcher
	warmer    *cagcache.Warmer
	assembler *assembler.Assembler
	graph     *patterns.Graph
	server    *server.KnowledgeServer
	mirror    *patterns.Mirror
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	// The MCP transport owns stdout; logs go to stderr only.
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// newEngine wires configuration, storage, embeddings, retrieval, warming,
// assembly, and the tool surface.
func newEngine(configPath string) (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &exitError{code: exitConfigError, err: err}
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, &exitError{code: exitConfigError, err: err}
	}

	store, err := storage.NewStore(cfg, logger)
	if err != nil {
		return nil, &exitError{code: exitStorageError, err: err}
	}

	var embedder embeddings.Embedder
	if cfg.Embeddings.Endpoint != "" {
		embedder, err = embeddings.NewHTTPEmbedder(embeddings.HTTPConfig{
			Endpoint:  cfg.Embeddings.Endpoint,
			APIKey:    cfg.Embeddings.APIKey,
			Model:     cfg.Embeddings.Model,
			Dimension: cfg.Embeddings.Dimension,
			Timeout:   cfg.Embeddings.RequestTimeout,
		})
		if err != nil {
			return nil, &exitError{code: exitConfigError, err: err}
		}
	} else {
		// No provider configured: deterministic local embeddings keep the
		// engine usable for development and tests.
		logger.Warn("no embeddings endpoint configured, using deterministic local embedder")
		embedder = embeddings.NewMockEmbedder(cfg.Embeddings.Dimension)
	}
	gateway := embeddings.NewGateway(embeddings.GatewayConfig{
		Embedder:   embedder,
		MaxEntries: cfg.Embeddings.CacheEntries,
		Logger:     logger,
	})

	searcher := retrieval.NewSearcher(store, gateway, cfg.Retrieval, logger)
	warmer := cagcache.NewWarmer(store, searcher, cfg.Cache, logger)
	asm := assembler.New(store, warmer, searcher, cfg.Context, logger)

	var mirror *patterns.Mirror
	if cfg.Storage.Neo4jURI != "" {
		mirror, err = patterns.NewMirror(patterns.MirrorConfig{
			URI:      cfg.Storage.Neo4jURI,
			Username: cfg.Storage.Neo4jUser,
			Password: cfg.Storage.Neo4jPassword,
		}, logger)
		if err != nil {
			// The mirror is best-effort; the engine runs without it.
			logger.Warn("neo4j mirror unavailable", zap.Error(err))
			mirror = nil
		}
	}
	graph := patterns.NewGraph(mirror)
	if err := graph.Load(context.Background(), store); err != nil {
		logger.Warn("failed to load pattern graph", zap.Error(err))
	}

	srv := server.NewKnowledgeServer(store, gateway, searcher, warmer, asm, graph, cfg, logger)

	return &engine{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		gateway:   gateway,
		searcher:  searcher,
		warmer:    warmer,
		assembler: asm,
		graph:     graph,
		server:    srv,
		mirror:    mirror,
	}, nil
}

// close drains process-wide state: the warmed cache, the mirror, and the
// store.
func (e *engine) close() {
	e.warmer.Invalidate()
	if e.mirror != nil {
		_ = e.mirror.Close(context.Background())
	}
	if err := storage.CloseStore(e.store); err != nil {
		e.logger.Warn("failed to close storage", zap.Error(err))
	}
	_ = e.logger.Sync()
}
