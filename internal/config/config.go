// Package config provides configuration management for the knowledge engine.
//
// Configuration is loaded from multiple sources (in order of precedence):
//  1. Environment variables (highest priority, KP_ prefix)
//  2. Configuration file (JSON or TOML)
//  3. Default values (lowest priority)
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"knowledge-engine/internal/types"
)

// Config represents the complete engine configuration.
type Config struct {
	Storage    StorageConfig    `json:"storage" toml:"storage"`
	Embeddings EmbeddingsConfig `json:"embeddings" toml:"embeddings"`
	Retrieval  RetrievalConfig  `json:"retrieval" toml:"retrieval"`
	Cache      CacheConfig      `json:"cache" toml:"cache"`
	Context    ContextConfig    `json:"context" toml:"context"`
	Analyzer   AnalyzerConfig   `json:"analyzer" toml:"analyzer"`
	Logging    LoggingConfig    `json:"logging" toml:"logging"`
}

// StorageConfig selects and tunes the storage backend.
type StorageConfig struct {
	// Type of backend: "sqlite" or "memory".
	Type string `json:"type" toml:"type"`
	// DBPath is the SQLite database file.
	DBPath string `json:"db_path" toml:"db_path"`
	// VectorPath persists the vector index (empty = in-memory only).
	VectorPath string `json:"vector_path" toml:"vector_path"`
	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int `json:"busy_timeout_ms" toml:"busy_timeout_ms"`
	// MaxConnections soft-caps the connection pool.
	MaxConnections int `json:"max_connections" toml:"max_connections"`
	// Neo4jURI enables the optional pattern-graph mirror when set.
	Neo4jURI      string `json:"neo4j_uri,omitempty" toml:"neo4j_uri"`
	Neo4jUser     string `json:"neo4j_user,omitempty" toml:"neo4j_user"`
	Neo4jPassword string `json:"-" toml:"-"`
}

// EmbeddingsConfig configures the embedding gateway.
type EmbeddingsConfig struct {
	// Endpoint of the embedding provider HTTP API.
	Endpoint string `json:"endpoint" toml:"endpoint"`
	APIKey   string `json:"-" toml:"-"`
	Model    string `json:"model" toml:"model"`
	// Dimension of vectors. Changing it requires full re-embedding.
	Dimension      int           `json:"embedding_dimension" toml:"embedding_dimension"`
	CacheEntries   int           `json:"cache_entries" toml:"cache_entries"`
	RequestTimeout time.Duration `json:"request_timeout" toml:"request_timeout"`
}

// RetrievalConfig tunes hybrid search.
type RetrievalConfig struct {
	// SimilarityThreshold is the minimum acceptable cosine similarity.
	SimilarityThreshold float64 `json:"similarity_threshold" toml:"similarity_threshold"`
	// HybridWeights are (alpha, beta, gamma, delta) for semantic, lexical,
	// importance, and recency. Must sum to 1.0.
	HybridWeights [4]float64 `json:"hybrid_weights" toml:"hybrid_weights"`
	// MinResults triggers threshold relaxation when unmet.
	MinResults int `json:"min_results" toml:"min_results"`
	// ANNProbes trades index accuracy for speed.
	ANNProbes int `json:"ann_probes" toml:"ann_probes"`
	// Workers bounds the ranking worker pool.
	Workers int `json:"workers" toml:"workers"`
}

// CacheConfig tunes the context cache warmer.
type CacheConfig struct {
	TTLSeconds int `json:"cache_ttl_seconds" toml:"cache_ttl_seconds"`
	MaxEntries int `json:"cache_max_entries" toml:"cache_max_entries"`
}

// ContextConfig tunes context assembly.
type ContextConfig struct {
	TokenBudget int `json:"context_token_budget" toml:"context_token_budget"`
	MaxItems    int `json:"max_items_per_context" toml:"max_items_per_context"`
	// LiveResults is how many live retrieval hits are merged with the
	// warmed cache.
	LiveResults int `json:"live_results" toml:"live_results"`
	// SituationTurns is how many recent user turns form the situation key.
	SituationTurns int `json:"situation_turns" toml:"situation_turns"`
	// AssembleTimeout bounds one assembly.
	AssembleTimeout time.Duration `json:"assemble_timeout" toml:"assemble_timeout"`
	// ToolTimeout bounds one tool call.
	ToolTimeout time.Duration `json:"tool_timeout" toml:"tool_timeout"`
}

// AnalyzerConfig tunes redirection analysis.
type AnalyzerConfig struct {
	// MinDetectionConfidence discards redirection records below it.
	MinDetectionConfidence float64 `json:"min_detection_confidence" toml:"min_detection_confidence"`
	// CategoryWeights scale per-category lexical evidence. Tunable; defaults
	// validated against labeled fixtures.
	CategoryWeights map[string]float64 `json:"category_weights,omitempty" toml:"category_weights"`
}

// LoggingConfig controls zap logger construction.
type LoggingConfig struct {
	Level string `json:"level" toml:"level"`
	// HealthLogLevel is the minimum severity persisted to health logs:
	// healthy, degraded, or critical.
	HealthLogLevel string `json:"health_log_level" toml:"health_log_level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Type:           "sqlite",
			DBPath:         "knowledge.db",
			BusyTimeoutMs:  5000,
			MaxConnections: 20,
		},
		Embeddings: EmbeddingsConfig{
			Model:          "nomic-embed-text-v1.5",
			Dimension:      types.DefaultEmbeddingDim,
			CacheEntries:   10000,
			RequestTimeout: 30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			SimilarityThreshold: 0.7,
			HybridWeights:       [4]float64{0.55, 0.25, 0.15, 0.05},
			MinResults:          3,
			ANNProbes:           10,
			Workers:             4,
		},
		Cache: CacheConfig{
			TTLSeconds: 1800,
			MaxEntries: 256,
		},
		Context: ContextConfig{
			TokenBudget:     8192,
			MaxItems:        50,
			LiveResults:     10,
			SituationTurns:  3,
			AssembleTimeout: 60 * time.Second,
			ToolTimeout:     30 * time.Second,
		},
		Analyzer: AnalyzerConfig{
			MinDetectionConfidence: 0.4,
		},
		Logging: LoggingConfig{
			Level:          "info",
			HealthLogLevel: "degraded",
		},
	}
}

// Load builds configuration from defaults, an optional file, and environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return nil
}

// loadEnv overrides configuration from KP_* environment variables.
func (c *Config) loadEnv() {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setStr("KP_STORAGE_TYPE", &c.Storage.Type)
	setStr("KP_DB_PATH", &c.Storage.DBPath)
	setStr("KP_VECTOR_PATH", &c.Storage.VectorPath)
	setInt("KP_STORAGE_MAX_CONNECTIONS", &c.Storage.MaxConnections)
	setStr("KP_NEO4J_URI", &c.Storage.Neo4jURI)
	setStr("KP_NEO4J_USER", &c.Storage.Neo4jUser)
	setStr("KP_NEO4J_PASSWORD", &c.Storage.Neo4jPassword)

	setStr("KP_EMBEDDINGS_ENDPOINT", &c.Embeddings.Endpoint)
	setStr("KP_EMBEDDINGS_API_KEY", &c.Embeddings.APIKey)
	setStr("KP_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	setInt("KP_EMBEDDING_DIMENSION", &c.Embeddings.Dimension)
	setInt("KP_EMBEDDINGS_CACHE_ENTRIES", &c.Embeddings.CacheEntries)

	setFloat("KP_SIMILARITY_THRESHOLD", &c.Retrieval.SimilarityThreshold)
	setInt("KP_ANN_PROBES", &c.Retrieval.ANNProbes)
	if v := os.Getenv("KP_HYBRID_WEIGHTS"); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) == 4 {
			var w [4]float64
			ok := true
			for i, p := range parts {
				f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
				if err != nil {
					ok = false
					break
				}
				w[i] = f
			}
			if ok {
				c.Retrieval.HybridWeights = w
			}
		}
	}

	setInt("KP_CACHE_TTL_SECONDS", &c.Cache.TTLSeconds)
	setInt("KP_CACHE_MAX_ENTRIES", &c.Cache.MaxEntries)

	setInt("KP_CONTEXT_TOKEN_BUDGET", &c.Context.TokenBudget)
	setInt("KP_MAX_ITEMS_PER_CONTEXT", &c.Context.MaxItems)

	setStr("KP_LOG_LEVEL", &c.Logging.Level)
	setStr("KP_HEALTH_LOG_LEVEL", &c.Logging.HealthLogLevel)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Storage.Type != "sqlite" && c.Storage.Type != "memory" {
		return fmt.Errorf("storage.type must be sqlite or memory, got %q", c.Storage.Type)
	}
	if c.Storage.Type == "sqlite" && c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required for sqlite storage")
	}
	if c.Storage.MaxConnections < 1 {
		return fmt.Errorf("storage.max_connections must be >= 1")
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embedding_dimension must be positive")
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1]")
	}
	var sum float64
	for _, w := range c.Retrieval.HybridWeights {
		if w < 0 {
			return fmt.Errorf("hybrid weights must be non-negative")
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("hybrid_weights must sum to 1.0, got %v", sum)
	}
	if c.Retrieval.ANNProbes < 1 {
		return fmt.Errorf("ann_probes must be >= 1")
	}
	if c.Cache.TTLSeconds < 0 || c.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache settings out of range")
	}
	if c.Context.TokenBudget < 0 {
		return fmt.Errorf("context_token_budget cannot be negative")
	}
	if c.Context.MaxItems < 1 {
		return fmt.Errorf("max_items_per_context must be >= 1")
	}
	switch c.Logging.HealthLogLevel {
	case "healthy", "degraded", "critical":
	default:
		return fmt.Errorf("health_log_level must be healthy, degraded, or critical")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}

// CacheTTL returns the warm-cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
