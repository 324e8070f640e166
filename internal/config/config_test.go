package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 768, cfg.Embeddings.Dimension)
	assert.Equal(t, 0.7, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 1800, cfg.Cache.TTLSeconds)
	assert.Equal(t, 256, cfg.Cache.MaxEntries)
	assert.Equal(t, 8192, cfg.Context.TokenBudget)
	assert.Equal(t, 50, cfg.Context.MaxItems)
	assert.Equal(t, 10, cfg.Retrieval.ANNProbes)
}

func TestHybridWeightsMustSumToOne(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.HybridWeights = [4]float64{0.5, 0.25, 0.15, 0.05}
	assert.Error(t, cfg.Validate())

	cfg.Retrieval.HybridWeights = [4]float64{0.55, 0.25, 0.15, 0.05}
	assert.NoError(t, cfg.Validate())

	// within the 1e-6 tolerance
	cfg.Retrieval.HybridWeights = [4]float64{0.55, 0.25, 0.15, 0.0500000001}
	assert.NoError(t, cfg.Validate())

	cfg.Retrieval.HybridWeights = [4]float64{-0.1, 0.5, 0.3, 0.3}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage type", func(c *Config) { c.Storage.Type = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Storage.DBPath = "" }},
		{"zero dimension", func(c *Config) { c.Embeddings.Dimension = 0 }},
		{"threshold above one", func(c *Config) { c.Retrieval.SimilarityThreshold = 1.5 }},
		{"zero ann probes", func(c *Config) { c.Retrieval.ANNProbes = 0 }},
		{"zero cache entries", func(c *Config) { c.Cache.MaxEntries = 0 }},
		{"negative token budget", func(c *Config) { c.Context.TokenBudget = -1 }},
		{"zero max items", func(c *Config) { c.Context.MaxItems = 0 }},
		{"bad health log level", func(c *Config) { c.Logging.HealthLogLevel = "noisy" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KP_STORAGE_TYPE", "memory")
	t.Setenv("KP_EMBEDDING_DIMENSION", "512")
	t.Setenv("KP_SIMILARITY_THRESHOLD", "0.6")
	t.Setenv("KP_HYBRID_WEIGHTS", "0.4, 0.3, 0.2, 0.1")
	t.Setenv("KP_CACHE_TTL_SECONDS", "600")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 512, cfg.Embeddings.Dimension)
	assert.Equal(t, 0.6, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, [4]float64{0.4, 0.3, 0.2, 0.1}, cfg.Retrieval.HybridWeights)
	assert.Equal(t, 600, cfg.Cache.TTLSeconds)
}

func TestLoadJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"storage": {"type": "memory", "db_path": "x.db", "max_connections": 5},
		"context": {"context_token_budget": 4096, "max_items_per_context": 25}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 4096, cfg.Context.TokenBudget)
	assert.Equal(t, 25, cfg.Context.MaxItems)
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
type = "memory"
db_path = "x.db"
max_connections = 5

[cache]
cache_ttl_seconds = 900
cache_max_entries = 64
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 900, cfg.Cache.TTLSeconds)
	assert.Equal(t, 64, cfg.Cache.MaxEntries)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
