package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, StoreQdrant, cfg.VectorStore)
	assert.Equal(t, RerankerNone, cfg.Reranker)
	assert.InDelta(t, 0.5, cfg.HybridAlpha, 1e-6)
	assert.Equal(t, 5, cfg.RerankNResults)
	assert.Equal(t, 5, cfg.DefaultTopK)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("VECTOR_STORE", "pgvector")
	t.Setenv("HYBRID_ALPHA", "0.8")
	t.Setenv("RERANKER", "cohere")
	t.Setenv("CO_API_KEY", "secret")
	t.Setenv("CHUNK_METHOD", "fixed")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorePGVector, cfg.VectorStore)
	assert.InDelta(t, 0.8, cfg.HybridAlpha, 1e-6)
	assert.Equal(t, RerankerCohere, cfg.Reranker)
	assert.Equal(t, "secret", cfg.CohereAPIKey)
	assert.Equal(t, "fixed", cfg.Chunking().Method)
	assert.True(t, cfg.IsProduction())
	assert.Empty(t, cfg.AllowedOrigins())

	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"sparse only alpha", func(c *Config) { c.HybridAlpha = 0 }, "HYBRID_ALPHA"},
		{"alpha above one", func(c *Config) { c.HybridAlpha = 1.5 }, "HYBRID_ALPHA"},
		{"unknown store", func(c *Config) { c.VectorStore = "milvus" }, "VECTOR_STORE"},
		{"unknown reranker", func(c *Config) { c.Reranker = "bge" }, "RERANKER"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "LOG_LEVEL"},
		{"no index", func(c *Config) { c.IndexName = "" }, "INDEX_NAME"},
		{"zero n results", func(c *Config) { c.RerankNResults = 0 }, "RERANK_N_RESULTS"},
		{"zero top k", func(c *Config) { c.DefaultTopK = 0 }, "DEFAULT_TOP_K"},
		{"auth without secret", func(c *Config) { c.AuthEnabled = true; c.JWTSecret = "" }, "JWT_SECRET"},
		{"bad chunking", func(c *Config) { c.ChunkOverlap = c.ChunkTargetSize }, "chunking"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
