// Package config loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/knoguchi/hybridkb/internal/hybrid"
	"github.com/knoguchi/hybridkb/internal/ingestion"
)

// Vector store backends.
const (
	StoreQdrant   = "qdrant"
	StorePGVector = "pgvector"
)

// Reranker kinds.
const (
	RerankerNone   = "none"
	RerankerCohere = "cohere"
	RerankerLLM    = "llm"
)

// Config holds all configuration for the knowledge base service
type Config struct {
	// Server
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// CORSAllowedOrigins defaults to "*" outside production and to none in it.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Index
	IndexName   string `env:"INDEX_NAME" envDefault:"hybridkb"`
	VectorStore string `env:"VECTOR_STORE" envDefault:"qdrant"`

	// PostgreSQL (pgvector backend)
	DatabaseURL string `env:"DATABASE_URL" envDefault:"postgres://kb:kb@localhost:5432/kb?sslmode=disable"`

	// Qdrant
	QdrantGRPCURL string `env:"QDRANT_GRPC_URL" envDefault:"localhost:6334"`
	QdrantAPIKey  string `env:"QDRANT_API_KEY"`

	// Ollama
	OllamaURL            string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaEmbeddingModel string `env:"OLLAMA_EMBEDDING_MODEL" envDefault:"nomic-embed-text"`
	OllamaLLMModel       string `env:"OLLAMA_LLM_MODEL" envDefault:"llama3.2"`

	// Encoding
	HybridAlpha    float32 `env:"HYBRID_ALPHA" envDefault:"0.5"`
	BM25DFPath     string  `env:"BM25_DF_PATH"`
	EncodeBatch    int     `env:"ENCODE_BATCH_SIZE" envDefault:"100"`
	QueryCacheSize int     `env:"QUERY_CACHE_SIZE" envDefault:"1024"`

	// Reranking
	Reranker         string `env:"RERANKER" envDefault:"none"`
	RerankModel      string `env:"RERANK_MODEL"`
	RerankNResults   int    `env:"RERANK_N_RESULTS" envDefault:"5"`
	CohereAPIKey     string `env:"CO_API_KEY"`
	CohereBaseURL    string `env:"COHERE_BASE_URL"`
	DefaultTopK      int    `env:"DEFAULT_TOP_K" envDefault:"5"`
	QueryConcurrency int    `env:"QUERY_CONCURRENCY" envDefault:"4"`

	// Chunking
	ChunkMethod     string `env:"CHUNK_METHOD" envDefault:"sentence"`
	ChunkTargetSize int    `env:"CHUNK_TARGET_SIZE" envDefault:"256"`
	ChunkMaxSize    int    `env:"CHUNK_MAX_SIZE" envDefault:"512"`
	ChunkOverlap    int    `env:"CHUNK_OVERLAP" envDefault:"32"`

	// Auth
	AuthEnabled bool          `env:"AUTH_ENABLED" envDefault:"false"`
	JWTSecret   string        `env:"JWT_SECRET" envDefault:"change-this-in-production"`
	JWTExpiry   time.Duration `env:"JWT_EXPIRY" envDefault:"24h"`
}

// Load loads configuration from .env file (if present) and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if err := hybrid.ValidateAlpha(c.HybridAlpha); err != nil {
		return fmt.Errorf("HYBRID_ALPHA: %w", err)
	}

	switch c.VectorStore {
	case StoreQdrant, StorePGVector:
	default:
		return fmt.Errorf("VECTOR_STORE must be %q or %q, got %q", StoreQdrant, StorePGVector, c.VectorStore)
	}

	switch c.Reranker {
	case RerankerNone, RerankerCohere, RerankerLLM:
	default:
		return fmt.Errorf("RERANKER must be one of none, cohere, llm, got %q", c.Reranker)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	if c.IndexName == "" {
		return fmt.Errorf("INDEX_NAME is required")
	}
	if c.RerankNResults <= 0 {
		return fmt.Errorf("RERANK_N_RESULTS must be positive, got %d", c.RerankNResults)
	}
	if c.DefaultTopK <= 0 {
		return fmt.Errorf("DEFAULT_TOP_K must be positive, got %d", c.DefaultTopK)
	}
	if c.AuthEnabled && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_ENABLED is set")
	}

	if err := c.Chunking().Validate(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	return nil
}

// Chunking returns the chunker configuration.
func (c *Config) Chunking() ingestion.Config {
	return ingestion.Config{
		Method:     c.ChunkMethod,
		TargetSize: c.ChunkTargetSize,
		MaxSize:    c.ChunkMaxSize,
		Overlap:    c.ChunkOverlap,
	}
}

// AllowedOrigins returns the CORS origins for the HTTP API.
func (c *Config) AllowedOrigins() []string {
	if len(c.CORSAllowedOrigins) > 0 || c.IsProduction() {
		return c.CORSAllowedOrigins
	}
	return []string{"*"}
}

// IsProduction reports whether ENVIRONMENT is "production".
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
