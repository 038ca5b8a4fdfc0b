package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/knoguchi/hybridkb/internal/config"
	"github.com/knoguchi/hybridkb/internal/encoder"
	"github.com/knoguchi/hybridkb/internal/ingestion"
	"github.com/knoguchi/hybridkb/internal/knowledgebase"
	"github.com/knoguchi/hybridkb/internal/llm"
	"github.com/knoguchi/hybridkb/internal/reranker"
	"github.com/knoguchi/hybridkb/internal/vectorstore"
)

// buildKnowledgeBase connects the configured vector store and assembles the
// encoder and reranker stack. The returned store must be closed by the caller.
func buildKnowledgeBase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*knowledgebase.KnowledgeBase, vectorstore.VectorStore, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to vector store", "backend", cfg.VectorStore, "index", cfg.IndexName)

	enc, err := buildEncoder(cfg, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	rr, err := buildReranker(cfg, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	chunker, err := ingestion.NewChunker(cfg.Chunking())
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	kb, err := knowledgebase.New(store, enc,
		knowledgebase.WithChunker(chunker),
		knowledgebase.WithReranker(rr),
		knowledgebase.WithDefaultTopK(cfg.DefaultTopK),
		knowledgebase.WithQueryConcurrency(cfg.QueryConcurrency),
		knowledgebase.WithLogger(logger),
	)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return kb, store, nil
}

func openStore(ctx context.Context, cfg *config.Config) (vectorstore.VectorStore, error) {
	switch cfg.VectorStore {
	case config.StorePGVector:
		store, err := vectorstore.NewPGVectorStore(ctx, cfg.DatabaseURL, cfg.IndexName)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		return store, nil
	default:
		store, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.IndexName,
			vectorstore.WithQdrantAPIKey(cfg.QdrantAPIKey))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		return store, nil
	}
}

func buildEncoder(cfg *config.Config, logger *slog.Logger) (*encoder.HybridRecordEncoder, error) {
	var embed encoder.Embedder = encoder.NewOllamaEmbedder(encoder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
	logger.Info("initialized Ollama embedder", "model", cfg.OllamaEmbeddingModel)

	if cfg.QueryCacheSize > 0 {
		cached, err := encoder.NewCachedEmbedder(embed, cfg.QueryCacheSize)
		if err != nil {
			return nil, err
		}
		embed = cached
	}

	dense, err := encoder.NewEmbedderRecordEncoder(embed, encoder.WithDenseBatchSize(cfg.EncodeBatch))
	if err != nil {
		return nil, err
	}

	return encoder.NewHybridRecordEncoder(dense,
		encoder.WithAlpha(cfg.HybridAlpha),
		encoder.WithBM25ProfilePath(cfg.BM25DFPath),
		encoder.WithBatchSize(cfg.EncodeBatch),
		encoder.WithLogger(logger),
	)
}

func buildReranker(cfg *config.Config, logger *slog.Logger) (reranker.Reranker, error) {
	switch cfg.Reranker {
	case config.RerankerCohere:
		rr, err := reranker.NewCohereReranker(reranker.CohereConfig{
			APIKey:    cfg.CohereAPIKey,
			ModelName: cfg.RerankModel,
			NResults:  cfg.RerankNResults,
			BaseURL:   cfg.CohereBaseURL,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("initialized Cohere reranker", "model", rr.ModelName())
		return rr, nil

	case config.RerankerLLM:
		model := cfg.RerankModel
		if model == "" {
			model = cfg.OllamaLLMModel
		}
		llmClient := llm.NewOllamaClient(
			llm.WithBaseURL(cfg.OllamaURL),
			llm.WithModel(model),
		)
		rr, err := reranker.NewLLMReranker(llmClient, model,
			reranker.WithNResults(cfg.RerankNResults),
			reranker.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		logger.Info("initialized LLM reranker", "model", model)
		return rr, nil

	default:
		return reranker.TransparentReranker{}, nil
	}
}
