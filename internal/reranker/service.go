package reranker

import (
	"context"
	"log/slog"
	"time"

	"github.com/knoguchi/hybridkb/internal/kberrors"
	"github.com/knoguchi/hybridkb/internal/models"
)

// DefaultNResults is the number of documents kept per query.
const DefaultNResults = 5

// RankedIndex is one entry of a scoring service's ranking: the position of
// a submitted document and its relevance score.
type RankedIndex struct {
	Index          int
	RelevanceScore float32
}

// ScoringClient scores documents against a query. Implementations return a
// ranking sorted by descending relevance with at most len(documents) entries.
type ScoringClient interface {
	Score(ctx context.Context, query string, documents []string, model string) ([]RankedIndex, error)

	// Provider names the scoring backend for errors and logs.
	Provider() string
}

// ServiceReranker reranks through an external ScoringClient.
type ServiceReranker struct {
	client   ScoringClient
	model    string
	nResults int
	logger   *slog.Logger
}

// ServiceRerankerOption is a functional option for configuring ServiceReranker.
type ServiceRerankerOption func(*ServiceReranker)

// WithNResults sets the maximum number of documents returned per query.
func WithNResults(n int) ServiceRerankerOption {
	return func(r *ServiceReranker) {
		r.nResults = n
	}
}

// WithLogger sets the logger for rerank events.
func WithLogger(logger *slog.Logger) ServiceRerankerOption {
	return func(r *ServiceReranker) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewServiceReranker creates a reranker that scores with client using model.
func NewServiceReranker(client ScoringClient, model string, opts ...ServiceRerankerOption) (*ServiceReranker, error) {
	if client == nil {
		return nil, kberrors.Configuration("scoring client is required")
	}
	r := &ServiceReranker{
		client:   client,
		model:    model,
		nResults: DefaultNResults,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.nResults <= 0 {
		return nil, kberrors.Configuration("n_results must be positive, got %d", r.nResults)
	}
	return r, nil
}

// ModelName returns the model identifier sent to the scoring service.
func (r *ServiceReranker) ModelName() string {
	return r.model
}

// Rerank scores each result set independently. Any failed scoring call fails
// the whole call; no partial output is returned. Input documents are never
// modified: output documents are copies carrying the service's score.
func (r *ServiceReranker) Rerank(ctx context.Context, results []models.KBQueryResult) ([]models.KBQueryResult, error) {
	reranked := make([]models.KBQueryResult, 0, len(results))
	for _, result := range results {
		out, err := r.rerankOne(ctx, result)
		if err != nil {
			return nil, err
		}
		reranked = append(reranked, out)
	}
	return reranked, nil
}

func (r *ServiceReranker) rerankOne(ctx context.Context, result models.KBQueryResult) (models.KBQueryResult, error) {
	if len(result.Documents) == 0 {
		return models.KBQueryResult{Query: result.Query, Documents: []models.KBDocument{}}, nil
	}

	texts := make([]string, len(result.Documents))
	for i, doc := range result.Documents {
		texts[i] = doc.Text
	}

	start := time.Now()
	ranking, err := r.client.Score(ctx, result.Query, texts, r.model)
	if err != nil {
		r.logger.Warn("reranking_failed",
			slog.String("provider", r.client.Provider()),
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return models.KBQueryResult{}, kberrors.ExternalService(r.client.Provider(), err)
	}

	if len(ranking) > r.nResults {
		ranking = ranking[:r.nResults]
	}

	docs := make([]models.KBDocument, 0, len(ranking))
	for _, ranked := range ranking {
		if ranked.Index < 0 || ranked.Index >= len(result.Documents) {
			return models.KBQueryResult{}, kberrors.Integration(
				"invalid result index %d for %d documents", ranked.Index, len(result.Documents))
		}
		doc := result.Documents[ranked.Index].Clone()
		doc.Score = ranked.RelevanceScore
		docs = append(docs, doc)
	}

	r.logger.Debug("reranking_completed",
		slog.String("provider", r.client.Provider()),
		slog.String("model", r.model),
		slog.Int("candidate_count", len(texts)),
		slog.Int("result_count", len(docs)),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return models.KBQueryResult{Query: result.Query, Documents: docs}, nil
}

// RerankAsync is not supported; use Rerank.
func (r *ServiceReranker) RerankAsync(ctx context.Context, results []models.KBQueryResult) (<-chan RerankResult, error) {
	return nil, kberrors.Unsupported("ServiceReranker.RerankAsync")
}

var _ Reranker = (*ServiceReranker)(nil)
