// Package knowledgebase ties the chunker, the record encoder, the vector
// store and the reranker into the ingest and retrieval flows.
package knowledgebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/hybridkb/internal/encoder"
	"github.com/knoguchi/hybridkb/internal/ingestion"
	"github.com/knoguchi/hybridkb/internal/kberrors"
	"github.com/knoguchi/hybridkb/internal/models"
	"github.com/knoguchi/hybridkb/internal/reranker"
	"github.com/knoguchi/hybridkb/internal/vectorstore"
)

const (
	// DefaultTopK is the number of candidates retrieved per query.
	DefaultTopK = 5

	// DefaultUpsertBatchSize is the number of encoded chunks written per store call.
	DefaultUpsertBatchSize = 100

	defaultQueryConcurrency = 4
)

var (
	// ErrIndexNotFound is returned when the store has no index yet.
	ErrIndexNotFound = vectorstore.ErrIndexNotFound

	// ErrIndexExists is returned by CreateIndex when the index is already there.
	ErrIndexExists = errors.New("index already exists")
)

// KnowledgeBase indexes documents and answers queries against one index.
type KnowledgeBase struct {
	store            vectorstore.VectorStore
	encoder          encoder.RecordEncoder
	chunker          *ingestion.Chunker
	reranker         reranker.Reranker
	defaultTopK      int
	upsertBatchSize  int
	queryConcurrency int
	logger           *slog.Logger
}

// Option is a functional option for configuring KnowledgeBase.
type Option func(*KnowledgeBase)

// WithChunker sets the chunker used by Upsert.
func WithChunker(c *ingestion.Chunker) Option {
	return func(kb *KnowledgeBase) {
		kb.chunker = c
	}
}

// WithReranker sets the reranker applied to every query result.
func WithReranker(r reranker.Reranker) Option {
	return func(kb *KnowledgeBase) {
		if r != nil {
			kb.reranker = r
		}
	}
}

// WithDefaultTopK sets the candidate count for queries that do not set TopK.
func WithDefaultTopK(k int) Option {
	return func(kb *KnowledgeBase) {
		kb.defaultTopK = k
	}
}

// WithUpsertBatchSize sets how many chunks are written per store call.
func WithUpsertBatchSize(n int) Option {
	return func(kb *KnowledgeBase) {
		if n > 0 {
			kb.upsertBatchSize = n
		}
	}
}

// WithQueryConcurrency bounds the number of concurrent store queries.
func WithQueryConcurrency(n int) Option {
	return func(kb *KnowledgeBase) {
		if n > 0 {
			kb.queryConcurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(kb *KnowledgeBase) {
		if logger != nil {
			kb.logger = logger
		}
	}
}

// New creates a KnowledgeBase. Reranking is off unless WithReranker is given.
func New(store vectorstore.VectorStore, enc encoder.RecordEncoder, opts ...Option) (*KnowledgeBase, error) {
	if store == nil {
		return nil, kberrors.Configuration("vector store is required")
	}
	if enc == nil {
		return nil, kberrors.Configuration("record encoder is required")
	}

	kb := &KnowledgeBase{
		store:            store,
		encoder:          enc,
		reranker:         reranker.TransparentReranker{},
		defaultTopK:      DefaultTopK,
		upsertBatchSize:  DefaultUpsertBatchSize,
		queryConcurrency: defaultQueryConcurrency,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(kb)
	}

	if kb.defaultTopK <= 0 {
		return nil, kberrors.Configuration("default top_k must be positive, got %d", kb.defaultTopK)
	}
	if kb.chunker == nil {
		c, err := ingestion.NewChunker(ingestion.DefaultConfig())
		if err != nil {
			return nil, err
		}
		kb.chunker = c
	}
	return kb, nil
}

// CreateIndex creates the index sized for the encoder's dense dimension.
func (kb *KnowledgeBase) CreateIndex(ctx context.Context) error {
	exists, err := kb.store.IndexExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return ErrIndexExists
	}

	dimension := kb.encoder.Dimension()
	if dimension <= 0 {
		return kberrors.Configuration("encoder reports invalid dimension %d", dimension)
	}
	if err := kb.store.CreateIndex(ctx, dimension); err != nil {
		return err
	}

	kb.logger.Info("index created", "dimension", dimension)
	return nil
}

// DeleteIndex drops the index.
func (kb *KnowledgeBase) DeleteIndex(ctx context.Context) error {
	if err := kb.VerifyIndexConnection(ctx); err != nil {
		return err
	}
	return kb.store.DeleteIndex(ctx)
}

// VerifyIndexConnection checks that the store is reachable and the index exists.
func (kb *KnowledgeBase) VerifyIndexConnection(ctx context.Context) error {
	exists, err := kb.store.IndexExists(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach vector store: %w", err)
	}
	if !exists {
		return ErrIndexNotFound
	}
	return nil
}

// Upsert chunks, encodes and stores docs in namespace. Chunk IDs are
// deterministic, so new chunks overwrite old ones in place; chunks left over
// from longer earlier versions are removed only after every write succeeded.
// It returns the number of chunks written.
func (kb *KnowledgeBase) Upsert(ctx context.Context, namespace string, docs []models.Document) (int, error) {
	if err := validateDocuments(docs); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	start := time.Now()
	chunks := kb.chunker.ChunkDocuments(docs)

	encoded, err := kb.encoder.EncodeDocuments(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to encode chunks: %w", err)
	}

	for i := 0; i < len(encoded); i += kb.upsertBatchSize {
		end := min(i+kb.upsertBatchSize, len(encoded))
		if err := kb.store.Upsert(ctx, namespace, encoded[i:end]); err != nil {
			return i, fmt.Errorf("failed to upsert chunks: %w", err)
		}
	}

	docIDs := make([]string, len(docs))
	for i, d := range docs {
		docIDs[i] = d.ID
	}
	chunkIDs := make([]string, len(encoded))
	for i, c := range encoded {
		chunkIDs[i] = c.ID
	}
	if err := kb.store.DeleteStaleChunks(ctx, namespace, docIDs, chunkIDs); err != nil {
		return len(encoded), fmt.Errorf("failed to remove stale chunks: %w", err)
	}

	kb.logger.Info("documents upserted",
		"namespace", namespace,
		"documents", len(docs),
		"chunks", len(encoded),
		"elapsed_ms", time.Since(start).Milliseconds())
	return len(encoded), nil
}

// Query encodes queries, retrieves candidates for each and reranks them.
// Results are returned in query order.
func (kb *KnowledgeBase) Query(ctx context.Context, queries []models.Query) ([]models.KBQueryResult, error) {
	if len(queries) == 0 {
		return []models.KBQueryResult{}, nil
	}
	for i, q := range queries {
		if q.Text == "" {
			return nil, kberrors.InvalidInput("query %d has empty text", i)
		}
		if q.TopK < 0 {
			return nil, kberrors.InvalidInput("query %d has negative top_k", i)
		}
	}

	encoded, err := kb.encoder.EncodeQueries(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queries: %w", err)
	}
	if len(encoded) != len(queries) {
		return nil, kberrors.Integration("encoder returned %d queries for %d inputs", len(encoded), len(queries))
	}

	results := make([]models.KBQueryResult, len(encoded))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(kb.queryConcurrency)
	for i, q := range encoded {
		g.Go(func() error {
			topK := q.TopK
			if topK == 0 {
				topK = kb.defaultTopK
			}
			docs, err := kb.store.Query(gctx, q, topK)
			if err != nil {
				return fmt.Errorf("failed to query vector store: %w", err)
			}
			results[i] = models.KBQueryResult{Query: q.Text, Documents: docs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return kb.reranker.Rerank(ctx, results)
}

// Delete removes all chunks of the given documents from namespace.
func (kb *KnowledgeBase) Delete(ctx context.Context, namespace string, documentIDs []string) error {
	for i, id := range documentIDs {
		if id == "" {
			return kberrors.InvalidInput("document id %d is empty", i)
		}
	}
	return kb.store.DeleteDocuments(ctx, namespace, documentIDs)
}

func validateDocuments(docs []models.Document) error {
	seen := make(map[string]struct{}, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return kberrors.InvalidInput("document %d has no id", i)
		}
		if _, dup := seen[d.ID]; dup {
			return kberrors.InvalidInput("duplicate document id %q", d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}
