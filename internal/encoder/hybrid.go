package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/knoguchi/hybridkb/internal/hybrid"
	"github.com/knoguchi/hybridkb/internal/kberrors"
	"github.com/knoguchi/hybridkb/internal/models"
	"github.com/knoguchi/hybridkb/internal/sparse"
)

// HybridRecordEncoder produces dense and sparse representations for chunks
// and queries. Chunks are stored unweighted; queries are scaled by alpha on
// the dense side and 1-alpha on the sparse side. Alpha is fixed for the
// lifetime of the encoder.
type HybridRecordEncoder struct {
	dense     DenseRecordEncoder
	alpha     float32
	batchSize int
	dfPath    string
	logger    *slog.Logger

	newSparse func() (sparse.Encoder, error)
	sparse    func() (sparse.Encoder, error)
}

// HybridOption is a functional option for configuring HybridRecordEncoder.
type HybridOption func(*HybridRecordEncoder)

// WithAlpha sets the dense weight, in (0, 1].
func WithAlpha(alpha float32) HybridOption {
	return func(h *HybridRecordEncoder) {
		h.alpha = alpha
	}
}

// WithBM25ProfilePath loads the BM25 document frequencies from path instead
// of the built-in profile.
func WithBM25ProfilePath(path string) HybridOption {
	return func(h *HybridRecordEncoder) {
		h.dfPath = path
	}
}

// WithSparseEncoder supplies the sparse encoder factory. It is still invoked
// lazily and at most once.
func WithSparseEncoder(newSparse func() (sparse.Encoder, error)) HybridOption {
	return func(h *HybridRecordEncoder) {
		h.newSparse = newSparse
	}
}

// WithBatchSize sets how many records are encoded per dense/sparse call pair.
func WithBatchSize(n int) HybridOption {
	return func(h *HybridRecordEncoder) {
		if n > 0 {
			h.batchSize = n
		}
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) HybridOption {
	return func(h *HybridRecordEncoder) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHybridRecordEncoder wraps dense with a BM25 sparse encoder.
func NewHybridRecordEncoder(dense DenseRecordEncoder, opts ...HybridOption) (*HybridRecordEncoder, error) {
	h := &HybridRecordEncoder{
		dense:     dense,
		alpha:     hybrid.DefaultAlpha,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := hybrid.ValidateAlpha(h.alpha); err != nil {
		return nil, err
	}
	if dense == nil {
		return nil, kberrors.Configuration("dense record encoder is required")
	}
	if _, ok := dense.(*HybridRecordEncoder); ok {
		return nil, kberrors.Configuration("dense record encoder must produce dense-only records, got %T", dense)
	}

	if h.newSparse == nil {
		h.newSparse = h.loadBM25
	}
	h.sparse = sync.OnceValues(h.newSparse)

	return h, nil
}

func (h *HybridRecordEncoder) loadBM25() (sparse.Encoder, error) {
	h.logger.Info("loading BM25 document frequencies", "path", h.dfPath)

	var (
		enc *sparse.BM25Encoder
		err error
	)
	if h.dfPath == "" {
		enc, err = sparse.DefaultBM25()
	} else {
		enc, err = sparse.LoadBM25(h.dfPath)
	}
	if err != nil {
		return nil, err
	}

	h.logger.Info("finished loading BM25 document frequencies")
	return enc, nil
}

// Alpha returns the dense weight.
func (h *HybridRecordEncoder) Alpha() float32 {
	return h.alpha
}

// Dimension returns the dense encoder's dimension. The sparse side is
// index-based and has no fixed dimension.
func (h *HybridRecordEncoder) Dimension() int {
	return h.dense.Dimension()
}

// EncodeDocuments encodes chunks in batches of batchSize.
func (h *HybridRecordEncoder) EncodeDocuments(ctx context.Context, chunks []models.DocChunk) ([]models.KBEncodedDocChunk, error) {
	return inBatches(ctx, chunks, h.batchSize, h.encodeDocumentsBatch)
}

// EncodeQueries encodes queries in batches of batchSize.
func (h *HybridRecordEncoder) EncodeQueries(ctx context.Context, queries []models.Query) ([]models.KBQuery, error) {
	return inBatches(ctx, queries, h.batchSize, h.encodeQueriesBatch)
}

func (h *HybridRecordEncoder) encodeDocumentsBatch(ctx context.Context, chunks []models.DocChunk) ([]models.KBEncodedDocChunk, error) {
	encoded, err := h.dense.EncodeDocuments(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("dense encoding failed: %w", err)
	}
	if len(encoded) != len(chunks) {
		return nil, kberrors.Integration("dense encoder returned %d records for %d chunks", len(encoded), len(chunks))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	sparseValues, err := h.encodeSparse(ctx, texts, true)
	if err != nil {
		return nil, err
	}

	out := make([]models.KBEncodedDocChunk, len(chunks))
	for i, c := range chunks {
		if encoded[i].ID != c.ID {
			return nil, kberrors.Integration("dense record %d has chunk id %q, expected %q", i, encoded[i].ID, c.ID)
		}
		if len(encoded[i].Values) == 0 {
			return nil, kberrors.Integration("dense encoder returned an empty vector for chunk %q", c.ID)
		}
		if sparseValues[i].IsEmpty() {
			return nil, kberrors.InvalidInput("document %q chunk %q has no indexable terms", c.DocumentID, c.ID)
		}
		out[i] = models.KBEncodedDocChunk{
			DocChunk:     c,
			Values:       encoded[i].Values,
			SparseValues: sparseValues[i],
		}
	}
	return out, nil
}

func (h *HybridRecordEncoder) encodeQueriesBatch(ctx context.Context, queries []models.Query) ([]models.KBQuery, error) {
	dense, err := h.dense.EncodeQueries(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("dense encoding failed: %w", err)
	}
	if len(dense) != len(queries) {
		return nil, kberrors.Integration("dense encoder returned %d records for %d queries", len(dense), len(queries))
	}

	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = q.Text
	}
	sparseValues, err := h.encodeSparse(ctx, texts, false)
	if err != nil {
		return nil, err
	}

	out := make([]models.KBQuery, len(queries))
	for i, q := range queries {
		if dense[i].Text != q.Text {
			return nil, kberrors.Integration("dense record %d has query %q, expected %q", i, dense[i].Text, q.Text)
		}
		values, sv, err := hybrid.Combine(dense[i].Values, sparseValues[i], h.alpha)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		out[i] = models.KBQuery{Query: q, Values: values, SparseValues: sv}
	}
	return out, nil
}

func (h *HybridRecordEncoder) encodeSparse(ctx context.Context, texts []string, documents bool) ([]models.SparseVector, error) {
	enc, err := h.sparse()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise sparse encoder: %w", err)
	}

	var vectors []models.SparseVector
	if documents {
		vectors, err = enc.EncodeDocuments(ctx, texts)
	} else {
		vectors, err = enc.EncodeQueries(ctx, texts)
	}
	if err != nil {
		return nil, fmt.Errorf("sparse encoding failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, kberrors.Integration("sparse encoder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

// DocumentsResult is delivered by EncodeDocumentsAsync.
type DocumentsResult struct {
	Chunks []models.KBEncodedDocChunk
	Err    error
}

// QueriesResult is delivered by EncodeQueriesAsync.
type QueriesResult struct {
	Queries []models.KBQuery
	Err     error
}

// EncodeDocumentsAsync is not supported; use EncodeDocuments.
func (h *HybridRecordEncoder) EncodeDocumentsAsync(ctx context.Context, chunks []models.DocChunk) (<-chan DocumentsResult, error) {
	return nil, kberrors.Unsupported("HybridRecordEncoder.EncodeDocumentsAsync")
}

// EncodeQueriesAsync is not supported; use EncodeQueries.
func (h *HybridRecordEncoder) EncodeQueriesAsync(ctx context.Context, queries []models.Query) (<-chan QueriesResult, error) {
	return nil, kberrors.Unsupported("HybridRecordEncoder.EncodeQueriesAsync")
}

var _ RecordEncoder = (*HybridRecordEncoder)(nil)
