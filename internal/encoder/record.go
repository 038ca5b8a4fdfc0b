package encoder

import (
	"context"
	"math"

	"github.com/knoguchi/hybridkb/internal/kberrors"
	"github.com/knoguchi/hybridkb/internal/models"
)

// DefaultBatchSize is the number of records sent to the encoders per call.
const DefaultBatchSize = 100

// RecordEncoder encodes chunks for indexing and queries for retrieval.
type RecordEncoder interface {
	// EncodeDocuments returns one encoded chunk per input, in input order.
	EncodeDocuments(ctx context.Context, chunks []models.DocChunk) ([]models.KBEncodedDocChunk, error)

	// EncodeQueries returns one encoded query per input, in input order.
	EncodeQueries(ctx context.Context, queries []models.Query) ([]models.KBQuery, error)

	// Dimension returns the dense vector dimension.
	Dimension() int
}

// DenseRecordEncoder is a RecordEncoder that fills only the dense values.
type DenseRecordEncoder = RecordEncoder

// EmbedderRecordEncoder is the dense record encoder backed by an Embedder.
type EmbedderRecordEncoder struct {
	embedder  Embedder
	batchSize int
	normalize bool
}

// EmbedderRecordEncoderOption is a functional option for configuring EmbedderRecordEncoder.
type EmbedderRecordEncoderOption func(*EmbedderRecordEncoder)

// WithDenseBatchSize sets how many texts are sent to the embedder per call.
func WithDenseBatchSize(n int) EmbedderRecordEncoderOption {
	return func(e *EmbedderRecordEncoder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithNormalize toggles L2 normalisation of the returned vectors.
func WithNormalize(normalize bool) EmbedderRecordEncoderOption {
	return func(e *EmbedderRecordEncoder) {
		e.normalize = normalize
	}
}

// NewEmbedderRecordEncoder creates a dense record encoder. Vectors are unit
// normalised by default so they combine with BM25 weights on a common scale.
func NewEmbedderRecordEncoder(embedder Embedder, opts ...EmbedderRecordEncoderOption) (*EmbedderRecordEncoder, error) {
	if embedder == nil {
		return nil, kberrors.Configuration("embedder is required")
	}
	e := &EmbedderRecordEncoder{
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		normalize: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// EncodeDocuments embeds each chunk's text.
func (e *EmbedderRecordEncoder) EncodeDocuments(ctx context.Context, chunks []models.DocChunk) ([]models.KBEncodedDocChunk, error) {
	return inBatches(ctx, chunks, e.batchSize, func(ctx context.Context, batch []models.DocChunk) ([]models.KBEncodedDocChunk, error) {
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := e.embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		out := make([]models.KBEncodedDocChunk, len(batch))
		for i, c := range batch {
			out[i] = models.KBEncodedDocChunk{DocChunk: c, Values: vectors[i]}
		}
		return out, nil
	})
}

// EncodeQueries embeds each query's text.
func (e *EmbedderRecordEncoder) EncodeQueries(ctx context.Context, queries []models.Query) ([]models.KBQuery, error) {
	return inBatches(ctx, queries, e.batchSize, func(ctx context.Context, batch []models.Query) ([]models.KBQuery, error) {
		texts := make([]string, len(batch))
		for i, q := range batch {
			texts[i] = q.Text
		}
		vectors, err := e.embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		out := make([]models.KBQuery, len(batch))
		for i, q := range batch {
			out[i] = models.KBQuery{Query: q, Values: vectors[i]}
		}
		return out, nil
	})
}

// Dimension returns the embedder's dimension.
func (e *EmbedderRecordEncoder) Dimension() int {
	return e.embedder.Dimension()
}

func (e *EmbedderRecordEncoder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, kberrors.ExternalService(e.embedder.ModelName(), err)
	}
	if len(vectors) != len(texts) {
		return nil, kberrors.Integration("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	if e.normalize {
		for i, v := range vectors {
			vectors[i] = l2Normalize(v)
		}
	}
	return vectors, nil
}

func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// inBatches applies fn to consecutive slices of at most size items and
// concatenates the results. fn must return exactly one result per item.
func inBatches[T, R any](ctx context.Context, items []T, size int, fn func(context.Context, []T) ([]R, error)) ([]R, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([]R, 0, len(items))
	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+size, len(items))
		res, err := fn(ctx, items[start:end])
		if err != nil {
			return nil, err
		}
		if len(res) != end-start {
			return nil, kberrors.Integration("batch [%d:%d] produced %d results", start, end, len(res))
		}
		out = append(out, res...)
	}
	return out, nil
}

var _ RecordEncoder = (*EmbedderRecordEncoder)(nil)
