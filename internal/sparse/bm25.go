package sparse

import (
	"context"
	"math"
	"sort"

	"github.com/knoguchi/hybridkb/internal/models"
)

const (
	// DefaultK1 is the BM25 term-frequency saturation parameter.
	DefaultK1 = 1.2

	// DefaultB is the BM25 document-length normalisation parameter.
	DefaultB = 0.75
)

// BM25Encoder encodes documents with saturated term frequencies and queries
// with normalised inverse document frequencies, so that the dot product of a
// query and a document vector is a BM25 score.
type BM25Encoder struct {
	k1      float64
	b       float64
	avgdl   float64
	nDocs   float64
	docFreq map[uint32]float64
}

// NewBM25Encoder creates an encoder from a document-frequency profile.
func NewBM25Encoder(p *Profile) (*BM25Encoder, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	k1, b := p.K1, p.B
	if k1 <= 0 {
		k1 = DefaultK1
	}
	if b <= 0 {
		b = DefaultB
	}

	// Several raw terms can stem to the same token.
	docFreq := make(map[uint32]float64, len(p.DocFreq))
	for term, df := range p.DocFreq {
		for _, token := range analyze(term) {
			docFreq[tokenIndex(token)] += df
		}
	}

	return &BM25Encoder{
		k1:      k1,
		b:       b,
		avgdl:   p.AvgDocLen,
		nDocs:   float64(p.NumDocs),
		docFreq: docFreq,
	}, nil
}

// EncodeDocuments encodes each text as BM25-saturated term frequencies.
func (e *BM25Encoder) EncodeDocuments(ctx context.Context, texts []string) ([]models.SparseVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]models.SparseVector, len(texts))
	for i, text := range texts {
		out[i] = e.encodeDocument(text)
	}
	return out, nil
}

// EncodeQueries encodes each text as IDF weights normalised to sum to one.
func (e *BM25Encoder) EncodeQueries(ctx context.Context, texts []string) ([]models.SparseVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]models.SparseVector, len(texts))
	for i, text := range texts {
		out[i] = e.encodeQuery(text)
	}
	return out, nil
}

func (e *BM25Encoder) encodeDocument(text string) models.SparseVector {
	tf := termFrequencies(analyze(text))
	if len(tf) == 0 {
		return models.SparseVector{}
	}

	var docLen float64
	for _, n := range tf {
		docLen += n
	}

	norm := e.k1 * (1 - e.b + e.b*(docLen/e.avgdl))
	weights := make(map[uint32]float64, len(tf))
	for idx, n := range tf {
		weights[idx] = n / (n + norm)
	}
	return toSparseVector(weights)
}

func (e *BM25Encoder) encodeQuery(text string) models.SparseVector {
	tf := termFrequencies(analyze(text))
	if len(tf) == 0 {
		return models.SparseVector{}
	}

	weights := make(map[uint32]float64, len(tf))
	var total float64
	for idx := range tf {
		df, ok := e.docFreq[idx]
		if !ok {
			df = 1
		}
		idf := math.Log((e.nDocs + 1) / (df + 0.5))
		weights[idx] = idf
		total += idf
	}
	if total != 0 {
		for idx := range weights {
			weights[idx] /= total
		}
	}
	return toSparseVector(weights)
}

func termFrequencies(tokens []string) map[uint32]float64 {
	tf := make(map[uint32]float64, len(tokens))
	for _, t := range tokens {
		tf[tokenIndex(t)]++
	}
	return tf
}

// toSparseVector emits entries sorted by index.
func toSparseVector(weights map[uint32]float64) models.SparseVector {
	indices := make([]uint32, 0, len(weights))
	for idx := range weights {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		values[i] = float32(weights[idx])
	}
	return models.SparseVector{Indices: indices, Values: values}
}

// Ensure BM25Encoder implements Encoder interface.
var _ Encoder = (*BM25Encoder)(nil)
