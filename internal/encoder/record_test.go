package encoder

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/knoguchi/hybridkb/internal/kberrors"
	"github.com/knoguchi/hybridkb/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder embeds a text as [len(text), 0].
type stubEmbedder struct {
	batches atomic.Int32
	texts   atomic.Int32
	err     error
	short   bool
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.texts.Add(1)
	return []float32{float32(len(text)), 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.batches.Add(1)
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if s.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int    { return 2 }
func (s *stubEmbedder) ModelName() string { return "stub-embed" }

func TestNewEmbedderRecordEncoder_RequiresEmbedder(t *testing.T) {
	_, err := NewEmbedderRecordEncoder(nil)
	assert.ErrorIs(t, err, kberrors.ErrConfiguration)
}

func TestEmbedderRecordEncoder_EncodeDocuments(t *testing.T) {
	emb := &stubEmbedder{}
	enc, err := NewEmbedderRecordEncoder(emb, WithDenseBatchSize(2))
	require.NoError(t, err)

	in := []models.DocChunk{{ID: "a_0", Text: "abc"}, {ID: "a_1", Text: "de"}, {ID: "a_2", Text: "f"}}
	out, err := enc.EncodeDocuments(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int32(2), emb.batches.Load())

	for i, c := range out {
		assert.Equal(t, in[i].ID, c.ID)
		// [n, 0] normalises to [1, 0].
		assert.InDelta(t, 1.0, c.Values[0], 1e-6)
		assert.True(t, c.SparseValues.IsEmpty())
	}
	assert.Equal(t, 2, enc.Dimension())
}

func TestEmbedderRecordEncoder_WithoutNormalize(t *testing.T) {
	enc, err := NewEmbedderRecordEncoder(&stubEmbedder{}, WithNormalize(false))
	require.NoError(t, err)

	out, err := enc.EncodeQueries(context.Background(), []models.Query{{Text: "four"}})
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 0}, out[0].Values)
	assert.Equal(t, "four", out[0].Text)
}

func TestEmbedderRecordEncoder_Errors(t *testing.T) {
	enc, err := NewEmbedderRecordEncoder(&stubEmbedder{err: errors.New("model not loaded")})
	require.NoError(t, err)

	_, err = enc.EncodeQueries(context.Background(), []models.Query{{Text: "x"}})
	var ext *kberrors.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "stub-embed", ext.Provider)
	assert.Contains(t, ext.Message, "model not loaded")

	enc, err = NewEmbedderRecordEncoder(&stubEmbedder{short: true})
	require.NoError(t, err)
	_, err = enc.EncodeDocuments(context.Background(), []models.DocChunk{{ID: "a"}, {ID: "b"}})
	assert.ErrorIs(t, err, kberrors.ErrIntegration)
}

func TestL2Normalize(t *testing.T) {
	v := l2Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	assert.Equal(t, []float32{0, 0}, l2Normalize([]float32{0, 0}))
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embed", r.URL.Path)
		calls.Add(1)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		assert.LessOrEqual(t, len(req.Input), 2)

		resp := embedResponse{Model: req.Model}
		for _, text := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(len(text)), 1})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	emb := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL + "/", Model: "all-minilm", RequestBatch: 2, BatchConcurrency: 2})
	assert.Equal(t, 384, emb.Dimension())
	assert.Equal(t, "all-minilm", emb.ModelName())

	texts := []string{"a", "bbb", "cc", "dddd", "eeeee"}
	vectors, err := emb.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, v := range vectors {
		assert.Equal(t, float32(len(texts[i])), v[0])
	}
	assert.Equal(t, int32(3), calls.Load())

	empty, err := emb.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2}}})
	}))
	defer server.Close()

	emb := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL})
	_, err := emb.EmbedBatch(context.Background(), []string{"x", "y"})
	assert.Error(t, err)
}

func TestModelDimension(t *testing.T) {
	d, ok := ModelDimension("mxbai-embed-large")
	assert.True(t, ok)
	assert.Equal(t, 1024, d)

	d, ok = ModelDimension("unknown")
	assert.False(t, ok)
	assert.Equal(t, fallbackDimension, d)
}

func TestOllamaEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`model "missing" not found`))
	}))
	defer server.Close()

	emb := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Model: "missing", Dimension: 8})
	assert.Equal(t, 8, emb.Dimension())

	_, err := emb.EmbedBatch(context.Background(), []string{"x", "y"})
	require.Error(t, err)

	var oe *OllamaError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, http.StatusNotFound, oe.StatusCode)

	enc, err := NewEmbedderRecordEncoder(emb)
	require.NoError(t, err)
	_, err = enc.EncodeQueries(context.Background(), []models.Query{{Text: "x"}})
	var ext *kberrors.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.True(t, strings.Contains(ext.Message, "not found"))
}

func TestCachedEmbedder(t *testing.T) {
	inner := &stubEmbedder{}
	cached, err := NewCachedEmbedder(inner, 8)
	require.NoError(t, err)

	first, err := cached.EmbedBatch(context.Background(), []string{"one", "three"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.texts.Load())

	second, err := cached.EmbedBatch(context.Background(), []string{"three", "four", "one"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), inner.texts.Load(), "only the miss is fetched")
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, float32(4), second[1][0])

	// Callers mutating a result must not corrupt the cache.
	second[0][0] = -1
	v, err := cached.Embed(context.Background(), "three")
	require.NoError(t, err)
	assert.Equal(t, float32(5), v[0])
	assert.Equal(t, int32(3), inner.texts.Load())

	assert.Equal(t, 2, cached.Dimension())
	assert.Equal(t, "stub-embed", cached.ModelName())
}

func TestNewCachedEmbedder_InvalidSize(t *testing.T) {
	_, err := NewCachedEmbedder(&stubEmbedder{}, 0)
	assert.Error(t, err)
}
