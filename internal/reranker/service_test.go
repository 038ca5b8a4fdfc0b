package reranker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/hybridkb/internal/kberrors"
	"github.com/knoguchi/hybridkb/internal/models"
)

type fakeScorer struct {
	ranking []RankedIndex
	err     error
	calls   int
}

func (f *fakeScorer) Score(ctx context.Context, query string, documents []string, model string) ([]RankedIndex, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ranking, nil
}

func (f *fakeScorer) Provider() string { return "fake" }

func makeResult(n int) models.KBQueryResult {
	docs := make([]models.KBDocument, n)
	for i := range docs {
		docs[i] = models.KBDocument{
			ID:       fmt.Sprintf("doc%d_0", i),
			Text:     fmt.Sprintf("document %d", i),
			Score:    0.1,
			Metadata: map[string]string{"pos": strconv.Itoa(i)},
		}
	}
	return models.KBQueryResult{Query: "what is hybrid search", Documents: docs}
}

func cohereServer(t *testing.T, handler func(req cohereRerankRequest) (int, any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rerank", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req cohereRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestCohereReranker_TruncatesAndReorders(t *testing.T) {
	server := cohereServer(t, func(req cohereRerankRequest) (int, any) {
		assert.Equal(t, "rerank-english-v3.0", req.Model)
		assert.Len(t, req.Documents, 10)
		assert.False(t, req.ReturnDocuments)

		results := make([]map[string]any, 0, len(req.Documents))
		for i := len(req.Documents) - 1; i >= 0; i-- {
			results = append(results, map[string]any{
				"index":           i,
				"relevance_score": float32(i) / 10,
			})
		}
		return http.StatusOK, map[string]any{"id": "r1", "results": results}
	})
	defer server.Close()

	r, err := NewCohereReranker(CohereConfig{APIKey: "test-key", NResults: 3, BaseURL: server.URL})
	require.NoError(t, err)

	input := []models.KBQueryResult{makeResult(10)}
	out, err := r.Rerank(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, input[0].Query, out[0].Query)

	docs := out[0].Documents
	require.Len(t, docs, 3)
	assert.Equal(t, "doc9_0", docs[0].ID)
	assert.Equal(t, "doc8_0", docs[1].ID)
	assert.Equal(t, "doc7_0", docs[2].ID)
	assert.InDelta(t, 0.9, docs[0].Score, 1e-6)

	// Output documents are copies.
	docs[0].Text = "changed"
	docs[0].Metadata["pos"] = "-1"
	assert.Equal(t, "document 9", input[0].Documents[9].Text)
	assert.Equal(t, "9", input[0].Documents[9].Metadata["pos"])
	assert.InDelta(t, 0.1, input[0].Documents[9].Score, 1e-6)
}

func TestCohereReranker_ServiceErrorCarriesProviderMessage(t *testing.T) {
	server := cohereServer(t, func(req cohereRerankRequest) (int, any) {
		return http.StatusTooManyRequests, map[string]any{"message": "rate limit exceeded"}
	})
	defer server.Close()

	r, err := NewCohereReranker(CohereConfig{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	out, err := r.Rerank(context.Background(), []models.KBQueryResult{makeResult(4)})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, kberrors.ErrExternalService))

	var ext *kberrors.ExternalServiceError
	require.True(t, errors.As(err, &ext))
	assert.Equal(t, "cohere", ext.Provider)
	assert.Equal(t, "rate limit exceeded", ext.Message)

	var apiErr *CohereAPIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestNewCohereReranker_MissingKey(t *testing.T) {
	t.Setenv(CohereAPIKeyEnv, "")

	_, err := NewCohereReranker(CohereConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, kberrors.ErrConfiguration))
	assert.Contains(t, err.Error(), CohereAPIKeyEnv)
}

func TestNewCohereReranker_KeyFromEnv(t *testing.T) {
	t.Setenv(CohereAPIKeyEnv, "env-key")

	r, err := NewCohereReranker(CohereConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCohereModel, r.ModelName())
}

func TestServiceReranker_InvalidIndex(t *testing.T) {
	scorer := &fakeScorer{ranking: []RankedIndex{{Index: 0, RelevanceScore: 0.9}, {Index: 7, RelevanceScore: 0.5}}}
	r, err := NewServiceReranker(scorer, "m")
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), []models.KBQueryResult{makeResult(2)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, kberrors.ErrIntegration))
}

func TestServiceReranker_EmptyDocumentsSkipService(t *testing.T) {
	scorer := &fakeScorer{}
	r, err := NewServiceReranker(scorer, "m")
	require.NoError(t, err)

	out, err := r.Rerank(context.Background(), []models.KBQueryResult{{Query: "q"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "q", out[0].Query)
	assert.Empty(t, out[0].Documents)
	assert.Equal(t, 0, scorer.calls)
}

func TestServiceReranker_FailureStopsAllQueries(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("boom")}
	r, err := NewServiceReranker(scorer, "m")
	require.NoError(t, err)

	out, err := r.Rerank(context.Background(), []models.KBQueryResult{makeResult(3), makeResult(3)})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 1, scorer.calls)

	var ext *kberrors.ExternalServiceError
	require.True(t, errors.As(err, &ext))
	assert.Equal(t, "fake", ext.Provider)
	assert.Equal(t, "boom", ext.Message)
}

func TestServiceReranker_FewerDocsThanNResults(t *testing.T) {
	scorer := &fakeScorer{ranking: []RankedIndex{{Index: 1, RelevanceScore: 0.8}, {Index: 0, RelevanceScore: 0.2}}}
	r, err := NewServiceReranker(scorer, "m", WithNResults(5))
	require.NoError(t, err)

	out, err := r.Rerank(context.Background(), []models.KBQueryResult{makeResult(2)})
	require.NoError(t, err)
	require.Len(t, out[0].Documents, 2)
	assert.Equal(t, "doc1_0", out[0].Documents[0].ID)
}

func TestNewServiceReranker_Validation(t *testing.T) {
	_, err := NewServiceReranker(nil, "m")
	assert.True(t, errors.Is(err, kberrors.ErrConfiguration))

	_, err = NewServiceReranker(&fakeScorer{}, "m", WithNResults(0))
	assert.True(t, errors.Is(err, kberrors.ErrConfiguration))
}

func TestRerankAsync_Unsupported(t *testing.T) {
	r, err := NewServiceReranker(&fakeScorer{}, "m")
	require.NoError(t, err)

	_, err = r.RerankAsync(context.Background(), nil)
	assert.True(t, errors.Is(err, kberrors.ErrUnsupported))

	_, err = TransparentReranker{}.RerankAsync(context.Background(), nil)
	assert.True(t, errors.Is(err, kberrors.ErrUnsupported))
}

func TestTransparentReranker(t *testing.T) {
	input := []models.KBQueryResult{makeResult(3)}
	out, err := TransparentReranker{}.Rerank(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, input, out)
}
