package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knoguchi/hybridkb/internal/kberrors"
)

const (
	// DefaultCohereBaseURL is the Cohere API endpoint.
	DefaultCohereBaseURL = "https://api.cohere.com"

	// DefaultCohereModel is the default rerank model.
	DefaultCohereModel = "rerank-english-v3.0"

	// CohereAPIKeyEnv is consulted when no API key is configured.
	CohereAPIKeyEnv = "CO_API_KEY"

	defaultCohereTimeout = 30 * time.Second
)

// CohereConfig holds configuration for the Cohere reranker.
type CohereConfig struct {
	// APIKey falls back to the CO_API_KEY environment variable.
	APIKey string

	// ModelName is the rerank model (default: rerank-english-v3.0).
	ModelName string

	// NResults is the number of documents kept per query (default: 5).
	NResults int

	// BaseURL overrides the API endpoint.
	BaseURL string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// NewCohereReranker creates a ServiceReranker backed by Cohere's rerank API.
// A missing API key fails here rather than on the first Rerank call.
func NewCohereReranker(cfg CohereConfig) (*ServiceReranker, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(CohereAPIKeyEnv)
	}
	if apiKey == "" {
		return nil, kberrors.Configuration(
			"Cohere API key is required to use the Cohere reranker: pass it explicitly or set %s", CohereAPIKeyEnv)
	}

	model := cfg.ModelName
	if model == "" {
		model = DefaultCohereModel
	}
	nResults := cfg.NResults
	if nResults == 0 {
		nResults = DefaultNResults
	}

	client := NewCohereClient(apiKey, cfg.BaseURL, cfg.HTTPClient)
	return NewServiceReranker(client, model, WithNResults(nResults), WithLogger(cfg.Logger))
}

// CohereClient implements ScoringClient over Cohere's /v1/rerank endpoint.
type CohereClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewCohereClient creates a Cohere rerank client. Empty baseURL and nil
// httpClient select the defaults.
func NewCohereClient(apiKey, baseURL string, httpClient *http.Client) *CohereClient {
	if baseURL == "" {
		baseURL = DefaultCohereBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultCohereTimeout}
	}
	return &CohereClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpClient,
	}
}

type cohereRerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	ReturnDocuments bool     `json:"return_documents"`
}

type cohereRerankResponse struct {
	ID      string `json:"id"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float32 `json:"relevance_score"`
	} `json:"results"`
}

type cohereErrorBody struct {
	Message string `json:"message"`
}

// CohereAPIError is a non-200 response from the Cohere API.
type CohereAPIError struct {
	StatusCode int
	Message    string
}

func (e *CohereAPIError) Error() string {
	return fmt.Sprintf("cohere API error (status %d): %s", e.StatusCode, e.Message)
}

// ProviderMessage returns the message reported by Cohere.
func (e *CohereAPIError) ProviderMessage() string {
	return e.Message
}

// Provider returns "cohere".
func (c *CohereClient) Provider() string {
	return "cohere"
}

// Score sends the documents to Cohere and returns its ranking.
func (c *CohereClient) Score(ctx context.Context, query string, documents []string, model string) ([]RankedIndex, error) {
	payload, err := json.Marshal(cohereRerankRequest{
		Model:     model,
		Query:     query,
		Documents: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call rerank endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(body))
		var eb cohereErrorBody
		if json.Unmarshal(body, &eb) == nil && eb.Message != "" {
			msg = eb.Message
		}
		return nil, &CohereAPIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var parsed cohereRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	ranking := make([]RankedIndex, len(parsed.Results))
	for i, r := range parsed.Results {
		ranking[i] = RankedIndex{Index: r.Index, RelevanceScore: r.RelevanceScore}
	}
	return ranking, nil
}

var _ ScoringClient = (*CohereClient)(nil)
