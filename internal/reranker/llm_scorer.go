package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/knoguchi/hybridkb/internal/kberrors"
	"github.com/knoguchi/hybridkb/internal/llm"
)

// maxDocChars caps each document in the scoring prompt, in runes.
const maxDocChars = 500

// LLMScorer scores query-document pairs with a generative model. The model
// sees the query and all documents together, a cross-encoder-like setup.
type LLMScorer struct {
	llmClient llm.LLM
}

// NewLLMScorer creates a ScoringClient backed by llmClient.
func NewLLMScorer(llmClient llm.LLM) *LLMScorer {
	return &LLMScorer{llmClient: llmClient}
}

// NewLLMReranker creates a ServiceReranker that scores with an LLM.
func NewLLMReranker(llmClient llm.LLM, model string, opts ...ServiceRerankerOption) (*ServiceReranker, error) {
	if llmClient == nil {
		return nil, kberrors.Configuration("llm client is required")
	}
	return NewServiceReranker(NewLLMScorer(llmClient), model, opts...)
}

type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float32 `json:"score"`
}

type scoreResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Provider returns "llm".
func (s *LLMScorer) Provider() string {
	return "llm"
}

// Score asks the model for a 0..1 relevance score per document. Documents
// the model leaves out are ranked last with score 0.
func (s *LLMScorer) Score(ctx context.Context, query string, documents []string, model string) ([]RankedIndex, error) {
	response, err := s.llmClient.Generate(ctx, buildScorePrompt(query, documents), llm.GenerateOptions{
		Model:       model,
		Temperature: 0.0,
		MaxTokens:   1024,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	scores, err := parseScores(response, len(documents))
	if err != nil {
		return nil, err
	}

	ranking := make([]RankedIndex, len(documents))
	for i, score := range scores {
		ranking[i] = RankedIndex{Index: i, RelevanceScore: score}
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].RelevanceScore > ranking[j].RelevanceScore
	})
	return ranking, nil
}

func buildScorePrompt(query string, documents []string) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nDocuments to score:\n")
	for i, doc := range documents {
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, truncateRunes(doc, maxDocChars))
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant documents should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseScores extracts per-document scores, tolerating markdown fences
// around the JSON. Scores are clamped to [0, 1].
// truncateRunes cuts s to at most n runes, appending "..." when it cuts.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}

func parseScores(response string, numDocs int) ([]float32, error) {
	response = strings.TrimSpace(response)
	if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if strings.HasPrefix(response[start:], "json") {
			start += len("json")
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}

	var parsed scoreResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse score response: %w", err)
	}

	scores := make([]float32, numDocs)
	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= numDocs {
			continue
		}
		scores[s.DocIndex] = min(max(s.Score, 0), 1)
	}
	return scores, nil
}

var _ ScoringClient = (*LLMScorer)(nil)
