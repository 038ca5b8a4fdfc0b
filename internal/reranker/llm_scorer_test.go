package reranker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/hybridkb/internal/kberrors"
	"github.com/knoguchi/hybridkb/internal/llm"
	"github.com/knoguchi/hybridkb/internal/models"
)

type fakeLLM struct {
	response string
	err      error
	opts     llm.GenerateOptions
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.opts = opts
	return f.response, f.err
}

func TestParseScores(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     []float32
	}{
		{
			name:     "plain json",
			response: `{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}]}`,
			want:     []float32{0.9, 0.3},
		},
		{
			name:     "fenced json",
			response: "```json\n{\"scores\": [{\"doc_index\": 1, \"score\": 0.7}]}\n```",
			want:     []float32{0, 0.7},
		},
		{
			name:     "clamped and out of range ignored",
			response: `{"scores": [{"doc_index": 0, "score": 1.5}, {"doc_index": 1, "score": -2}, {"doc_index": 9, "score": 1}]}`,
			want:     []float32{1, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScores(tt.response, 2)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, got, 1e-6)
		})
	}

	_, err := parseScores("not json", 2)
	assert.Error(t, err)
}

func TestLLMReranker_Rerank(t *testing.T) {
	client := &fakeLLM{response: `{"scores": [{"doc_index": 0, "score": 0.1}, {"doc_index": 1, "score": 0.8}, {"doc_index": 2, "score": 0.5}]}`}
	r, err := NewLLMReranker(client, "llama3.2", WithNResults(2))
	require.NoError(t, err)

	out, err := r.Rerank(context.Background(), []models.KBQueryResult{makeResult(3)})
	require.NoError(t, err)
	require.Len(t, out[0].Documents, 2)
	assert.Equal(t, "doc1_0", out[0].Documents[0].ID)
	assert.Equal(t, "doc2_0", out[0].Documents[1].ID)
	assert.InDelta(t, 0.8, out[0].Documents[0].Score, 1e-6)

	assert.True(t, client.opts.JSON)
	assert.Equal(t, "llama3.2", client.opts.Model)
}

func TestLLMReranker_GenerateError(t *testing.T) {
	r, err := NewLLMReranker(&fakeLLM{err: errors.New("connection refused")}, "llama3.2")
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), []models.KBQueryResult{makeResult(2)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, kberrors.ErrExternalService))
	assert.Contains(t, err.Error(), "llm request failed")
}

func TestNewLLMReranker_NilClient(t *testing.T) {
	_, err := NewLLMReranker(nil, "m")
	assert.True(t, errors.Is(err, kberrors.ErrConfiguration))
}

func TestBuildScorePrompt_TruncatesDocuments(t *testing.T) {
	long := make([]byte, maxDocChars+100)
	for i := range long {
		long[i] = 'a'
	}
	prompt := buildScorePrompt("q", []string{string(long)})
	assert.Contains(t, prompt, "[Doc 0]: ")
	assert.NotContains(t, prompt, string(long))
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"日本語のテキスト", 3, "日本語..."},
		{"héllo", 2, "hé..."},
	}
	for _, tt := range tests {
		got := truncateRunes(tt.in, tt.n)
		assert.Equal(t, tt.want, got)
		assert.True(t, utf8.ValidString(got))
	}

	multibyte := strings.Repeat("é", maxDocChars+10)
	prompt := buildScorePrompt("q", []string{multibyte})
	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, strings.Repeat("é", maxDocChars)+"...")
}
