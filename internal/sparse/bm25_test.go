package sparse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/knoguchi/hybridkb/internal/kberrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() *Profile {
	return &Profile{
		K1:        1.2,
		B:         0.75,
		AvgDocLen: 3,
		NumDocs:   1000,
		DocFreq:   map[string]float64{"common": 900, "rare": 2},
	}
}

func indexOf(t *testing.T, word string) uint32 {
	t.Helper()
	tokens := analyze(word)
	require.Len(t, tokens, 1)
	return tokenIndex(tokens[0])
}

func valueAt(t *testing.T, indices []uint32, values []float32, idx uint32) float32 {
	t.Helper()
	for i, got := range indices {
		if got == idx {
			return values[i]
		}
	}
	t.Fatalf("index %d not present in %v", idx, indices)
	return 0
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"", []string{}},
		{"The Running dogs!", []string{"run", "dog"}},
		{"it is what it is", []string{}},
		{"Dogs, cats.", []string{"dog", "cat"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, analyze(tt.input))
		})
	}
}

func TestBM25_EncodeDocuments(t *testing.T) {
	enc, err := NewBM25Encoder(testProfile())
	require.NoError(t, err)

	vecs, err := enc.EncodeDocuments(context.Background(), []string{"alpha alpha beta", "", "the of and"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// docLen 3 equals avgdl, so the length norm reduces to k1.
	first := vecs[0]
	require.Equal(t, 2, first.Len())
	assert.InDelta(t, 2.0/3.2, valueAt(t, first.Indices, first.Values, indexOf(t, "alpha")), 1e-6)
	assert.InDelta(t, 1.0/2.2, valueAt(t, first.Indices, first.Values, indexOf(t, "beta")), 1e-6)
	assert.Less(t, first.Indices[0], first.Indices[1])

	assert.True(t, vecs[1].IsEmpty())
	assert.True(t, vecs[2].IsEmpty())
}

func TestBM25_EncodeQueries(t *testing.T) {
	enc, err := NewBM25Encoder(testProfile())
	require.NoError(t, err)

	vecs, err := enc.EncodeQueries(context.Background(), []string{"common rare unseen"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)

	q := vecs[0]
	require.Equal(t, 3, q.Len())

	var sum float32
	for _, v := range q.Values {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-5)

	common := valueAt(t, q.Indices, q.Values, indexOf(t, "common"))
	rare := valueAt(t, q.Indices, q.Values, indexOf(t, "rare"))
	unseen := valueAt(t, q.Indices, q.Values, indexOf(t, "unseen"))
	assert.Less(t, common, rare)
	// Unknown terms get df=1, rarer than "rare".
	assert.Less(t, rare, unseen)
}

func TestBM25_CancelledContext(t *testing.T) {
	enc, err := NewBM25Encoder(testProfile())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = enc.EncodeDocuments(ctx, []string{"text"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewBM25Encoder_InvalidProfile(t *testing.T) {
	_, err := NewBM25Encoder(&Profile{NumDocs: 0, AvgDocLen: 1})
	assert.ErrorIs(t, err, kberrors.ErrConfiguration)

	_, err = NewBM25Encoder(&Profile{NumDocs: 10})
	assert.ErrorIs(t, err, kberrors.ErrConfiguration)

	_, err = NewBM25Encoder(nil)
	assert.ErrorIs(t, err, kberrors.ErrConfiguration)
}

func TestNewBM25Encoder_MergesStemmedTerms(t *testing.T) {
	enc, err := NewBM25Encoder(&Profile{
		AvgDocLen: 10,
		NumDocs:   100,
		DocFreq:   map[string]float64{"connect": 3, "connected": 4},
	})
	require.NoError(t, err)
	assert.Equal(t, 7.0, enc.docFreq[indexOf(t, "connection")])
	assert.Equal(t, DefaultK1, enc.k1)
	assert.Equal(t, DefaultB, enc.b)
}

func TestLoadBM25(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "df.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"k1":1.5,"b":0.5,"avgdl":12,"n_docs":40,"doc_freq":{"apple":3}}`), 0o600))

	enc, err := LoadBM25(path)
	require.NoError(t, err)
	assert.Equal(t, 1.5, enc.k1)
	assert.Equal(t, 0.5, enc.b)
	assert.Equal(t, 40.0, enc.nDocs)
	assert.Equal(t, 3.0, enc.docFreq[indexOf(t, "apple")])
}

func TestLoadBM25_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadBM25(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, kberrors.ErrConfiguration)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = LoadBM25(bad)
	assert.ErrorIs(t, err, kberrors.ErrConfiguration)
}

func TestDefaultBM25(t *testing.T) {
	enc, err := DefaultBM25()
	require.NoError(t, err)
	assert.NotEmpty(t, enc.docFreq)

	vecs, err := enc.EncodeQueries(context.Background(), []string{"school history research"})
	require.NoError(t, err)
	assert.Equal(t, 3, vecs[0].Len())
}
