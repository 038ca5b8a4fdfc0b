// Package encoder turns document chunks and queries into vector records.
//
// An Embedder is a raw text embedding service. A DenseRecordEncoder wraps an
// Embedder to produce dense records, and HybridRecordEncoder adds a sparse
// (BM25) representation on top of any DenseRecordEncoder.
package encoder

import "context"

// Embedder is a text embedding service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	Dimension() int
	ModelName() string
}

// fallbackDimension is used for models missing from modelDimensions.
const fallbackDimension = 768

var modelDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"bge-m3":                 1024,
	"snowflake-arctic-embed": 1024,
}

// ModelDimension reports the embedding size of a known Ollama model. The
// second result is false for unknown models, which get fallbackDimension.
func ModelDimension(model string) (int, bool) {
	if d, ok := modelDimensions[model]; ok {
		return d, true
	}
	return fallbackDimension, false
}
