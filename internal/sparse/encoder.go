// Package sparse provides lexical (term-frequency) encoders that turn text
// into sparse vectors for hybrid retrieval.
package sparse

import (
	"context"

	"github.com/knoguchi/hybridkb/internal/models"
)

// Encoder defines the interface for sparse text encoders.
type Encoder interface {
	// EncodeDocuments encodes texts being indexed.
	// Returns one vector per input text, in the same order.
	EncodeDocuments(ctx context.Context, texts []string) ([]models.SparseVector, error)

	// EncodeQueries encodes query texts.
	// Returns one vector per input text, in the same order.
	EncodeQueries(ctx context.Context, texts []string) ([]models.SparseVector, error)
}
