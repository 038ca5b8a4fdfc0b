// Package vectorstore provides interfaces and implementations for hybrid
// dense + sparse similarity search.
//
// Stores score a chunk against a query as the sum of two inner products:
//
//	score = dense(chunk)·dense(query) + sparse(chunk)·sparse(query)
//
// The query vectors are already weighted by the hybrid encoder, so the store
// must not normalise or fuse the two scores in any other way.
package vectorstore

import (
	"context"
	"errors"
	"sort"

	"github.com/knoguchi/hybridkb/internal/models"
)

// ErrIndexNotFound is returned when the index has not been created yet.
var ErrIndexNotFound = errors.New("index not found, create it first")

// VectorStore defines the interface for vector storage operations. A store
// is bound to one index; namespaces partition the index.
type VectorStore interface {
	// CreateIndex creates the index with the given dense dimension. The sparse
	// dimension is models.SparseDimension.
	CreateIndex(ctx context.Context, dimension int) error

	// DeleteIndex drops the index and everything in it.
	DeleteIndex(ctx context.Context) error

	// IndexExists reports whether the index has been created.
	IndexExists(ctx context.Context) (bool, error)

	// Upsert inserts or replaces chunks by chunk ID within namespace.
	Upsert(ctx context.Context, namespace string, chunks []models.KBEncodedDocChunk) error

	// Query returns up to topK chunks ordered by descending hybrid score,
	// restricted to the query's namespace and metadata filter.
	Query(ctx context.Context, query models.KBQuery, topK int) ([]models.KBDocument, error)

	// DeleteDocuments removes every chunk of the given source documents.
	DeleteDocuments(ctx context.Context, namespace string, documentIDs []string) error

	// DeleteStaleChunks removes chunks of the given documents whose chunk IDs
	// are not in keepChunkIDs.
	DeleteStaleChunks(ctx context.Context, namespace string, documentIDs, keepChunkIDs []string) error

	Close() error
}

// sortByScore orders documents by descending score, breaking ties by ID so
// results are stable across calls.
func sortByScore(docs []models.KBDocument) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
}
