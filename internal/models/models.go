// Package models defines the records that flow through the knowledge base:
// source documents, chunks, encoded chunks, queries and query results.
package models

import "maps"

// SparseDimension bounds sparse vector indices to [0, SparseDimension).
// It stays below pgvector's sparsevec dimension limit.
const SparseDimension = 1 << 29

// SparseVector represents a sparse vector with indices and values
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Len returns the number of non-zero entries.
func (v SparseVector) Len() int {
	return len(v.Indices)
}

// IsEmpty reports whether the vector has no entries.
func (v SparseVector) IsEmpty() bool {
	return len(v.Indices) == 0
}

// Clone returns a copy that shares no backing arrays with v.
func (v SparseVector) Clone() SparseVector {
	return SparseVector{
		Indices: append([]uint32(nil), v.Indices...),
		Values:  append([]float32(nil), v.Values...),
	}
}

// Document is a source document submitted for ingestion.
type Document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Source   string            `json:"source,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DocChunk is a unit of source text produced by the chunker.
type DocChunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Source     string            `json:"source,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// KBEncodedDocChunk is a chunk with its dense and sparse representations.
type KBEncodedDocChunk struct {
	DocChunk
	Values       []float32    `json:"values"`
	SparseValues SparseVector `json:"sparse_values"`
}

// Query is a retrieval request.
type Query struct {
	Text           string            `json:"text"`
	Namespace      string            `json:"namespace,omitempty"`
	MetadataFilter map[string]string `json:"metadata_filter,omitempty"`
	// TopK overrides the knowledge base default when positive.
	TopK int `json:"top_k,omitempty"`
}

// KBQuery is a Query with its encoded vectors. For hybrid queries Values and
// SparseValues are scaled together and must not be rescaled independently.
type KBQuery struct {
	Query
	Values       []float32    `json:"values"`
	SparseValues SparseVector `json:"sparse_values"`
}

// KBDocument is a retrieval candidate with its relevance score.
type KBDocument struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Source     string            `json:"source,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Score      float32           `json:"score"`
}

// Clone returns a deep copy of the document.
func (d KBDocument) Clone() KBDocument {
	c := d
	if d.Metadata != nil {
		c.Metadata = maps.Clone(d.Metadata)
	}
	return c
}

// KBQueryResult pairs a query text with its ordered candidates.
type KBQueryResult struct {
	Query     string       `json:"query"`
	Documents []KBDocument `json:"documents"`
}
