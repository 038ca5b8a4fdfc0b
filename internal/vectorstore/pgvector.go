package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/knoguchi/hybridkb/internal/models"
)

// PGVectorStore implements VectorStore on PostgreSQL with the pgvector
// extension. Each chunk row holds a vector and a sparsevec column, and Query
// ranks by the exact sum of both inner products.
type PGVectorStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPGVectorStore creates a connection pool with pgvector types registered
// and binds the store to table.
func NewPGVectorStore(ctx context.Context, databaseURL, table string) (*PGVectorStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	config.MaxConnIdleTime = 30 * time.Minute

	// Register pgvector types. The extension must exist before the first
	// connection, so the store creates it on a plain connection first.
	if err := ensureExtension(ctx, config.ConnConfig); err != nil {
		return nil, err
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PGVectorStore{pool: pool, table: table}, nil
}

func ensureExtension(ctx context.Context, connConfig *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGVectorStore) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// CreateIndex creates the chunk table and its lookup index.
func (s *PGVectorStore) CreateIndex(ctx context.Context, dimension int) error {
	if _, err := s.pool.Exec(ctx, createTableSQL(s.table, dimension)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// DeleteIndex drops the chunk table.
func (s *PGVectorStore) DeleteIndex(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+s.ident()); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", s.table, err)
	}
	return nil
}

// IndexExists checks whether the chunk table exists.
func (s *PGVectorStore) IndexExists(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", s.ident()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return exists, nil
}

// Upsert inserts or replaces chunks in a single batch.
func (s *PGVectorStore) Upsert(ctx context.Context, namespace string, chunks []models.KBEncodedDocChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	query := upsertSQL(s.table)
	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		metadata := chunk.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		batch.Queue(query,
			namespace,
			chunk.ID,
			chunk.DocumentID,
			chunk.Text,
			chunk.Source,
			metadata,
			pgvector.NewVector(chunk.Values),
			toSparsevec(chunk.SparseValues),
		)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", tableErr(err))
	}
	return nil
}

// Query ranks chunks by dense·q_dense + sparse·q_sparse. pgvector's <#>
// operator returns the negated inner product.
func (s *PGVectorStore) Query(ctx context.Context, query models.KBQuery, topK int) ([]models.KBDocument, error) {
	if topK <= 0 {
		return []models.KBDocument{}, nil
	}

	filter := query.MetadataFilter
	if filter == nil {
		filter = map[string]string{}
	}

	rows, err := s.pool.Query(ctx, querySQL(s.table),
		pgvector.NewVector(query.Values),
		toSparsevec(query.SparseValues),
		query.Namespace,
		filter,
		topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", tableErr(err))
	}
	defer rows.Close()

	docs := make([]models.KBDocument, 0, topK)
	for rows.Next() {
		var doc models.KBDocument
		if err := rows.Scan(&doc.ID, &doc.DocumentID, &doc.Text, &doc.Source, &doc.Metadata, &doc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}

	return docs, nil
}

// DeleteDocuments removes chunks by source document ID.
func (s *PGVectorStore) DeleteDocuments(ctx context.Context, namespace string, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		"DELETE FROM "+s.ident()+" WHERE namespace = $1 AND document_id = ANY($2)",
		namespace, documentIDs)
	if err != nil {
		return fmt.Errorf("failed to delete by document ID: %w", tableErr(err))
	}
	return nil
}

// DeleteStaleChunks removes chunks of documentIDs that are not in keepChunkIDs.
func (s *PGVectorStore) DeleteStaleChunks(ctx context.Context, namespace string, documentIDs, keepChunkIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	if keepChunkIDs == nil {
		keepChunkIDs = []string{}
	}

	if _, err := s.pool.Exec(ctx, deleteStaleSQL(s.table), namespace, documentIDs, keepChunkIDs); err != nil {
		return fmt.Errorf("failed to delete stale chunks: %w", tableErr(err))
	}
	return nil
}

// undefinedTable is the PostgreSQL SQLSTATE for a missing relation.
const undefinedTable = "42P01"

func tableErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %w", ErrIndexNotFound, err)
	}
	return err
}

func toSparsevec(v models.SparseVector) pgvector.SparseVector {
	elements := make(map[int32]float32, v.Len())
	for i, idx := range v.Indices {
		elements[int32(idx)] = v.Values[i]
	}
	return pgvector.NewSparseVectorFromMap(elements, models.SparseDimension)
}

func createTableSQL(table string, dimension int) string {
	ident := pgx.Identifier{table}.Sanitize()
	docIndex := pgx.Identifier{table + "_document_idx"}.Sanitize()
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	namespace TEXT NOT NULL DEFAULT '',
	id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	text TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	embedding vector(%d) NOT NULL,
	sparse_embedding sparsevec(%d) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, id)
);
CREATE INDEX IF NOT EXISTS %s ON %s (namespace, document_id);`,
		ident, dimension, models.SparseDimension, docIndex, ident)
}

func upsertSQL(table string) string {
	return fmt.Sprintf(`INSERT INTO %s
	(namespace, id, document_id, text, source, metadata, embedding, sparse_embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (namespace, id) DO UPDATE SET
	document_id = EXCLUDED.document_id,
	text = EXCLUDED.text,
	source = EXCLUDED.source,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding,
	sparse_embedding = EXCLUDED.sparse_embedding,
	updated_at = now()`, pgx.Identifier{table}.Sanitize())
}

func querySQL(table string) string {
	return fmt.Sprintf(`SELECT id, document_id, text, source, metadata,
	((embedding <#> $1) * -1 + (sparse_embedding <#> $2) * -1)::real AS score
FROM %s
WHERE namespace = $3 AND metadata @> $4::jsonb
ORDER BY score DESC, id
LIMIT $5`, pgx.Identifier{table}.Sanitize())
}

func deleteStaleSQL(table string) string {
	return fmt.Sprintf(`DELETE FROM %s
WHERE namespace = $1 AND document_id = ANY($2) AND NOT (id = ANY($3))`, pgx.Identifier{table}.Sanitize())
}

// Ensure PGVectorStore implements VectorStore
var _ VectorStore = (*PGVectorStore)(nil)
