package vectorstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/knoguchi/hybridkb/internal/models"
)

func TestCandidateSet_SumsBothScores(t *testing.T) {
	c := newCandidateSet()
	c.addDense("a", models.KBDocument{ID: "a_0"}, 0.5)
	c.addDense("b", models.KBDocument{ID: "b_0"}, 0.4)
	c.addSparse("b", models.KBDocument{ID: "b_0"}, 0.3)
	c.addSparse("c", models.KBDocument{ID: "c_0"}, 0.9)

	assert.Equal(t, []string{"c"}, c.missingDense())
	assert.Equal(t, []string{"a"}, c.missingSparse())

	c.setDense("c", 0.1)
	c.setDense("unknown", 5)

	docs := c.top(10)
	require.Len(t, docs, 3)
	assert.Equal(t, "c_0", docs[0].ID)
	assert.InDelta(t, 1.0, docs[0].Score, 1e-6)
	assert.Equal(t, "b_0", docs[1].ID)
	assert.InDelta(t, 0.7, docs[1].Score, 1e-6)
	assert.Equal(t, "a_0", docs[2].ID)
	assert.InDelta(t, 0.5, docs[2].Score, 1e-6)

	assert.Len(t, c.top(2), 2)
}

func TestSortByScore_TiesByID(t *testing.T) {
	docs := []models.KBDocument{{ID: "b", Score: 1}, {ID: "a", Score: 1}, {ID: "c", Score: 2}}
	sortByScore(docs)
	assert.Equal(t, "c", docs[0].ID)
	assert.Equal(t, "a", docs[1].ID)
	assert.Equal(t, "b", docs[2].ID)
}

func TestPointID(t *testing.T) {
	id := pointID("ns", "doc1_0")
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	assert.Equal(t, id, pointID("ns", "doc1_0"))
	assert.NotEqual(t, id, pointID("other", "doc1_0"))
	assert.NotEqual(t, id, pointID("ns", "doc1_1"))
}

func TestPayloadRoundTrip(t *testing.T) {
	chunk := models.DocChunk{
		ID:         "doc1_0",
		DocumentID: "doc1",
		Text:       "hello world",
		Source:     "https://example.com",
		Metadata:   map[string]string{"lang": "en", "text": "shadowed"},
	}

	payload := chunkPayload("ns", chunk)
	assert.Equal(t, "ns", payload[payloadNamespace].GetStringValue())
	assert.Equal(t, "hello world", payload[payloadText].GetStringValue())

	doc := pointDocument(payload)
	assert.Equal(t, "doc1_0", doc.ID)
	assert.Equal(t, "doc1", doc.DocumentID)
	assert.Equal(t, "hello world", doc.Text)
	assert.Equal(t, "https://example.com", doc.Source)
	assert.Equal(t, map[string]string{"lang": "en"}, doc.Metadata)
}

func TestQueryFilter(t *testing.T) {
	f := queryFilter(models.Query{Namespace: "ns", MetadataFilter: map[string]string{"lang": "en"}})
	assert.Len(t, f.Must, 2)

	f = documentFilter("ns", []string{"a", "b"})
	assert.Len(t, f.Must, 1)
	assert.Len(t, f.Should, 2)

	f = idFilter([]string{pointID("ns", "x")})
	assert.Len(t, f.Must, 1)
}

func TestMissingIndexErrors(t *testing.T) {
	err := collectionErr(status.Error(codes.NotFound, "Collection `kb` doesn't exist!"))
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.NotErrorIs(t, collectionErr(status.Error(codes.Unavailable, "down")), ErrIndexNotFound)

	err = tableErr(&pgconn.PgError{Code: undefinedTable, Message: `relation "kb" does not exist`})
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.NotErrorIs(t, tableErr(&pgconn.PgError{Code: "23505"}), ErrIndexNotFound)
}

func TestStaleFilter(t *testing.T) {
	f := staleFilter("ns", []string{"a"}, []string{"a_0", "a_1"})
	assert.Len(t, f.Must, 1)
	assert.Len(t, f.Should, 1)
	require.Len(t, f.MustNot, 1)

	ids := f.MustNot[0].GetHasId().GetHasId()
	require.Len(t, ids, 2)
	assert.Equal(t, pointID("ns", "a_0"), ids[0].GetUuid())

	f = staleFilter("ns", []string{"a"}, nil)
	assert.Empty(t, f.MustNot)
}

func TestToSparsevec(t *testing.T) {
	v := toSparsevec(models.SparseVector{Indices: []uint32{7, 3}, Values: []float32{0.5, 0.25}})
	assert.Equal(t, int32(models.SparseDimension), v.Dimensions())
	assert.Equal(t, []int32{3, 7}, v.Indices())
	assert.Equal(t, []float32{0.25, 0.5}, v.Values())

	empty := toSparsevec(models.SparseVector{})
	assert.Empty(t, empty.Indices())
}

func TestSQLBuilders(t *testing.T) {
	create := createTableSQL("kb chunks", 768)
	assert.Contains(t, create, `"kb chunks"`)
	assert.Contains(t, create, "vector(768)")
	assert.Contains(t, create, "sparsevec(536870912)")

	assert.Contains(t, upsertSQL("kb"), "ON CONFLICT (namespace, id)")

	q := querySQL("kb")
	assert.Contains(t, q, "embedding <#> $1")
	assert.Contains(t, q, "sparse_embedding <#> $2")
	assert.Contains(t, q, "ORDER BY score DESC")

	assert.Contains(t, deleteStaleSQL("kb"), "NOT (id = ANY($3))")
}
