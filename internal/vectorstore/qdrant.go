package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/knoguchi/hybridkb/internal/models"
)

const (
	// Vector field names for hybrid search
	denseVectorName  = "dense"
	sparseVectorName = "sparse"

	// Reserved payload keys. Everything else in a payload is chunk metadata.
	payloadChunkID    = "chunk_id"
	payloadDocumentID = "document_id"
	payloadText       = "text"
	payloadSource     = "source"
	payloadNamespace  = "namespace"

	// DefaultCandidateFactor multiplies topK to size each first-stage query.
	DefaultCandidateFactor = 4
)

// pointNamespace seeds the UUIDv5 point IDs derived from chunk IDs.
var pointNamespace = uuid.MustParse("6f1c0b1e-3d52-4c1a-9a38-2b7de0c4a5f1")

var reservedPayloadKeys = map[string]bool{
	payloadChunkID:    true,
	payloadDocumentID: true,
	payloadText:       true,
	payloadSource:     true,
	payloadNamespace:  true,
}

// QdrantStore implements VectorStore using a Qdrant collection with named
// "dense" and "sparse" vectors, both scored by dot product.
//
// Qdrant cannot sum the two scores server-side, so Query runs one search per
// vector, completes the missing half of each candidate's score with an ID
// filtered search, and ranks by the exact sum.
type QdrantStore struct {
	client          *qdrant.Client
	collection      string
	candidateFactor int
}

// QdrantOption is a functional option for configuring QdrantStore.
type QdrantOption func(*qdrantSettings)

type qdrantSettings struct {
	apiKey          string
	useTLS          bool
	candidateFactor int
}

// WithQdrantAPIKey authenticates against Qdrant Cloud.
func WithQdrantAPIKey(key string) QdrantOption {
	return func(s *qdrantSettings) {
		s.apiKey = key
		s.useTLS = key != ""
	}
}

// WithCandidateFactor sets how many candidates per requested result each
// first-stage search retrieves.
func WithCandidateFactor(n int) QdrantOption {
	return func(s *qdrantSettings) {
		if n > 0 {
			s.candidateFactor = n
		}
	}
}

// NewQdrantStore creates a new Qdrant vector store client bound to collection.
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantStore(ctx context.Context, url, collection string, opts ...QdrantOption) (*QdrantStore, error) {
	settings := qdrantSettings{candidateFactor: DefaultCandidateFactor}
	for _, opt := range opts {
		opt(&settings)
	}

	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: settings.apiKey,
		UseTLS: settings.useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{
		client:          client,
		collection:      collection,
		candidateFactor: settings.candidateFactor,
	}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// CreateIndex creates the collection with dense and sparse vector support.
func (s *QdrantStore) CreateIndex(ctx context.Context, dimension int) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Dot,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {}, // sparse vectors are always scored by dot product
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", s.collection, err)
	}

	return nil
}

// DeleteIndex deletes the collection.
func (s *QdrantStore) DeleteIndex(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", s.collection, collectionErr(err))
	}
	return nil
}

// IndexExists checks if the collection exists
func (s *QdrantStore) IndexExists(ctx context.Context) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	return exists, nil
}

// Upsert inserts or updates chunks in the collection.
func (s *QdrantStore) Upsert(ctx context.Context, namespace string, chunks []models.KBEncodedDocChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(namespace, chunk.ID)),
			Payload: chunkPayload(namespace, chunk.DocChunk),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vectors{
					Vectors: &qdrant.NamedVectors{
						Vectors: map[string]*qdrant.Vector{
							denseVectorName: {
								Data: chunk.Values,
							},
							sparseVectorName: {
								Indices: &qdrant.SparseIndices{Data: chunk.SparseValues.Indices},
								Data:    chunk.SparseValues.Values,
							},
						},
					},
				},
			},
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", collectionErr(err))
	}

	return nil
}

// Query performs the hybrid search.
func (s *QdrantStore) Query(ctx context.Context, query models.KBQuery, topK int) ([]models.KBDocument, error) {
	if topK <= 0 {
		return []models.KBDocument{}, nil
	}

	filter := queryFilter(query.Query)
	limit := uint64(topK * s.candidateFactor)
	candidates := newCandidateSet()

	dense, err := s.search(ctx, denseVectorName, qdrant.NewQueryDense(query.Values), filter, limit, true)
	if err != nil {
		return nil, err
	}
	for _, point := range dense {
		candidates.addDense(point.Id.GetUuid(), pointDocument(point.Payload), point.Score)
	}

	hasSparse := !query.SparseValues.IsEmpty()
	sparseQuery := qdrant.NewQuerySparse(query.SparseValues.Indices, query.SparseValues.Values)
	if hasSparse {
		sparse, err := s.search(ctx, sparseVectorName, sparseQuery, filter, limit, true)
		if err != nil {
			return nil, err
		}
		for _, point := range sparse {
			candidates.addSparse(point.Id.GetUuid(), pointDocument(point.Payload), point.Score)
		}
	}

	if missing := candidates.missingDense(); len(missing) > 0 {
		points, err := s.search(ctx, denseVectorName, qdrant.NewQueryDense(query.Values),
			idFilter(missing), uint64(len(missing)), false)
		if err != nil {
			return nil, err
		}
		for _, point := range points {
			candidates.setDense(point.Id.GetUuid(), point.Score)
		}
	}

	// Points absent from this search share no terms with the query and keep
	// a sparse score of zero.
	if missing := candidates.missingSparse(); hasSparse && len(missing) > 0 {
		points, err := s.search(ctx, sparseVectorName, sparseQuery,
			idFilter(missing), uint64(len(missing)), false)
		if err != nil {
			return nil, err
		}
		for _, point := range points {
			candidates.setSparse(point.Id.GetUuid(), point.Score)
		}
	}

	return candidates.top(topK), nil
}

func (s *QdrantStore) search(ctx context.Context, using string, query *qdrant.Query, filter *qdrant.Filter, limit uint64, withPayload bool) ([]*qdrant.ScoredPoint, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          query,
		Using:          qdrant.PtrOf(using),
		Filter:         filter,
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(withPayload),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s vectors: %w", using, collectionErr(err))
	}
	return points, nil
}

// DeleteDocuments removes chunks by source document ID.
func (s *QdrantStore) DeleteDocuments(ctx context.Context, namespace string, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: documentFilter(namespace, documentIDs),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by document ID: %w", collectionErr(err))
	}

	return nil
}

// DeleteStaleChunks removes chunks of documentIDs that are not in keepChunkIDs.
func (s *QdrantStore) DeleteStaleChunks(ctx context.Context, namespace string, documentIDs, keepChunkIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: staleFilter(namespace, documentIDs, keepChunkIDs),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete stale chunks: %w", collectionErr(err))
	}
	return nil
}

// pointID maps a chunk ID to a stable UUID; Qdrant only accepts UUIDs and
// integers as point IDs.
func pointID(namespace, chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(namespace+"/"+chunkID)).String()
}

func chunkPayload(namespace string, chunk models.DocChunk) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(chunk.Metadata)+len(reservedPayloadKeys))
	for k, v := range chunk.Metadata {
		if reservedPayloadKeys[k] {
			continue
		}
		payload[k] = qdrant.NewValueString(v)
	}
	payload[payloadChunkID] = qdrant.NewValueString(chunk.ID)
	payload[payloadDocumentID] = qdrant.NewValueString(chunk.DocumentID)
	payload[payloadText] = qdrant.NewValueString(chunk.Text)
	payload[payloadSource] = qdrant.NewValueString(chunk.Source)
	payload[payloadNamespace] = qdrant.NewValueString(namespace)
	return payload
}

func pointDocument(payload map[string]*qdrant.Value) models.KBDocument {
	doc := models.KBDocument{Metadata: make(map[string]string)}
	for k, v := range payload {
		switch k {
		case payloadChunkID:
			doc.ID = v.GetStringValue()
		case payloadDocumentID:
			doc.DocumentID = v.GetStringValue()
		case payloadText:
			doc.Text = v.GetStringValue()
		case payloadSource:
			doc.Source = v.GetStringValue()
		case payloadNamespace:
		default:
			doc.Metadata[k] = v.GetStringValue()
		}
	}
	return doc
}

func queryFilter(q models.Query) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch(payloadNamespace, q.Namespace)}
	for k, v := range q.MetadataFilter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: must}
}

func idFilter(ids []string) *qdrant.Filter {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewHasID(pointIDs...)}}
}

func documentFilter(namespace string, documentIDs []string) *qdrant.Filter {
	should := make([]*qdrant.Condition, len(documentIDs))
	for i, id := range documentIDs {
		should[i] = qdrant.NewMatch(payloadDocumentID, id)
	}
	return &qdrant.Filter{
		Must:   []*qdrant.Condition{qdrant.NewMatch(payloadNamespace, namespace)},
		Should: should,
	}
}

func staleFilter(namespace string, documentIDs, keepChunkIDs []string) *qdrant.Filter {
	f := documentFilter(namespace, documentIDs)
	if len(keepChunkIDs) > 0 {
		keep := make([]*qdrant.PointId, len(keepChunkIDs))
		for i, id := range keepChunkIDs {
			keep[i] = qdrant.NewIDUUID(pointID(namespace, id))
		}
		f.MustNot = []*qdrant.Condition{qdrant.NewHasID(keep...)}
	}
	return f
}

// collectionErr marks Qdrant's NotFound status, returned for operations on
// a missing collection, as ErrIndexNotFound.
func collectionErr(err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %w", ErrIndexNotFound, err)
	}
	return err
}

// Ensure QdrantStore implements VectorStore
var _ VectorStore = (*QdrantStore)(nil)
