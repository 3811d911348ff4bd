// Package semantic owns all Qdrant operations: collection lifecycle,
// batched point upserts for ingested chunks, and dense similarity search.
package semantic

import (
	"context"
	"fmt"
	"log/slog"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/StratumAI/stratum-mvp/engine/domain"
	"github.com/StratumAI/stratum-mvp/pkg/fn"
)

// DefaultUpsertBatch bounds how many points go into one upsert RPC.
const DefaultUpsertBatch = 200

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of the dense index.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dims        int
	batchSize   int
	log         *slog.Logger
}

// UpsertStats reports what a batched upsert accomplished.
type UpsertStats struct {
	PointsUpserted int `json:"points_upserted"`
	Batches        int `json:"batches"`
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
// dims is the collection's fixed vector dimension; every record is checked
// against it before upsert.
func New(addr, collection string, dims int, log *slog.Logger) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	vs.conn = conn
	vs.dims = dims
	if log != nil {
		vs.log = log
	}
	return vs, nil
}

// NewWithClients builds a VectorStore over pre-built clients. Used by tests.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
		dims:        3072,
		batchSize:   DefaultUpsertBatch,
		log:         slog.Default(),
	}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist, sized to the
// store's vector dimension with cosine distance.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return domain.NewProviderError("qdrant", true, fmt.Errorf("list collections: %w", err))
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(v.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return domain.NewProviderError("qdrant", true, fmt.Errorf("create collection %s: %w", v.collection, err))
	}
	v.log.Info("collection created", "collection", v.collection, "dims", v.dims)
	return nil
}

// DeleteCollection drops the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return domain.NewProviderError("qdrant", true, fmt.Errorf("delete collection %s: %w", v.collection, err))
	}
	return nil
}

// Upsert validates and stores embedding records in batches. Validation is
// fail-fast: the first bad record aborts the whole call before any RPC.
// A mid-batch RPC failure returns immediately with the counts accumulated
// so far.
func (v *VectorStore) Upsert(ctx context.Context, records []domain.EmbeddingRecord) (UpsertStats, error) {
	var stats UpsertStats
	if len(records) == 0 {
		return stats, nil
	}
	for _, r := range records {
		if err := domain.ValidateRecord(r, v.dims); err != nil {
			return stats, err
		}
	}

	for _, batch := range fn.Chunk(records, v.batchSize) {
		points := fn.Map(batch, func(r domain.EmbeddingRecord) *pb.PointStruct {
			return &pb.PointStruct{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: r.Vector},
					},
				},
				Payload: toPayload(r.Payload),
			}
		})

		wait := true
		_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: v.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return stats, domain.NewProviderError("qdrant", true, fmt.Errorf("upsert batch of %d: %w", len(batch), err))
		}
		stats.PointsUpserted += len(batch)
		stats.Batches++
	}
	return stats, nil
}

// DeleteByDocID removes all points for a document. Used when a document is
// superseded by a re-upload.
func (v *VectorStore) DeleteByDocID(ctx context.Context, docID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch("doc_id", docID),
					},
				},
			},
		},
	})
	if err != nil {
		return domain.NewProviderError("qdrant", true, fmt.Errorf("delete by doc_id %s: %w", docID, err))
	}
	return nil
}

// Search performs k-NN similarity search over the whole collection.
func (v *VectorStore) Search(ctx context.Context, vector []float32, topK int) ([]domain.RetrievalCandidate, error) {
	return v.SearchFiltered(ctx, vector, topK, nil)
}

// SearchFiltered restricts the search with exact-match payload filters,
// typically {"doc_id": ...} to scope a query to selected documents.
func (v *VectorStore) SearchFiltered(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]domain.RetrievalCandidate, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, val := range filters {
			must = append(must, fieldMatch(k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, domain.NewProviderError("qdrant", true, fmt.Errorf("search: %w", err))
	}

	results := make([]domain.RetrievalCandidate, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		c := domain.RetrievalCandidate{
			ChunkID:       r.GetId().GetUuid(),
			Score:         float64(r.GetScore()),
			RetrievalType: domain.RetrievalDense,
			Metadata:      make(map[string]string),
		}
		for k, val := range r.GetPayload() {
			s := payloadString(val)
			if k == "text" {
				c.Text = s
				continue
			}
			c.Metadata[k] = s
		}
		results[i] = c
	}
	return results, nil
}

// toPayload converts a flat record payload into Qdrant values. Nested
// structures were already flattened upstream; anything unexpected is
// stored as its string form.
func toPayload(payload map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(payload))
	for k, val := range payload {
		switch tv := val.(type) {
		case string:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			out[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			out[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return out
}

func payloadString(v *pb.Value) string {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return fmt.Sprintf("%d", kind.IntegerValue)
	case *pb.Value_DoubleValue:
		return fmt.Sprintf("%g", kind.DoubleValue)
	case *pb.Value_BoolValue:
		return fmt.Sprintf("%t", kind.BoolValue)
	default:
		return ""
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
