/**
 * Qdrant Vector Database Client for scan history
 *
 * Keeps one point per saved scan (point ID = scan ID) holding the embedding
 * of its extracted text, filtered by user on search.
 * Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// VectorDimension matches the VoyageAI voyage-3 embedding size.
const VectorDimension = 1024

// VectorIndex is the semantic index the history manager keeps in sync.
type VectorIndex interface {
	UpsertScan(ctx context.Context, scanID, userID string, vector []float32, payload map[string]interface{}) error
	Search(ctx context.Context, userID string, vector []float32, limit int) ([]ScoredID, error)
	DeleteScan(ctx context.Context, scanID string) error
	DeleteUser(ctx context.Context, userID string) error
	Close() error
}

// ScoredID is a search hit before it is joined with Postgres.
type ScoredID struct {
	ID    string
	Score float32
}

// QdrantClient handles vector database operations
type QdrantClient struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
}

// NewQdrantClient creates a new Qdrant client
func NewQdrantClient(address string, collectionName string) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
	}

	if err := qc.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     VectorDimension,
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// UpsertScan stores or replaces the vector of a scan.
func (q *QdrantClient) UpsertScan(ctx context.Context, scanID, userID string, vector []float32, payload map[string]interface{}) error {
	if scanID == "" {
		return fmt.Errorf("scan ID is required")
	}
	if len(vector) != VectorDimension {
		return fmt.Errorf("invalid vector dimensions: expected %d, got %d", VectorDimension, len(vector))
	}

	fields := toPayload(payload)
	fields["user_id"] = stringValue(userID)

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points: []*qdrant.PointStruct{{
			Id: uuidPointID(scanID),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{Data: vector},
				},
			},
			Payload: fields,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

// Search returns the user's scans nearest to vector.
func (q *QdrantClient) Search(ctx context.Context, userID string, vector []float32, limit int) ([]ScoredID, error) {
	if len(vector) != VectorDimension {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", VectorDimension, len(vector))
	}
	if limit <= 0 {
		limit = 10
	}

	results, err := q.client.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         userFilter(userID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	hits := make([]ScoredID, 0, len(results.Result))
	for _, r := range results.Result {
		if r.Id == nil || r.Id.GetUuid() == "" {
			continue
		}
		hits = append(hits, ScoredID{ID: r.Id.GetUuid(), Score: r.Score})
	}
	return hits, nil
}

// DeleteScan removes the vector of one scan.
func (q *QdrantClient) DeleteScan(ctx context.Context, scanID string) error {
	if scanID == "" {
		return fmt.Errorf("scan ID is required")
	}
	return q.delete(ctx, &qdrant.PointsSelector{
		PointsSelectorOneOf: &qdrant.PointsSelector_Points{
			Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{uuidPointID(scanID)}},
		},
	})
}

// DeleteUser removes every vector owned by userID.
func (q *QdrantClient) DeleteUser(ctx context.Context, userID string) error {
	return q.delete(ctx, &qdrant.PointsSelector{
		PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: userFilter(userID)},
	})
}

func (q *QdrantClient) delete(ctx context.Context, selector *qdrant.PointsSelector) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points:         selector,
	})
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return map[string]interface{}{
		"collection_name": q.collectionName,
		"vectors_count":   info.Result.GetVectorsCount(),
		"points_count":    info.Result.GetPointsCount(),
		"status":          info.Result.GetStatus().String(),
	}, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func uuidPointID(id string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}}
}

func userFilter(userID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "user_id",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: userID},
					},
				},
			},
		}},
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// toPayload converts plain values to Qdrant payload values. Unsupported
// types are stored as their fmt representation.
func toPayload(m map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(m)+1)
	for k, v := range m {
		switch val := v.(type) {
		case string:
			payload[k] = stringValue(val)
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = stringValue(fmt.Sprintf("%v", val))
		}
	}
	return payload
}

// fromPayload is the inverse of toPayload for the supported kinds.
func fromPayload(p map[string]*qdrant.Value) map[string]interface{} {
	m := make(map[string]interface{}, len(p))
	for k, v := range p {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			m[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			m[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			m[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			m[k] = val.BoolValue
		}
	}
	return m
}
