package vectordb

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/raglane/raglane/pkg/config"
)

// QdrantProvider implements Provider against a Qdrant server over gRPC.
type QdrantProvider struct {
	client *qdrant.Client
}

func NewQdrantProvider(cfg *config.VectorStoreConfig) (*QdrantProvider, error) {
	useTLS := false
	if cfg.EnableTLS != nil {
		useTLS = *cfg.EnableTLS
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantProvider{client: client}, nil
}

func qdrantDistance(metric string) qdrant.Distance {
	switch metric {
	case "dot":
		return qdrant.Distance_Dot
	case "euclid":
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

func (db *QdrantProvider) EnsureCollection(ctx context.Context, name string, dimension int, metric string) error {
	exists, err := db.client.CollectionExists(ctx, name)
	if err != nil {
		return backendErr("collection check", name, err)
	}
	if exists {
		return nil
	}

	err = db.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrantDistance(metric),
		}),
	})
	if err != nil {
		// Lost a create race to another builder.
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return backendErr("create collection", name, err)
	}
	return nil
}

func (db *QdrantProvider) Dimension(ctx context.Context, name string) (int, error) {
	info, err := db.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return 0, backendErr("collection info", name, err)
	}

	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return 0, nil
	}
	return int(params.GetSize()), nil
}

func (db *QdrantProvider) Upsert(ctx context.Context, name string, points []Point) error {
	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := toQdrantPayload(p.Payload)
		if err != nil {
			return backendErr("upsert", name, err)
		}
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	_, err := db.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         qdrantPoints,
	})
	return backendErr("upsert", name, err)
}

func (db *QdrantProvider) Search(ctx context.Context, name string, vector []float32, limit int, filter Filter) ([]QueryHit, error) {
	result, err := db.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: name,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         toQdrantFilter(filter),
	})
	if err != nil {
		return nil, backendErr("search", name, err)
	}

	hits := make([]QueryHit, 0, len(result.Result))
	for _, point := range result.Result {
		payload := fromQdrantPayload(point.Payload)
		hit := QueryHit{
			ID:      pointIDString(point.Id),
			Score:   point.Score,
			Payload: payload,
		}
		if original, ok := payload[FieldOriginalID].(string); ok {
			hit.ID = original
		}
		if text, ok := payload[FieldText].(string); ok {
			hit.Text = text
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (db *QdrantProvider) Retrieve(ctx context.Context, name string, ids []string) ([]Point, error) {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	result, err := db.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, backendErr("retrieve", name, err)
	}

	points := make([]Point, 0, len(result))
	for _, rp := range result {
		point := Point{
			ID:      pointIDString(rp.Id),
			Payload: fromQdrantPayload(rp.Payload),
		}
		if vec := rp.GetVectors().GetVector(); vec != nil {
			if dense, ok := vec.Vector.(*qdrant.VectorOutput_Dense); ok && dense.Dense != nil {
				point.Vector = dense.Dense.Data
			}
		}
		points = append(points, point)
	}
	return points, nil
}

func (db *QdrantProvider) Delete(ctx context.Context, name string, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	_, err := db.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	return backendErr("delete", name, err)
}

func (db *QdrantProvider) Count(ctx context.Context, name string) (int64, error) {
	info, err := db.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return 0, backendErr("count", name, err)
	}
	return int64(info.GetPointsCount()), nil
}

func (db *QdrantProvider) DropCollection(ctx context.Context, name string) error {
	return backendErr("drop collection", name, db.client.DeleteCollection(ctx, name))
}

func (db *QdrantProvider) Close() error {
	return db.client.Close()
}

func toQdrantFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		must = append(must, qdrant.NewMatch(key, value))
	}
	return &qdrant.Filter{Must: must}
}

func toQdrantPayload(payload map[string]any) (map[string]*qdrant.Value, error) {
	result := make(map[string]*qdrant.Value, len(payload))
	for key, value := range payload {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert payload value for key %s: %w", key, err)
		}
		result[key] = val
	}
	return result, nil
}

func fromQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	result := make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			result[key] = v.StringValue
		case *qdrant.Value_IntegerValue:
			result[key] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			result[key] = v.DoubleValue
		case *qdrant.Value_BoolValue:
			result[key] = v.BoolValue
		default:
			result[key] = value.String()
		}
	}
	return result
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	default:
		return ""
	}
}

var _ Provider = (*QdrantProvider)(nil)
