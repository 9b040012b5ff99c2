package embeddings

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/nextlevelbuilder/whatsclaw/internal/repository"
)

// QdrantStore is the Store implementation backing the default deployment.
// Qdrant only accepts UUIDs or unsigned integers as point IDs, so string
// keys ("memory:42") are mapped to a deterministic UUID and the original
// key plus the caller's payload are stored alongside the vector.
type QdrantStore struct {
	client     *qdrant.Client
	dimensions uint64
	distance   qdrant.Distance
}

// NewQdrantStore dials dsn, a URL of the form scheme://host[:port] with an
// optional api_key query parameter (https enables TLS, the gRPC port
// defaults to 6334, an empty host means localhost), and ensures the
// memories/notes collections exist with the given vector dimensionality.
func NewQdrantStore(ctx context.Context, dsn string, dimensions int) (*QdrantStore, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("embeddings: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("embeddings: invalid qdrant port: %w", err)
		}
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("embeddings: create qdrant client: %w", err)
	}

	store := &QdrantStore{client: client, dimensions: uint64(dimensions), distance: qdrant.Distance_Cosine}
	for _, collection := range []string{"memories", "notes"} {
		if err := store.ensureCollection(ctx, collection); err != nil {
			client.Close()
			return nil, fmt.Errorf("embeddings: ensure collection %s: %w", collection, err)
		}
	}
	return store, nil
}

func (q *QdrantStore) ensureCollection(ctx context.Context, collection string) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     q.dimensions,
			Distance: q.distance,
		}),
	})
}

func pointUUID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (q *QdrantStore) Upsert(ctx context.Context, collection, pointKey string, vector []float32, payload map[string]any) error {
	vec := make([]float32, len(vector))
	copy(vec, vector)
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(pointUUID(pointKey)),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(payload),
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collection, Points: points})
	return err
}

func (q *QdrantStore) Delete(ctx context.Context, collection, pointKey string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointUUID(pointKey))),
	})
	return err
}

func (q *QdrantStore) SearchSimilar(ctx context.Context, collection string, embedding []float32, k int, threshold float64) ([]repository.SimilarResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	limit := uint64(k)

	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	results := make([]repository.SimilarResult, 0, len(hits))
	for _, hit := range hits {
		distance := 1 - float64(hit.Score)
		if threshold > 0 && distance > threshold {
			continue
		}
		var id int64
		var text string
		if hit.Payload != nil {
			if v, ok := hit.Payload["id"]; ok {
				id = int64(v.GetIntegerValue())
			}
			if v, ok := hit.Payload["text"]; ok {
				text = v.GetStringValue()
			}
		}
		results = append(results, repository.SimilarResult{ID: id, Text: text, Distance: distance})
	}
	return results, nil
}

func (q *QdrantStore) Close() error {
	return q.client.Close()
}
