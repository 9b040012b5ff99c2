package repository

import "context"

// VectorIndex is the narrow dependency the repository needs from the
// embedding indexer (C5) to satisfy memories/notes similarity search. The
// repository owns the rows; the vector index (backed by Qdrant) owns
// nearest-neighbour search over their embeddings. Kept as an interface so
// internal/repository never imports internal/embeddings directly.
type VectorIndex interface {
	SearchSimilar(ctx context.Context, collection string, embedding []float32, k int, threshold float64) ([]SimilarResult, error)
}

const memoryCollection = "memories"

// noopVectorIndex is used when no vector index is configured; every
// similarity search returns no results rather than an error, consistent
// with the embedding indexer's best-effort contract (C5).
type noopVectorIndex struct{}

func (noopVectorIndex) SearchSimilar(context.Context, string, []float32, int, float64) ([]SimilarResult, error) {
	return nil, nil
}
