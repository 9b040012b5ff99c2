// Package embeddings implements the Embedding Indexer (C5): best-effort
// text-to-vector embedding, backed by a Qdrant collection, wired as the
// repository's VectorIndex dependency for memory/note similarity search.
package embeddings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/whatsclaw/internal/providers"
	"github.com/nextlevelbuilder/whatsclaw/internal/repository"
	"github.com/nextlevelbuilder/whatsclaw/internal/tasktracker"
)

// Kind distinguishes the source a vector was derived from, stored in the
// Qdrant payload so SearchSimilar results can be routed back to the right
// repository table.
const (
	KindMemory = "memory"
	KindNote   = "note"
)

// Store is the minimal Qdrant-backed persistence surface the indexer
// needs. Implemented by *QdrantStore; kept as an interface so tests can
// substitute an in-memory fake without a live Qdrant instance.
type Store interface {
	Upsert(ctx context.Context, collection, pointKey string, vector []float32, payload map[string]any) error
	Delete(ctx context.Context, collection, pointKey string) error
	SearchSimilar(ctx context.Context, collection string, embedding []float32, k int, threshold float64) ([]repository.SimilarResult, error)
}

// Indexer embeds text via an Embedder and persists vectors in Store. It
// implements repository.VectorIndex directly so it can be handed to
// NewPostgresRepository/NewSQLiteRepository as the vector dependency.
type Indexer struct {
	embedder providers.Embedder
	store    Store
	model    string
	tracker  *tasktracker.Tracker
}

func New(embedder providers.Embedder, store Store, model string, tracker *tasktracker.Tracker) *Indexer {
	return &Indexer{embedder: embedder, store: store, model: model, tracker: tracker}
}

// SearchSimilar implements repository.VectorIndex.
func (idx *Indexer) SearchSimilar(ctx context.Context, collection string, embedding []float32, k int, threshold float64) ([]repository.SimilarResult, error) {
	return idx.store.SearchSimilar(ctx, collection, embedding, k, threshold)
}

// embed turns text into a vector, returning (nil, nil) rather than an
// error on failure — callers proceed as if no vector existed, per C5's
// best-effort contract.
func (idx *Indexer) embed(ctx context.Context, text string) []float32 {
	vectors, err := idx.embedder.Embed(ctx, []string{text}, idx.model)
	if err != nil || len(vectors) == 0 {
		slog.Warn("embeddings: embed call failed, proceeding without a vector", "error", err)
		return nil
	}
	return vectors[0]
}

func pointKey(kind string, id int64) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// IndexMemory is fire-and-forget: it is registered with the task tracker
// and returns immediately. Failures are logged, never surfaced.
func (idx *Indexer) IndexMemory(ctx context.Context, id int64, text, category string) {
	idx.tracker.Register(ctx, "embeddings.index_memory", func(taskCtx context.Context) {
		idx.indexNow(taskCtx, KindMemory, id, text, map[string]any{"category": category})
	})
}

// IndexNote is fire-and-forget, mirroring IndexMemory.
func (idx *Indexer) IndexNote(ctx context.Context, id int64, principal, text string) {
	idx.tracker.Register(ctx, "embeddings.index_note", func(taskCtx context.Context) {
		idx.indexNow(taskCtx, KindNote, id, text, map[string]any{"principal": principal})
	})
}

func (idx *Indexer) indexNow(ctx context.Context, kind string, id int64, text string, extra map[string]any) {
	vec := idx.embed(ctx, text)
	if vec == nil {
		return
	}
	payload := map[string]any{"id": id, "text": text, "kind": kind}
	for k, v := range extra {
		payload[k] = v
	}
	if err := idx.store.Upsert(ctx, collectionFor(kind), pointKey(kind, id), vec, payload); err != nil {
		slog.Warn("embeddings: upsert failed", "kind", kind, "id", id, "error", err)
	}
}

// RemoveEmbedding is fire-and-forget removal, matching remove_embedding(kind, id).
func (idx *Indexer) RemoveEmbedding(ctx context.Context, kind string, id int64) {
	idx.tracker.Register(ctx, "embeddings.remove", func(taskCtx context.Context) {
		if err := idx.store.Delete(taskCtx, collectionFor(kind), pointKey(kind, id)); err != nil {
			slog.Warn("embeddings: delete failed", "kind", kind, "id", id, "error", err)
		}
	})
}

func collectionFor(kind string) string {
	switch kind {
	case KindNote:
		return "notes"
	default:
		return "memories"
	}
}

// Backfill re-indexes up to limit active memories in the background; it is
// started once at startup. It does not check for existing vectors: every
// listed memory is embedded and upserted again. Notes are not backfilled.
func (idx *Indexer) Backfill(ctx context.Context, repo repository.Repository, limit int) {
	idx.tracker.Register(ctx, "embeddings.backfill", func(taskCtx context.Context) {
		memories, err := repo.ListActiveMemories(taskCtx, limit)
		if err != nil {
			slog.Warn("embeddings: backfill list failed", "error", err)
			return
		}
		for _, m := range memories {
			idx.indexNow(taskCtx, KindMemory, m.ID, m.Text, map[string]any{"category": m.Category})
		}
		slog.Info("embeddings: backfill complete", "count", len(memories))
	})
}
