package embeddings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/whatsclaw/internal/repository"
	"github.com/nextlevelbuilder/whatsclaw/internal/tasktracker"
)

type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 0.5}
	}
	return out, nil
}

type fakeStore struct {
	mu      sync.Mutex
	points  map[string][]float32
	payload map[string]map[string]any
	deleted map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{points: make(map[string][]float32), payload: make(map[string]map[string]any), deleted: make(map[string]bool)}
}

func (f *fakeStore) Upsert(ctx context.Context, collection, pointKey string, vector []float32, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[collection+"/"+pointKey] = vector
	f.payload[collection+"/"+pointKey] = payload
	delete(f.deleted, collection+"/"+pointKey)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, collection, pointKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[collection+"/"+pointKey] = true
	delete(f.points, collection+"/"+pointKey)
	return nil
}

func (f *fakeStore) SearchSimilar(ctx context.Context, collection string, embedding []float32, k int, threshold float64) ([]repository.SimilarResult, error) {
	return nil, nil
}

func (f *fakeStore) has(collection, pointKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.points[collection+"/"+pointKey]
	return ok
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestIndexMemoryUpsertsVector(t *testing.T) {
	store := newFakeStore()
	idx := New(&fakeEmbedder{}, store, "test-model", tasktracker.New())

	idx.IndexMemory(context.Background(), 42, "likes go", "preference")
	waitFor(t, func() bool { return store.has("memories", pointKey(KindMemory, 42)) })
}

func TestIndexMemorySkipsOnEmbedFailure(t *testing.T) {
	store := newFakeStore()
	idx := New(&fakeEmbedder{fail: true}, store, "test-model", tasktracker.New())

	tracker := idx.tracker
	idx.IndexMemory(context.Background(), 7, "will fail", "")
	waitFor(t, func() bool { return tracker.Count() == 0 })
	if store.has("memories", pointKey(KindMemory, 7)) {
		t.Fatal("expected no vector stored when embedding fails")
	}
}

func TestRemoveEmbeddingDeletes(t *testing.T) {
	store := newFakeStore()
	idx := New(&fakeEmbedder{}, store, "test-model", tasktracker.New())

	idx.IndexNote(context.Background(), 3, "+15551234567", "remember this")
	waitFor(t, func() bool { return store.has("notes", pointKey(KindNote, 3)) })

	idx.RemoveEmbedding(context.Background(), KindNote, 3)
	waitFor(t, func() bool { return !store.has("notes", pointKey(KindNote, 3)) })
}
