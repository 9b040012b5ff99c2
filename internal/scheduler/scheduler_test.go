package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]Job
}

func newMemStore() *memStore { return &memStore{jobs: make(map[uuid.UUID]Job)} }

func (m *memStore) Save(ctx context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) ListActive(ctx context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if j.State != StateExhausted {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memStore) MarkInactive(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func TestRegisterRejectsInvalidCronExpr(t *testing.T) {
	s := New(newMemStore(), func(ctx context.Context, job Job) error { return nil }, time.Millisecond)
	err := s.Register(context.Background(), Job{Kind: KindRecurring, CronExpr: "not a cron expr"})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestOneShotFiresOnceAndExhausts(t *testing.T) {
	var fired int
	var mu sync.Mutex
	dispatch := func(ctx context.Context, job Job) error {
		mu.Lock()
		fired++
		mu.Unlock()
		return nil
	}
	store := newMemStore()
	s := New(store, dispatch, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	job := Job{ID: uuid.New(), Kind: KindOneShot, FireAt: time.Now().Add(-time.Second)}
	if err := s.Register(ctx, job); err != nil {
		t.Fatalf("Register: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Fatalf("expected exactly 1 firing, got %d", fired)
	}
}

func TestDeleteStopsFutureFirings(t *testing.T) {
	var fired int
	var mu sync.Mutex
	dispatch := func(ctx context.Context, job Job) error {
		mu.Lock()
		fired++
		mu.Unlock()
		return nil
	}
	store := newMemStore()
	s := New(store, dispatch, 5*time.Millisecond)
	ctx := context.Background()

	job := Job{ID: uuid.New(), Kind: KindOneShot, FireAt: time.Now().Add(time.Hour)}
	if err := s.Register(ctx, job); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	s.Start(runCtx)

	mu.Lock()
	defer mu.Unlock()
	if fired != 0 {
		t.Fatalf("expected no firings after delete, got %d", fired)
	}
}
