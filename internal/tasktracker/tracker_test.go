package tasktracker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterRunsAndUnregisters(t *testing.T) {
	tr := New()
	var ran atomic.Bool
	started := make(chan struct{})
	ok := tr.Register(context.Background(), "t1", func(ctx context.Context) {
		ran.Store(true)
		close(started)
	})
	if !ok {
		t.Fatal("expected Register to accept task before shutdown")
	}
	<-started
	deadline := time.Now().Add(time.Second)
	for tr.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !ran.Load() {
		t.Fatal("expected task to have run")
	}
	if tr.Count() != 0 {
		t.Fatalf("expected task to unregister itself, count=%d", tr.Count())
	}
}

func TestShutdownWaitsForPendingTasks(t *testing.T) {
	tr := New()
	release := make(chan struct{})
	var finished atomic.Bool
	tr.Register(context.Background(), "slow", func(ctx context.Context) {
		<-release
		finished.Store(true)
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	tr.Shutdown(time.Second)
	if !finished.Load() {
		t.Fatal("expected Shutdown to wait for pending task to complete")
	}
}

func TestShutdownRejectsNewTasks(t *testing.T) {
	tr := New()
	tr.Shutdown(10 * time.Millisecond)
	ok := tr.Register(context.Background(), "late", func(ctx context.Context) {})
	if ok {
		t.Fatal("expected Register to reject tasks after shutdown begins")
	}
}

func TestShutdownCancelsContextOnDeadline(t *testing.T) {
	tr := New()
	cancelled := make(chan struct{})
	tr.Register(context.Background(), "cooperative", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})

	tr.Shutdown(50 * time.Millisecond)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("expected task context to be cancelled by Shutdown")
	}
}
