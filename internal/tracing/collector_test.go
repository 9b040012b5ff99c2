package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/whatsclaw/internal/repository"
	"github.com/nextlevelbuilder/whatsclaw/internal/store"
)

func newTestRecorder(t *testing.T, sampleRate float64) (*Recorder, *repository.SQLiteRepository) {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewRecorder(repo, Config{SampleRate: sampleRate}), repo
}

func TestBeginWithZeroSampleRateSkipsTrace(t *testing.T) {
	rec, _ := newTestRecorder(t, 0)
	ctx, traceID := rec.Begin(context.Background(), "+15551234567", repository.MessageTypeChat)
	if traceID != uuid.Nil {
		t.Fatalf("expected nil trace id when sample rate is 0, got %v", traceID)
	}
	if CollectorFromContext(ctx) != nil {
		t.Fatal("expected no collector when sample rate is 0")
	}
}

func TestBeginWithFullSampleRateStartsTraceAndEmitsSpan(t *testing.T) {
	rec, repo := newTestRecorder(t, 1)
	ctx, traceID := rec.Begin(context.Background(), "+15551234567", repository.MessageTypeChat)
	if traceID == uuid.Nil {
		t.Fatal("expected a non-nil trace id")
	}

	c := CollectorFromContext(ctx)
	if c == nil {
		t.Fatal("expected a collector to be bound to context")
	}

	now := time.Now().UTC()
	c.EmitSpan(store.SpanData{
		TraceID:    traceID,
		SpanType:   store.SpanTypeToolCall,
		Name:       "search",
		StartTime:  now,
		EndTime:    &now,
		Status:     store.SpanStatusCompleted,
	})
	rec.Finish(ctx, repository.TraceStatusCompleted, "wamid.1")

	traces, err := repo.GetTracesByPrincipal(context.Background(), "+15551234567", 10)
	if err != nil || len(traces) != 1 {
		t.Fatalf("expected 1 trace recorded, got %d (err=%v)", len(traces), err)
	}
	if traces[0].Status != repository.TraceStatusCompleted {
		t.Fatalf("expected trace status completed, got %s", traces[0].Status)
	}

	spans, err := repo.GetToolCallSpans(context.Background(), traceID)
	if err != nil || len(spans) != 1 {
		t.Fatalf("expected 1 tool span recorded, got %d (err=%v)", len(spans), err)
	}
}
