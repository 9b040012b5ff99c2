package repository

import (
	"context"
	"testing"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	r, err := NewSQLiteRepository(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite repository: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestGetOrCreateConversationIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	a, err := r.GetOrCreateConversation(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := r.GetOrCreateConversation(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same conversation id, got %v and %v", a.ID, b.ID)
	}
}

func TestSaveAndGetRecentMessagesPreservesOrder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	conv, _ := r.GetOrCreateConversation(ctx, "+15551234567")
	for i, text := range []string{"hi", "how are you", "good thanks"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := r.SaveMessage(ctx, conv.ID, role, text, ""); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	msgs, err := r.GetRecentMessages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("get recent messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "hi" || msgs[2].Text != "good thanks" {
		t.Fatalf("expected ascending id order, got %+v", msgs)
	}
}

func TestClearMessagesRemovesAllButKeepsConversation(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	conv, _ := r.GetOrCreateConversation(ctx, "+15551234567")
	r.SaveMessage(ctx, conv.ID, RoleUser, "hello", "")

	if err := r.ClearMessages(ctx, conv.ID); err != nil {
		t.Fatalf("clear messages: %v", err)
	}
	msgs, err := r.GetRecentMessages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("get recent messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages after clear, got %d", len(msgs))
	}

	again, err := r.GetOrCreateConversation(ctx, "+15551234567")
	if err != nil || again.ID != conv.ID {
		t.Fatalf("expected conversation to persist after clear")
	}
}

func TestMemoryLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	m, err := r.AddMemory(ctx, "user prefers concise replies", "")
	if err != nil {
		t.Fatalf("add memory: %v", err)
	}
	active, err := r.ListActiveMemories(ctx, 10)
	if err != nil || len(active) != 1 {
		t.Fatalf("expected 1 active memory, got %d (err=%v)", len(active), err)
	}

	if err := r.SoftDeleteMemory(ctx, m.ID); err != nil {
		t.Fatalf("soft delete memory: %v", err)
	}
	active, err = r.ListActiveMemories(ctx, 10)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected 0 active memories after soft delete, got %d", len(active))
	}
}

func TestTraceLifecycleWithSpanAndScore(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	tr, err := r.StartTrace(ctx, "+15551234567", MessageTypeChat)
	if err != nil {
		t.Fatalf("start trace: %v", err)
	}
	span := &Span{TraceID: tr.ID, Name: "search", Kind: SpanKindTool, Status: "ok"}
	if err := r.AppendSpan(ctx, span); err != nil {
		t.Fatalf("append span: %v", err)
	}
	if err := r.AppendScore(ctx, &Score{TraceID: tr.ID, Name: "not_empty", Value: 1, Source: ScoreSourceSystem}); err != nil {
		t.Fatalf("append score: %v", err)
	}
	if err := r.FinishTrace(ctx, tr.ID, TraceStatusCompleted, "wamid.123"); err != nil {
		t.Fatalf("finish trace: %v", err)
	}

	spans, err := r.GetToolCallSpans(ctx, tr.ID)
	if err != nil || len(spans) != 1 {
		t.Fatalf("expected 1 tool span, got %d (err=%v)", len(spans), err)
	}

	traces, err := r.GetTracesByPrincipal(ctx, "+15551234567", 10)
	if err != nil || len(traces) != 1 || traces[0].Status != TraceStatusCompleted {
		t.Fatalf("expected 1 completed trace, got %+v (err=%v)", traces, err)
	}
}

func TestPromptVersionActivationIsExclusive(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	v1, err := r.SavePromptVersion(ctx, "system_prompt", "v1 content", PromptCreatedByHuman)
	if err != nil {
		t.Fatalf("save prompt v1: %v", err)
	}
	v2, err := r.SavePromptVersion(ctx, "system_prompt", "v2 content", PromptCreatedByAgent)
	if err != nil {
		t.Fatalf("save prompt v2: %v", err)
	}
	if v1.Version != 1 || v2.Version != 2 {
		t.Fatalf("expected sequential versions, got %d and %d", v1.Version, v2.Version)
	}

	if err := r.ActivatePromptVersion(ctx, "system_prompt", 1); err != nil {
		t.Fatalf("activate v1: %v", err)
	}
	if err := r.ActivatePromptVersion(ctx, "system_prompt", 2); err != nil {
		t.Fatalf("activate v2: %v", err)
	}

	active, err := r.GetActivePrompt(ctx, "system_prompt")
	if err != nil {
		t.Fatalf("get active prompt: %v", err)
	}
	if active.Version != 2 {
		t.Fatalf("expected version 2 active, got %d", active.Version)
	}
}

func TestStickyCategoriesRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	conv, _ := r.GetOrCreateConversation(ctx, "+15551234567")
	if cats, err := r.GetStickyCategories(ctx, conv.ID); err != nil || cats != nil {
		t.Fatalf("expected no sticky categories initially, got %v (err=%v)", cats, err)
	}

	if err := r.SetStickyCategories(ctx, conv.ID, []string{"news", "weather"}); err != nil {
		t.Fatalf("set sticky categories: %v", err)
	}
	cats, err := r.GetStickyCategories(ctx, conv.ID)
	if err != nil || len(cats) != 2 {
		t.Fatalf("expected 2 sticky categories, got %v (err=%v)", cats, err)
	}
}

func TestCronJobLifecycle(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	job, err := r.SaveCronJob(ctx, &CronJob{Principal: "+15551234567", Expression: "0 9 * * *", Message: "good morning", Active: true})
	if err != nil {
		t.Fatalf("save cron job: %v", err)
	}
	active, err := r.ListActiveCronJobs(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("expected 1 active cron job, got %d (err=%v)", len(active), err)
	}

	if err := r.DeleteCronJob(ctx, job.ID); err != nil {
		t.Fatalf("delete cron job: %v", err)
	}
	active, err = r.ListActiveCronJobs(ctx)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected 0 active cron jobs after delete, got %d", len(active))
	}
}

func TestAgentSessionJournal(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	s, err := r.CreateAgentSession(ctx, "+15551234567", "research the weather")
	if err != nil {
		t.Fatalf("create agent session: %v", err)
	}
	if s.Status != AgentSessionRunning {
		t.Fatalf("expected status running, got %s", s.Status)
	}

	if err := r.AppendAgentRound(ctx, s.ID, 1, []byte(`{"thought":"checking forecast"}`)); err != nil {
		t.Fatalf("append agent round: %v", err)
	}

	s.Status = AgentSessionCompleted
	s.RoundCount = 1
	if err := r.UpdateAgentSession(ctx, s); err != nil {
		t.Fatalf("update agent session: %v", err)
	}

	got, err := r.GetAgentSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("get agent session: %v", err)
	}
	if got.Status != AgentSessionCompleted || got.RoundCount != 1 {
		t.Fatalf("expected completed session with 1 round, got %+v", got)
	}
}
