package tracing

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/whatsclaw/internal/repository"
	"github.com/nextlevelbuilder/whatsclaw/internal/store"
)

// RemoteSink mirrors a span to a destination outside the repository
// (OTLP collector, live websocket stream). Errors are logged and
// swallowed by the Collector; a sink must never block the caller.
type RemoteSink interface {
	Send(span store.SpanData)
}

// Collector is the handle returned by Begin: it owns the trace id and
// fans spans/scores out to the repository plus any configured remote
// sinks. One Collector is created per sampled inbound message or agent
// round; unsampled requests never get one (see shouldSample).
type Collector struct {
	repo      repository.Repository
	traceID   uuid.UUID
	verbose   bool
	sinks     []RemoteSink
	mu        sync.Mutex
	spanCount int
}

// Config controls sampling and verbosity for new traces.
type Config struct {
	SampleRate float64
	Verbose    bool
	Sinks      []RemoteSink
}

// Recorder is the process-wide entry point; it owns the repository and
// sink configuration and mints a Collector per sampled request.
type Recorder struct {
	repo repository.Repository
	cfg  Config
}

func NewRecorder(repo repository.Repository, cfg Config) *Recorder {
	return &Recorder{repo: repo, cfg: cfg}
}

// Begin starts a trace for an inbound message or agent round, binds it
// (and a Collector, when sampled) to ctx, and returns the enriched
// context plus the repository trace id (uuid.Nil if skipped by
// sampling). Skipped traces cost nothing beyond this one call: every
// emit* helper checks CollectorFromContext and no-ops when nil.
func (rec *Recorder) Begin(ctx context.Context, principal, messageType string) (context.Context, uuid.UUID) {
	if !shouldSample(rec.cfg.SampleRate) {
		return ctx, uuid.Nil
	}

	trace, err := rec.repo.StartTrace(ctx, principal, messageType)
	if err != nil {
		slog.Warn("tracing: start trace failed, continuing unsampled", "error", err)
		return ctx, uuid.Nil
	}

	c := &Collector{repo: rec.repo, traceID: trace.ID, verbose: rec.cfg.Verbose, sinks: rec.cfg.Sinks}
	ctx = WithTraceID(ctx, trace.ID)
	ctx = WithCollector(ctx, c)

	agentSpanID := uuid.New()
	ctx = WithParentSpanID(ctx, agentSpanID)
	return ctx, trace.ID
}

// Finish closes the trace started by Begin.
func (rec *Recorder) Finish(ctx context.Context, status, providerMessageID string) {
	traceID := TraceIDFromContext(ctx)
	if traceID == uuid.Nil {
		return
	}
	if err := rec.repo.FinishTrace(ctx, traceID, status, providerMessageID); err != nil {
		slog.Warn("tracing: finish trace failed", "trace_id", traceID, "error", err)
	}
}

// Verbose reports whether full message/tool payloads should be captured
// instead of the default 500-char preview.
func (c *Collector) Verbose() bool { return c.verbose }

// EmitSpan persists span and mirrors it to any configured remote sinks.
// Best-effort: repository failures are logged, never returned.
func (c *Collector) EmitSpan(span store.SpanData) {
	c.mu.Lock()
	c.spanCount++
	c.mu.Unlock()

	if span.ID == uuid.Nil {
		span.ID = uuid.New()
	}
	row := &repository.Span{
		ID:            span.ID,
		TraceID:       span.TraceID,
		ParentSpanID:  span.ParentSpanID,
		Name:          span.Name,
		Kind:          spanKind(span.SpanType),
		Status:        span.Status,
		StartedAt:     span.StartTime,
		LatencyMillis: int64(span.DurationMS),
		InputPayload:  span.InputPreview,
		OutputPayload: span.OutputPreview,
		Metadata:      spanMetadata(span),
	}
	if err := c.repo.AppendSpan(context.Background(), row); err != nil {
		slog.Warn("tracing: append span failed", "trace_id", span.TraceID, "error", err)
	}

	for _, sink := range c.sinks {
		sink := sink
		go func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("tracing: remote sink panicked", "panic", r)
				}
			}()
			sink.Send(span)
		}()
	}
}

// Score attaches a named judgment to the current trace.
func (c *Collector) Score(ctx context.Context, name string, value float64, source, comment string) {
	if c == nil {
		return
	}
	traceID := TraceIDFromContext(ctx)
	if traceID == uuid.Nil {
		return
	}
	err := c.repo.AppendScore(ctx, &repository.Score{TraceID: traceID, Name: name, Value: value, Source: source, Comment: comment})
	if err != nil {
		slog.Warn("tracing: append score failed", "trace_id", traceID, "error", err)
	}
}

func spanKind(spanType string) string {
	switch spanType {
	case store.SpanTypeLLMCall:
		return repository.SpanKindGeneration
	case store.SpanTypeToolCall:
		return repository.SpanKindTool
	case store.SpanTypeGuardrail:
		return repository.SpanKindGuardrail
	case store.SpanTypeRetrieval:
		return repository.SpanKindRetrieval
	default:
		return repository.SpanKindOther
	}
}

func spanMetadata(span store.SpanData) json.RawMessage {
	meta := map[string]any{}
	for k, v := range decodeMetadata(span.Metadata) {
		meta[k] = v
	}
	if span.InputTokens > 0 {
		meta["gen_ai.usage.input_tokens"] = span.InputTokens
	}
	if span.OutputTokens > 0 {
		meta["gen_ai.usage.output_tokens"] = span.OutputTokens
	}
	if span.Model != "" {
		meta["gen_ai.response.model"] = span.Model
	}
	if span.Provider != "" {
		meta["provider"] = span.Provider
	}
	if span.FinishReason != "" {
		meta["finish_reason"] = span.FinishReason
	}
	if span.ToolCallID != "" {
		meta["tool_call_id"] = span.ToolCallID
	}
	if span.Error != "" {
		meta["error"] = span.Error
	}
	if len(meta) == 0 {
		return nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return b
}

func decodeMetadata(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

// Now is a small seam so tests can avoid depending on wall-clock time
// when constructing SpanData by hand.
func Now() time.Time { return time.Now().UTC() }
