// Package tracing implements the Trace Recorder (C6): context-propagated
// trace/span handles, best-effort persistence via the repository, and two
// optional best-effort sinks (remote OTLP, live websocket stream). All
// sink failures are swallowed; tracing never affects the critical path.
package tracing

import (
	"context"
	"math/rand"

	"github.com/google/uuid"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	collectorKey
	parentSpanIDKey
	announceParentSpanIDKey
)

// WithTraceID binds traceID to ctx so descendants can attach spans to it.
func WithTraceID(ctx context.Context, traceID uuid.UUID) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the bound trace id, or uuid.Nil if none.
func TraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(traceIDKey).(uuid.UUID)
	return id
}

// WithCollector binds the sink that spans/scores are emitted to.
func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, collectorKey, c)
}

// CollectorFromContext returns the bound collector, or nil if tracing was
// sampled out or never started for this request.
func CollectorFromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(collectorKey).(*Collector)
	return c
}

// WithParentSpanID binds the span that subsequent spans created in ctx
// should nest under.
func WithParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, parentSpanIDKey, id)
}

// ParentSpanIDFromContext returns the bound parent span id, or uuid.Nil.
func ParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(parentSpanIDKey).(uuid.UUID)
	return id
}

// WithAnnounceParentSpanID binds the root span a proactive/announce run's
// agent span should nest under, distinguishing it from an inbound-message
// run (which has no announce parent).
func WithAnnounceParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, announceParentSpanIDKey, id)
}

// AnnounceParentSpanIDFromContext returns the bound announce-parent span
// id, or uuid.Nil.
func AnnounceParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(announceParentSpanIDKey).(uuid.UUID)
	return id
}

// shouldSample implements the uniform sample_rate decision (§4.6): a
// trace is created with probability rate; skipped traces attach no
// collector to the context, so every downstream emit* call becomes a
// no-op without branching on a "tracing enabled" flag.
func shouldSample(rate float64) bool {
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return rand.Float64() < rate
}
