package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/whatsclaw/internal/store"
)

// OTLPSink mirrors spans to an external collector over OTLP, for
// deployments that already run an observability stack the repository
// doesn't replace. Construction failures are returned; send failures
// are swallowed (best-effort, per C6).
type OTLPSink struct {
	tp     *sdktrace.TracerProvider
	tracer oteltrace.Tracer
}

// NewOTLPSink dials endpoint (gRPC by default, HTTP when useHTTP is set)
// and returns a sink that emits one OTel span per SpanData.
func NewOTLPSink(ctx context.Context, endpoint, serviceName string, useHTTP bool) (*OTLPSink, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: otlp resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if useHTTP {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	} else {
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
	return &OTLPSink{tp: tp, tracer: tp.Tracer("whatsclaw/agent")}, nil
}

// Send implements RemoteSink. Span timing is reconstructed from the
// already-completed SpanData rather than live context propagation,
// since spans here arrive after the fact from the repository path.
func (s *OTLPSink) Send(span store.SpanData) {
	end := span.StartTime
	if span.EndTime != nil {
		end = *span.EndTime
	}
	_, otelSpan := s.tracer.Start(context.Background(), span.Name,
		oteltrace.WithTimestamp(span.StartTime),
		oteltrace.WithAttributes(
			attribute.String("span.type", span.SpanType),
			attribute.String("span.status", span.Status),
		),
	)
	if span.Model != "" {
		otelSpan.SetAttributes(attribute.String("gen_ai.response.model", span.Model))
	}
	if span.InputTokens > 0 {
		otelSpan.SetAttributes(attribute.Int("gen_ai.usage.input_tokens", span.InputTokens))
	}
	if span.OutputTokens > 0 {
		otelSpan.SetAttributes(attribute.Int("gen_ai.usage.output_tokens", span.OutputTokens))
	}
	if span.Error != "" {
		otelSpan.SetAttributes(attribute.String("error.message", span.Error))
	}
	otelSpan.End(oteltrace.WithTimestamp(end))
}

// Shutdown flushes buffered spans. Logs rather than returns the error
// since it runs from a best-effort background path.
func (s *OTLPSink) Shutdown(ctx context.Context) {
	if err := s.tp.Shutdown(ctx); err != nil {
		slog.Warn("tracing: otlp sink shutdown failed", "error", err)
	}
}
