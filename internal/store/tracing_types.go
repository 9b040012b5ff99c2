package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	SpanTypeLLMCall  = "llm_call"
	SpanTypeToolCall = "tool_call"
	SpanTypeAgent    = "agent"
	SpanTypeGuardrail = "guardrail"
	SpanTypeRetrieval = "retrieval"
	SpanTypeOther    = "other"

	SpanStatusCompleted = "completed"
	SpanStatusError     = "error"

	SpanLevelDefault = "DEFAULT"
)

// SpanData is the wire shape the agent loop and tool executor emit spans
// in; the tracing collector (C6) persists it via the repository and,
// when configured, mirrors it to a remote OTel collector and a live
// websocket stream.
type SpanData struct {
	ID            uuid.UUID
	TraceID       uuid.UUID
	ParentSpanID  *uuid.UUID
	AgentID       *uuid.UUID
	SpanType      string
	Name          string
	StartTime     time.Time
	EndTime       *time.Time
	DurationMS    int
	Model         string
	Provider      string
	ToolName      string
	ToolCallID    string
	InputPreview  string
	OutputPreview string
	FinishReason  string
	Status        string
	Level         string
	Error         string
	InputTokens   int
	OutputTokens  int
	Metadata      json.RawMessage
	CreatedAt     time.Time
}

// TracingStore persists trace/span/score records (managed mode only; nil
// in standalone deployments that rely solely on internal/tracing's
// repository-backed collector).
type TracingStore interface {
	EmitSpan(span SpanData)
}
