// Package repository implements the Repository contract (C4): the narrow
// persistence surface the rest of the core consumes for conversations,
// messages, memories, traces, dataset entries, prompts, sticky category
// state, cron jobs, and agent sessions. Two backends are provided: a
// Postgres backend for multi-instance deployments and a SQLite backend for
// the default single-instance one; both implement the same Repository
// interface so the core never branches on which is active.
package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BaseModel carries the identity and audit timestamps shared by every
// row-backed entity.
type BaseModel struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Conversation is identified by a principal (e.g. a phone number). It is
// lazily created on first inbound message and never deleted; archival is a
// tag, not a removal.
type Conversation struct {
	BaseModel
	Principal string `json:"principal"`
	Archived  bool   `json:"archived"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message belongs to a conversation. Ordering is strictly by ID.
type Message struct {
	ID                int64     `json:"id"`
	ConversationID    uuid.UUID `json:"conversation_id"`
	Role              string    `json:"role"`
	Text              string    `json:"text"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Summary belongs to a conversation and records how many messages its text
// covers. WriteSummary stores one; nothing in this module calls it.
type Summary struct {
	ID                  int64     `json:"id"`
	ConversationID      uuid.UUID `json:"conversation_id"`
	Text                string    `json:"text"`
	CoveredMessageCount int       `json:"covered_message_count"`
	CreatedAt           time.Time `json:"created_at"`
}

const (
	MemoryCategorySelfCorrection = "self_correction"
	MemoryCategoryNewsPref       = "news_pref"
)

// Memory is globally scoped free-form knowledge extracted from
// conversations. Category self_correction is never mirrored to the
// textual file; no TTL is applied to it.
type Memory struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Category  string    `json:"category,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Note is user-scoped free-text content.
type Note struct {
	ID        int64     `json:"id"`
	Principal string    `json:"principal"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SimilarResult pairs a memory or note row with its vector distance.
type SimilarResult struct {
	ID       int64   `json:"id"`
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}

const (
	TraceStatusStarted   = "started"
	TraceStatusCompleted = "completed"
	TraceStatusFailed    = "failed"

	MessageTypeChat  = "chat"
	MessageTypeAgent = "agent"
)

// Trace is the root unit of observability for one inbound message or
// agent run.
type Trace struct {
	ID                uuid.UUID  `json:"id"`
	Principal         string     `json:"principal"`
	MessageType       string     `json:"message_type"`
	Status            string     `json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
}

const (
	SpanKindGeneration = "generation"
	SpanKindTool       = "tool"
	SpanKindGuardrail  = "guardrail"
	SpanKindRetrieval  = "retrieval"
	SpanKindOther      = "other"
)

// Span belongs to a trace, optionally nested under a parent span. Output
// payloads are truncated to at most 1000 characters when the repository
// stores them.
type Span struct {
	ID            uuid.UUID       `json:"id"`
	TraceID       uuid.UUID       `json:"trace_id"`
	ParentSpanID  *uuid.UUID      `json:"parent_span_id,omitempty"`
	Name          string          `json:"name"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	LatencyMillis int64           `json:"latency_ms"`
	InputPayload  string          `json:"input_payload,omitempty"`
	OutputPayload string          `json:"output_payload,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

const (
	ScoreSourceSystem = "system"
	ScoreSourceUser   = "user"
	ScoreSourceHuman  = "human"
)

// Score attaches a named numeric judgment to a trace.
type Score struct {
	ID      int64     `json:"id"`
	TraceID uuid.UUID `json:"trace_id"`
	Name    string    `json:"name"`
	Value   float64   `json:"value"`
	Source  string    `json:"source"`
	Comment string    `json:"comment,omitempty"`
}

const (
	DatasetEntryFailure   = "failure"
	DatasetEntryGolden    = "golden"
	DatasetEntryCorrection = "correction"
)

// DatasetEntry is a curated example, optionally linked back to the trace
// it was harvested from.
type DatasetEntry struct {
	ID             int64           `json:"id"`
	TraceID        *uuid.UUID      `json:"trace_id,omitempty"`
	EntryType      string          `json:"entry_type"`
	Input          string          `json:"input"`
	Output         string          `json:"output"`
	ExpectedOutput string          `json:"expected_output,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

const (
	PromptCreatedByHuman = "human"
	PromptCreatedByAgent = "agent"
)

// PromptVersion is one immutable revision of a named prompt; at most one
// version per name may be active.
type PromptVersion struct {
	PromptName string    `json:"prompt_name"`
	Version    int       `json:"version"`
	Content    string    `json:"content"`
	IsActive   bool      `json:"is_active"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConversationState holds the sticky category set carried from the
// previous turn of a conversation.
type ConversationState struct {
	ConversationID   uuid.UUID `json:"conversation_id"`
	StickyCategories []string  `json:"sticky_categories"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CronJob is reconstructed into the in-process scheduler on startup.
type CronJob struct {
	ID         uuid.UUID `json:"id"`
	Principal  string    `json:"principal"`
	Expression string    `json:"expression"`
	Message    string    `json:"message"`
	Timezone   string    `json:"timezone"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	AgentSessionRunning       = "running"
	AgentSessionAwaitingHuman = "awaiting_human"
	AgentSessionCompleted     = "completed"
	AgentSessionFailed        = "failed"
	AgentSessionCancelled     = "cancelled"
)

// AgentSession is a planner/worker/synthesis run started by /agent.
type AgentSession struct {
	ID                uuid.UUID       `json:"id"`
	Principal         string          `json:"principal"`
	Objective         string          `json:"objective"`
	Status            string          `json:"status"`
	Plan              json.RawMessage `json:"plan,omitempty"`
	TaskPlanMarkdown  string          `json:"task_plan_markdown,omitempty"`
	Scratchpad        string          `json:"scratchpad,omitempty"`
	RoundCount        int             `json:"round_count"`
	CancelSignal      bool            `json:"cancel_signal"`
	CreatedAt         time.Time       `json:"created_at"`
}

// AgentSessionRound is one append-only journal entry for an agent session.
type AgentSessionRound struct {
	SessionID uuid.UUID       `json:"session_id"`
	Round     int             `json:"round"`
	Record    json.RawMessage `json:"record"`
	CreatedAt time.Time       `json:"created_at"`
}
