package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by single-row lookups when nothing matches.
var ErrNotFound = errors.New("repository: not found")

// WindowedHistory is the result of GetWindowedHistory: a verbatim tail of
// recent messages plus the latest summary covering whatever precedes it,
// if one exists.
type WindowedHistory struct {
	Tail    []Message
	Older   *Summary
}

// Repository is the narrow persistence contract the core consumes (C4).
// Implementations may back it with any store offering ordered integer or
// UUID ids and transactional inserts; writers must never starve readers.
type Repository interface {
	// Conversations & messages.
	GetOrCreateConversation(ctx context.Context, principal string) (*Conversation, error)
	SaveMessage(ctx context.Context, convID uuid.UUID, role, text, providerMessageID string) (*Message, error)
	GetRecentMessages(ctx context.Context, convID uuid.UUID, n int) ([]Message, error)
	GetWindowedHistory(ctx context.Context, convID uuid.UUID, verbatimN int) (*WindowedHistory, error)
	LatestSummary(ctx context.Context, convID uuid.UUID) (*Summary, error)
	WriteSummary(ctx context.Context, convID uuid.UUID, text string, coveredMessageCount int) (*Summary, error)
	ClearMessages(ctx context.Context, convID uuid.UUID) error

	// Memories.
	AddMemory(ctx context.Context, text, category string) (*Memory, error)
	SoftDeleteMemory(ctx context.Context, id int64) error
	ListActiveMemories(ctx context.Context, limit int) ([]Memory, error)
	SearchSimilarMemories(ctx context.Context, embedding []float32, k int) ([]SimilarResult, error)
	SearchSimilarMemoriesWithThreshold(ctx context.Context, embedding []float32, k int, threshold float64) ([]SimilarResult, error)

	// Notes.
	AddNote(ctx context.Context, principal, title, content string) (*Note, error)
	ListNotes(ctx context.Context, principal string) ([]Note, error)

	// Traces, spans, scores.
	StartTrace(ctx context.Context, principal, messageType string) (*Trace, error)
	FinishTrace(ctx context.Context, id uuid.UUID, status, providerMessageID string) error
	AppendSpan(ctx context.Context, span *Span) error
	AppendScore(ctx context.Context, score *Score) error
	GetTracesByPrincipal(ctx context.Context, principal string, limit int) ([]Trace, error)
	GetToolCallSpans(ctx context.Context, traceID uuid.UUID) ([]Span, error)
	CleanupTracesOlderThan(ctx context.Context, days int) (int64, error)

	// Dataset.
	AddDatasetEntry(ctx context.Context, entry *DatasetEntry) (*DatasetEntry, error)
	ExportDatasetJSONL(ctx context.Context, entryType string) ([]byte, error)

	// Prompts.
	SavePromptVersion(ctx context.Context, name, content, createdBy string) (*PromptVersion, error)
	ActivatePromptVersion(ctx context.Context, name string, version int) error
	GetActivePrompt(ctx context.Context, name string) (*PromptVersion, error)

	// Sticky category state.
	GetStickyCategories(ctx context.Context, convID uuid.UUID) ([]string, error)
	SetStickyCategories(ctx context.Context, convID uuid.UUID, categories []string) error

	// Cron jobs.
	SaveCronJob(ctx context.Context, job *CronJob) (*CronJob, error)
	ListActiveCronJobs(ctx context.Context) ([]CronJob, error)
	DeleteCronJob(ctx context.Context, id uuid.UUID) error

	// Agent sessions.
	CreateAgentSession(ctx context.Context, principal, objective string) (*AgentSession, error)
	GetAgentSession(ctx context.Context, id uuid.UUID) (*AgentSession, error)
	UpdateAgentSession(ctx context.Context, session *AgentSession) error
	AppendAgentRound(ctx context.Context, sessionID uuid.UUID, round int, record []byte) error

	// Close releases the underlying connection pool or handle.
	Close() error
}
