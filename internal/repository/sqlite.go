package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRepository implements Repository against an embedded SQLite
// database via modernc.org/sqlite (pure Go, no cgo), the default backend
// for a single-instance deployment. UUIDs and JSON columns are stored as
// TEXT; string slices are JSON-encoded.
type SQLiteRepository struct {
	db     *sql.DB
	vector VectorIndex
}

// NewSQLiteRepository opens (creating if absent) the database file at
// path and ensures the schema exists.
func NewSQLiteRepository(ctx context.Context, path string, vector VectorIndex) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if vector == nil {
		vector = noopVectorIndex{}
	}
	r := &SQLiteRepository{db: db, vector: vector}
	if err := r.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, sqliteSchema)
	if err != nil {
		return fmt.Errorf("repository: ensure sqlite schema: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Close() error { return r.db.Close() }

func (r *SQLiteRepository) GetOrCreateConversation(ctx context.Context, principal string) (*Conversation, error) {
	now := time.Now().UTC()
	id := uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, principal, archived, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(principal) DO NOTHING`, id.String(), principal, now, now)
	if err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}

	c := &Conversation{}
	var idStr string
	var archived int
	err = r.db.QueryRowContext(ctx, `
		SELECT id, principal, archived, created_at, updated_at FROM conversations WHERE principal = ?`, principal).
		Scan(&idStr, &c.Principal, &archived, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}
	c.ID = uuid.MustParse(idStr)
	c.Archived = archived != 0
	return c, nil
}

func (r *SQLiteRepository) SaveMessage(ctx context.Context, convID uuid.UUID, role, text, providerMessageID string) (*Message, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, text, provider_message_id, created_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?)`, convID.String(), role, text, providerMessageID, now)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, ConversationID: convID, Role: role, Text: text, ProviderMessageID: providerMessageID, CreatedAt: now}, nil
}

func (r *SQLiteRepository) GetRecentMessages(ctx context.Context, convID uuid.UUID, n int) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, text, COALESCE(provider_message_id, ''), created_at
		FROM (
			SELECT * FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		) recent ORDER BY id ASC`, convID.String(), n)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var convIDStr string
		if err := rows.Scan(&m.ID, &convIDStr, &m.Role, &m.Text, &m.ProviderMessageID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ConversationID = uuid.MustParse(convIDStr)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetWindowedHistory(ctx context.Context, convID uuid.UUID, verbatimN int) (*WindowedHistory, error) {
	tail, err := r.GetRecentMessages(ctx, convID, verbatimN)
	if err != nil {
		return nil, err
	}
	older, err := r.LatestSummary(ctx, convID)
	if err == ErrNotFound {
		older = nil
	} else if err != nil {
		return nil, err
	}
	return &WindowedHistory{Tail: tail, Older: older}, nil
}

func (r *SQLiteRepository) LatestSummary(ctx context.Context, convID uuid.UUID) (*Summary, error) {
	s := &Summary{}
	var convIDStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, text, covered_message_count, created_at
		FROM summaries WHERE conversation_id = ? ORDER BY id DESC LIMIT 1`, convID.String()).
		Scan(&s.ID, &convIDStr, &s.Text, &s.CoveredMessageCount, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest summary: %w", err)
	}
	s.ConversationID = uuid.MustParse(convIDStr)
	return s, nil
}

func (r *SQLiteRepository) WriteSummary(ctx context.Context, convID uuid.UUID, text string, coveredMessageCount int) (*Summary, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO summaries (conversation_id, text, covered_message_count, created_at)
		VALUES (?, ?, ?, ?)`, convID.String(), text, coveredMessageCount, now)
	if err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Summary{ID: id, ConversationID: convID, Text: text, CoveredMessageCount: coveredMessageCount, CreatedAt: now}, nil
}

func (r *SQLiteRepository) ClearMessages(ctx context.Context, convID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, convID.String())
	if err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AddMemory(ctx context.Context, text, category string) (*Memory, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO memories (text, category, active, created_at) VALUES (?, NULLIF(?, ''), 1, ?)`,
		text, category, now)
	if err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Memory{ID: id, Text: text, Category: category, Active: true, CreatedAt: now}, nil
}

func (r *SQLiteRepository) SoftDeleteMemory(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE memories SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("soft delete memory: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListActiveMemories(ctx context.Context, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, COALESCE(category, ''), active, created_at
		FROM memories WHERE active = 1 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list active memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		var active int
		if err := rows.Scan(&m.ID, &m.Text, &m.Category, &active, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Active = active != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SearchSimilarMemories(ctx context.Context, embedding []float32, k int) ([]SimilarResult, error) {
	return r.vector.SearchSimilar(ctx, memoryCollection, embedding, k, 0)
}

func (r *SQLiteRepository) SearchSimilarMemoriesWithThreshold(ctx context.Context, embedding []float32, k int, threshold float64) ([]SimilarResult, error) {
	return r.vector.SearchSimilar(ctx, memoryCollection, embedding, k, threshold)
}

func (r *SQLiteRepository) AddNote(ctx context.Context, principal, title, content string) (*Note, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO notes (principal, title, content, created_at) VALUES (?, ?, ?, ?)`,
		principal, title, content, now)
	if err != nil {
		return nil, fmt.Errorf("add note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Note{ID: id, Principal: principal, Title: title, Content: content, CreatedAt: now}, nil
}

func (r *SQLiteRepository) ListNotes(ctx context.Context, principal string) ([]Note, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, principal, title, content, created_at FROM notes WHERE principal = ? ORDER BY id DESC`, principal)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Principal, &n.Title, &n.Content, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) StartTrace(ctx context.Context, principal, messageType string) (*Trace, error) {
	now := time.Now().UTC()
	id := uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO traces (id, principal, message_type, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id.String(), principal, messageType, TraceStatusStarted, now)
	if err != nil {
		return nil, fmt.Errorf("start trace: %w", err)
	}
	return &Trace{ID: id, Principal: principal, MessageType: messageType, Status: TraceStatusStarted, StartedAt: now}, nil
}

func (r *SQLiteRepository) FinishTrace(ctx context.Context, id uuid.UUID, status, providerMessageID string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE traces SET status = ?, completed_at = ?,
		       provider_message_id = COALESCE(NULLIF(?, ''), provider_message_id)
		WHERE id = ?`, status, now, providerMessageID, id.String())
	if err != nil {
		return fmt.Errorf("finish trace: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AppendSpan(ctx context.Context, span *Span) error {
	id := uuid.New()
	var parent interface{}
	if span.ParentSpanID != nil {
		parent = span.ParentSpanID.String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO spans (id, trace_id, parent_span_id, name, kind, status, started_at, latency_ms, input_payload, output_payload, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), span.TraceID.String(), parent, span.Name, span.Kind, span.Status, span.StartedAt,
		span.LatencyMillis, nullIfEmpty(span.InputPayload), nullIfEmpty(truncate(span.OutputPayload, 1000)), jsonText(span.Metadata))
	if err != nil {
		return fmt.Errorf("append span: %w", err)
	}
	span.ID = id
	return nil
}

func (r *SQLiteRepository) AppendScore(ctx context.Context, score *Score) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO scores (trace_id, name, value, source, comment) VALUES (?, ?, ?, ?, ?)`,
		score.TraceID.String(), score.Name, score.Value, score.Source, nullIfEmpty(score.Comment))
	if err != nil {
		return fmt.Errorf("append score: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	score.ID = id
	return nil
}

func (r *SQLiteRepository) GetTracesByPrincipal(ctx context.Context, principal string, limit int) ([]Trace, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, principal, message_type, status, started_at, completed_at, COALESCE(provider_message_id, '')
		FROM traces WHERE principal = ? ORDER BY started_at DESC LIMIT ?`, principal, limit)
	if err != nil {
		return nil, fmt.Errorf("get traces by principal: %w", err)
	}
	defer rows.Close()

	var out []Trace
	for rows.Next() {
		var t Trace
		var idStr string
		if err := rows.Scan(&idStr, &t.Principal, &t.MessageType, &t.Status, &t.StartedAt, &t.CompletedAt, &t.ProviderMessageID); err != nil {
			return nil, err
		}
		t.ID = uuid.MustParse(idStr)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetToolCallSpans(ctx context.Context, traceID uuid.UUID) ([]Span, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, trace_id, parent_span_id, name, kind, status, started_at, latency_ms,
		       COALESCE(input_payload, ''), COALESCE(output_payload, ''), COALESCE(metadata, '{}')
		FROM spans WHERE trace_id = ? AND kind = ? ORDER BY started_at ASC`, traceID.String(), SpanKindTool)
	if err != nil {
		return nil, fmt.Errorf("get tool call spans: %w", err)
	}
	defer rows.Close()

	var out []Span
	for rows.Next() {
		var s Span
		var idStr, traceIDStr string
		var parent sql.NullString
		var meta string
		if err := rows.Scan(&idStr, &traceIDStr, &parent, &s.Name, &s.Kind, &s.Status, &s.StartedAt,
			&s.LatencyMillis, &s.InputPayload, &s.OutputPayload, &meta); err != nil {
			return nil, err
		}
		s.ID = uuid.MustParse(idStr)
		s.TraceID = uuid.MustParse(traceIDStr)
		if parent.Valid {
			p := uuid.MustParse(parent.String)
			s.ParentSpanID = &p
		}
		s.Metadata = json.RawMessage(meta)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CleanupTracesOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := r.db.ExecContext(ctx, `DELETE FROM traces WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup traces: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) AddDatasetEntry(ctx context.Context, entry *DatasetEntry) (*DatasetEntry, error) {
	now := time.Now().UTC()
	var traceID interface{}
	if entry.TraceID != nil {
		traceID = entry.TraceID.String()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dataset_entries (trace_id, entry_type, input, output, expected_output, metadata, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		traceID, entry.EntryType, entry.Input, entry.Output, nullIfEmpty(entry.ExpectedOutput),
		jsonText(entry.Metadata), tagsText(entry.Tags), now)
	if err != nil {
		return nil, fmt.Errorf("add dataset entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	entry.ID = id
	entry.CreatedAt = now
	return entry, nil
}

func (r *SQLiteRepository) ExportDatasetJSONL(ctx context.Context, entryType string) ([]byte, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, trace_id, entry_type, input, output, COALESCE(expected_output, ''),
		       COALESCE(metadata, '{}'), COALESCE(tags, '[]'), created_at
		FROM dataset_entries WHERE entry_type = ? ORDER BY id ASC`, entryType)
	if err != nil {
		return nil, fmt.Errorf("export dataset: %w", err)
	}
	defer rows.Close()

	var buf strings.Builder
	for rows.Next() {
		var e DatasetEntry
		var traceID sql.NullString
		var meta, tags string
		if err := rows.Scan(&e.ID, &traceID, &e.EntryType, &e.Input, &e.Output, &e.ExpectedOutput, &meta, &tags, &e.CreatedAt); err != nil {
			return nil, err
		}
		if traceID.Valid {
			t := uuid.MustParse(traceID.String)
			e.TraceID = &t
		}
		e.Metadata = json.RawMessage(meta)
		_ = json.Unmarshal([]byte(tags), &e.Tags)
		line, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return []byte(buf.String()), rows.Err()
}

func (r *SQLiteRepository) SavePromptVersion(ctx context.Context, name, content, createdBy string) (*PromptVersion, error) {
	now := time.Now().UTC()
	var maxVersion int
	_ = r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM prompt_versions WHERE prompt_name = ?`, name).Scan(&maxVersion)
	version := maxVersion + 1
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO prompt_versions (prompt_name, version, content, is_active, created_by, created_at)
		VALUES (?, ?, ?, 0, ?, ?)`, name, version, content, createdBy, now)
	if err != nil {
		return nil, fmt.Errorf("save prompt version: %w", err)
	}
	return &PromptVersion{PromptName: name, Version: version, Content: content, CreatedBy: createdBy, CreatedAt: now}, nil
}

func (r *SQLiteRepository) ActivatePromptVersion(ctx context.Context, name string, version int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("activate prompt version: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE prompt_versions SET is_active = 0 WHERE prompt_name = ?`, name); err != nil {
		return fmt.Errorf("deactivate existing prompt versions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE prompt_versions SET is_active = 1 WHERE prompt_name = ? AND version = ?`, name, version)
	if err != nil {
		return fmt.Errorf("activate prompt version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetActivePrompt(ctx context.Context, name string) (*PromptVersion, error) {
	p := &PromptVersion{PromptName: name}
	var active int
	err := r.db.QueryRowContext(ctx, `
		SELECT version, content, is_active, created_by, created_at
		FROM prompt_versions WHERE prompt_name = ? AND is_active = 1 LIMIT 1`, name).
		Scan(&p.Version, &p.Content, &active, &p.CreatedBy, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active prompt: %w", err)
	}
	p.IsActive = active != 0
	return p, nil
}

func (r *SQLiteRepository) GetStickyCategories(ctx context.Context, convID uuid.UUID) ([]string, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT sticky_categories FROM conversation_state WHERE conversation_id = ?`, convID.String()).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sticky categories: %w", err)
	}
	var cats []string
	_ = json.Unmarshal([]byte(raw), &cats)
	return cats, nil
}

func (r *SQLiteRepository) SetStickyCategories(ctx context.Context, convID uuid.UUID, categories []string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_state (conversation_id, sticky_categories, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET sticky_categories = excluded.sticky_categories, updated_at = excluded.updated_at`,
		convID.String(), tagsText(categories), now)
	if err != nil {
		return fmt.Errorf("set sticky categories: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SaveCronJob(ctx context.Context, job *CronJob) (*CronJob, error) {
	if job.Timezone == "" {
		job.Timezone = "UTC"
	}
	now := time.Now().UTC()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
		job.CreatedAt = now
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO cron_jobs (id, principal, expression, message, timezone, active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			job.ID.String(), job.Principal, job.Expression, job.Message, job.Timezone, job.Active, now)
		if err != nil {
			return nil, fmt.Errorf("save cron job: %w", err)
		}
		return job, nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE cron_jobs SET expression = ?, message = ?, timezone = ?, active = ? WHERE id = ?`,
		job.Expression, job.Message, job.Timezone, job.Active, job.ID.String())
	if err != nil {
		return nil, fmt.Errorf("update cron job: %w", err)
	}
	return job, nil
}

func (r *SQLiteRepository) ListActiveCronJobs(ctx context.Context) ([]CronJob, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, principal, expression, message, timezone, active, created_at
		FROM cron_jobs WHERE active = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active cron jobs: %w", err)
	}
	defer rows.Close()

	var out []CronJob
	for rows.Next() {
		var c CronJob
		var idStr string
		var active int
		if err := rows.Scan(&idStr, &c.Principal, &c.Expression, &c.Message, &c.Timezone, &active, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ID = uuid.MustParse(idStr)
		c.Active = active != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) DeleteCronJob(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete cron job: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CreateAgentSession(ctx context.Context, principal, objective string) (*AgentSession, error) {
	now := time.Now().UTC()
	id := uuid.New()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (id, principal, objective, status, round_count, cancel_signal, created_at)
		VALUES (?, ?, ?, ?, 0, 0, ?)`, id.String(), principal, objective, AgentSessionRunning, now)
	if err != nil {
		return nil, fmt.Errorf("create agent session: %w", err)
	}
	return &AgentSession{ID: id, Principal: principal, Objective: objective, Status: AgentSessionRunning, CreatedAt: now}, nil
}

func (r *SQLiteRepository) GetAgentSession(ctx context.Context, id uuid.UUID) (*AgentSession, error) {
	s := &AgentSession{ID: id}
	var plan string
	var cancelSignal int
	err := r.db.QueryRowContext(ctx, `
		SELECT principal, objective, status, COALESCE(plan, '{}'), COALESCE(task_plan_markdown, ''),
		       COALESCE(scratchpad, ''), round_count, cancel_signal, created_at
		FROM agent_sessions WHERE id = ?`, id.String()).
		Scan(&s.Principal, &s.Objective, &s.Status, &plan, &s.TaskPlanMarkdown, &s.Scratchpad,
			&s.RoundCount, &cancelSignal, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent session: %w", err)
	}
	s.Plan = json.RawMessage(plan)
	s.CancelSignal = cancelSignal != 0
	return s, nil
}

func (r *SQLiteRepository) UpdateAgentSession(ctx context.Context, session *AgentSession) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE agent_sessions SET status = ?, plan = ?, task_plan_markdown = ?,
		       scratchpad = ?, round_count = ?, cancel_signal = ?
		WHERE id = ?`,
		session.Status, jsonText(session.Plan), session.TaskPlanMarkdown, session.Scratchpad,
		session.RoundCount, session.CancelSignal, session.ID.String())
	if err != nil {
		return fmt.Errorf("update agent session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AppendAgentRound(ctx context.Context, sessionID uuid.UUID, round int, record []byte) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_session_rounds (session_id, round, record, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, round) DO UPDATE SET record = excluded.record`,
		sessionID.String(), round, string(record), now)
	if err != nil {
		return fmt.Errorf("append agent round: %w", err)
	}
	return nil
}

func jsonText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func tagsText(tags []string) string {
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	principal TEXT NOT NULL UNIQUE,
	archived INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	text TEXT NOT NULL,
	provider_message_id TEXT UNIQUE,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
CREATE TABLE IF NOT EXISTS summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	text TEXT NOT NULL,
	covered_message_count INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS memories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	category TEXT,
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS notes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	principal TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS traces (
	id TEXT PRIMARY KEY,
	principal TEXT NOT NULL,
	message_type TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	provider_message_id TEXT
);
CREATE TABLE IF NOT EXISTS spans (
	id TEXT PRIMARY KEY,
	trace_id TEXT NOT NULL,
	parent_span_id TEXT,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	input_payload TEXT,
	output_payload TEXT,
	metadata TEXT
);
CREATE TABLE IF NOT EXISTS scores (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT NOT NULL,
	name TEXT NOT NULL,
	value REAL NOT NULL,
	source TEXT NOT NULL,
	comment TEXT
);
CREATE TABLE IF NOT EXISTS dataset_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT,
	entry_type TEXT NOT NULL,
	input TEXT NOT NULL,
	output TEXT NOT NULL,
	expected_output TEXT,
	metadata TEXT,
	tags TEXT,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS prompt_versions (
	prompt_name TEXT NOT NULL,
	version INTEGER NOT NULL,
	content TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 0,
	created_by TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (prompt_name, version)
);
CREATE TABLE IF NOT EXISTS conversation_state (
	conversation_id TEXT PRIMARY KEY,
	sticky_categories TEXT NOT NULL DEFAULT '[]',
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS cron_jobs (
	id TEXT PRIMARY KEY,
	principal TEXT NOT NULL,
	expression TEXT NOT NULL,
	message TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	active INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_sessions (
	id TEXT PRIMARY KEY,
	principal TEXT NOT NULL,
	objective TEXT NOT NULL,
	status TEXT NOT NULL,
	plan TEXT,
	task_plan_markdown TEXT,
	scratchpad TEXT,
	round_count INTEGER NOT NULL DEFAULT 0,
	cancel_signal INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_session_rounds (
	session_id TEXT NOT NULL,
	round INTEGER NOT NULL,
	record TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, round)
);
`
