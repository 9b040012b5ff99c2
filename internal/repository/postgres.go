package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository against a Postgres database via
// pgx/v5, for multi-instance deployments.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	vector VectorIndex
}

// NewPostgresRepository connects a pool to dsn. vector may be nil, in
// which case similarity search always returns no results.
func NewPostgresRepository(ctx context.Context, dsn string, vector VectorIndex) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("repository: ping postgres: %w", err)
	}
	if vector == nil {
		vector = noopVectorIndex{}
	}
	return &PostgresRepository{pool: pool, vector: vector}, nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) GetOrCreateConversation(ctx context.Context, principal string) (*Conversation, error) {
	c := &Conversation{}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO conversations (principal) VALUES ($1)
		ON CONFLICT (principal) DO UPDATE SET principal = EXCLUDED.principal
		RETURNING id, principal, archived, created_at, updated_at`, principal).
		Scan(&c.ID, &c.Principal, &c.Archived, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) SaveMessage(ctx context.Context, convID uuid.UUID, role, text, providerMessageID string) (*Message, error) {
	m := &Message{ConversationID: convID, Role: role, Text: text, ProviderMessageID: providerMessageID}
	var pmID *string
	if providerMessageID != "" {
		pmID = &providerMessageID
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, text, provider_message_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`, convID, role, text, pmID).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) GetRecentMessages(ctx context.Context, convID uuid.UUID, n int) ([]Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, role, text, COALESCE(provider_message_id, ''), created_at
		FROM (
			SELECT * FROM messages WHERE conversation_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`, convID, n)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *PostgresRepository) GetWindowedHistory(ctx context.Context, convID uuid.UUID, verbatimN int) (*WindowedHistory, error) {
	tail, err := r.GetRecentMessages(ctx, convID, verbatimN)
	if err != nil {
		return nil, err
	}
	older, err := r.LatestSummary(ctx, convID)
	if err != nil && err != ErrNotFound {
		return nil, err
	}
	if err == ErrNotFound {
		older = nil
	}
	return &WindowedHistory{Tail: tail, Older: older}, nil
}

func (r *PostgresRepository) LatestSummary(ctx context.Context, convID uuid.UUID) (*Summary, error) {
	s := &Summary{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, conversation_id, text, covered_message_count, created_at
		FROM summaries WHERE conversation_id = $1 ORDER BY id DESC LIMIT 1`, convID).
		Scan(&s.ID, &s.ConversationID, &s.Text, &s.CoveredMessageCount, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest summary: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) WriteSummary(ctx context.Context, convID uuid.UUID, text string, coveredMessageCount int) (*Summary, error) {
	s := &Summary{ConversationID: convID, Text: text, CoveredMessageCount: coveredMessageCount}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO summaries (conversation_id, text, covered_message_count)
		VALUES ($1, $2, $3) RETURNING id, created_at`, convID, text, coveredMessageCount).
		Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("write summary: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) ClearMessages(ctx context.Context, convID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, convID)
	if err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddMemory(ctx context.Context, text, category string) (*Memory, error) {
	m := &Memory{Text: text, Category: category, Active: true}
	var cat *string
	if category != "" {
		cat = &category
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO memories (text, category) VALUES ($1, $2)
		RETURNING id, created_at`, text, cat).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) SoftDeleteMemory(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE memories SET active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("soft delete memory: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListActiveMemories(ctx context.Context, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, text, COALESCE(category, ''), active, created_at
		FROM memories WHERE active ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list active memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.Text, &m.Category, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SearchSimilarMemories(ctx context.Context, embedding []float32, k int) ([]SimilarResult, error) {
	return r.vector.SearchSimilar(ctx, memoryCollection, embedding, k, 0)
}

func (r *PostgresRepository) SearchSimilarMemoriesWithThreshold(ctx context.Context, embedding []float32, k int, threshold float64) ([]SimilarResult, error) {
	return r.vector.SearchSimilar(ctx, memoryCollection, embedding, k, threshold)
}

func (r *PostgresRepository) AddNote(ctx context.Context, principal, title, content string) (*Note, error) {
	n := &Note{Principal: principal, Title: title, Content: content}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notes (principal, title, content) VALUES ($1, $2, $3)
		RETURNING id, created_at`, principal, title, content).
		Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add note: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ListNotes(ctx context.Context, principal string) ([]Note, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, principal, title, content, created_at
		FROM notes WHERE principal = $1 ORDER BY id DESC`, principal)
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

func (r *PostgresRepository) StartTrace(ctx context.Context, principal, messageType string) (*Trace, error) {
	t := &Trace{Principal: principal, MessageType: messageType, Status: TraceStatusStarted}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO traces (principal, message_type, status) VALUES ($1, $2, $3)
		RETURNING id, started_at`, principal, messageType, TraceStatusStarted).
		Scan(&t.ID, &t.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("start trace: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) FinishTrace(ctx context.Context, id uuid.UUID, status, providerMessageID string) error {
	var pmID *string
	if providerMessageID != "" {
		pmID = &providerMessageID
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE traces SET status = $1, completed_at = $2, provider_message_id = COALESCE($3, provider_message_id)
		WHERE id = $4`, status, time.Now().UTC(), pmID, id)
	if err != nil {
		return fmt.Errorf("finish trace: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AppendSpan(ctx context.Context, span *Span) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO spans (id, trace_id, parent_span_id, name, kind, status, started_at, latency_ms, input_payload, output_payload, metadata)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`, span.TraceID, span.ParentSpanID, span.Name, span.Kind, span.Status,
		span.StartedAt, span.LatencyMillis, nullIfEmpty(span.InputPayload), nullIfEmpty(truncate(span.OutputPayload, 1000)), jsonOrNull(span.Metadata))
	if err != nil {
		return fmt.Errorf("append span: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AppendScore(ctx context.Context, score *Score) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO scores (trace_id, name, value, source, comment)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		score.TraceID, score.Name, score.Value, score.Source, nullIfEmpty(score.Comment)).
		Scan(&score.ID)
	if err != nil {
		return fmt.Errorf("append score: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetTracesByPrincipal(ctx context.Context, principal string, limit int) ([]Trace, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, principal, message_type, status, started_at, completed_at, COALESCE(provider_message_id, '')
		FROM traces WHERE principal = $1 ORDER BY started_at DESC LIMIT $2`, principal, limit)
	if err != nil {
		return nil, fmt.Errorf("get traces by principal: %w", err)
	}
	defer rows.Close()

	var out []Trace
	for rows.Next() {
		var t Trace
		if err := rows.Scan(&t.ID, &t.Principal, &t.MessageType, &t.Status, &t.StartedAt, &t.CompletedAt, &t.ProviderMessageID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetToolCallSpans(ctx context.Context, traceID uuid.UUID) ([]Span, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, trace_id, parent_span_id, name, kind, status, started_at, latency_ms,
		       COALESCE(input_payload, ''), COALESCE(output_payload, ''), COALESCE(metadata, '{}')
		FROM spans WHERE trace_id = $1 AND kind = $2 ORDER BY started_at ASC`, traceID, SpanKindTool)
	if err != nil {
		return nil, fmt.Errorf("get tool call spans: %w", err)
	}
	defer rows.Close()

	var out []Span
	for rows.Next() {
		var s Span
		var meta []byte
		if err := rows.Scan(&s.ID, &s.TraceID, &s.ParentSpanID, &s.Name, &s.Kind, &s.Status, &s.StartedAt,
			&s.LatencyMillis, &s.InputPayload, &s.OutputPayload, &meta); err != nil {
			return nil, err
		}
		s.Metadata = meta
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CleanupTracesOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM traces WHERE started_at < now() - ($1 || ' days')::interval`, days)
	if err != nil {
		return 0, fmt.Errorf("cleanup traces: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) AddDatasetEntry(ctx context.Context, entry *DatasetEntry) (*DatasetEntry, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO dataset_entries (trace_id, entry_type, input, output, expected_output, metadata, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		entry.TraceID, entry.EntryType, entry.Input, entry.Output, nullIfEmpty(entry.ExpectedOutput),
		jsonOrNull(entry.Metadata), entry.Tags).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add dataset entry: %w", err)
	}
	return entry, nil
}

func (r *PostgresRepository) ExportDatasetJSONL(ctx context.Context, entryType string) ([]byte, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, trace_id, entry_type, input, output, COALESCE(expected_output, ''),
		       COALESCE(metadata, '{}'), COALESCE(tags, '{}'), created_at
		FROM dataset_entries WHERE entry_type = $1 ORDER BY id ASC`, entryType)
	if err != nil {
		return nil, fmt.Errorf("export dataset: %w", err)
	}
	defer rows.Close()

	var buf strings.Builder
	for rows.Next() {
		var e DatasetEntry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.TraceID, &e.EntryType, &e.Input, &e.Output, &e.ExpectedOutput,
			&meta, &e.Tags, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = meta
		line, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return []byte(buf.String()), rows.Err()
}

func (r *PostgresRepository) SavePromptVersion(ctx context.Context, name, content, createdBy string) (*PromptVersion, error) {
	p := &PromptVersion{PromptName: name, Content: content, CreatedBy: createdBy}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO prompt_versions (prompt_name, version, content, created_by)
		VALUES ($1, COALESCE((SELECT MAX(version) FROM prompt_versions WHERE prompt_name = $1), 0) + 1, $2, $3)
		RETURNING version, created_at`, name, content, createdBy).
		Scan(&p.Version, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save prompt version: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) ActivatePromptVersion(ctx context.Context, name string, version int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("activate prompt version: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE prompt_versions SET is_active = false WHERE prompt_name = $1`, name); err != nil {
		return fmt.Errorf("deactivate existing prompt versions: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE prompt_versions SET is_active = true WHERE prompt_name = $1 AND version = $2`, name, version)
	if err != nil {
		return fmt.Errorf("activate prompt version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) GetActivePrompt(ctx context.Context, name string) (*PromptVersion, error) {
	p := &PromptVersion{PromptName: name}
	err := r.pool.QueryRow(ctx, `
		SELECT version, content, is_active, created_by, created_at
		FROM prompt_versions WHERE prompt_name = $1 AND is_active LIMIT 1`, name).
		Scan(&p.Version, &p.Content, &p.IsActive, &p.CreatedBy, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active prompt: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) GetStickyCategories(ctx context.Context, convID uuid.UUID) ([]string, error) {
	var cats []string
	err := r.pool.QueryRow(ctx, `
		SELECT sticky_categories FROM conversation_state WHERE conversation_id = $1`, convID).Scan(&cats)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sticky categories: %w", err)
	}
	return cats, nil
}

func (r *PostgresRepository) SetStickyCategories(ctx context.Context, convID uuid.UUID, categories []string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_state (conversation_id, sticky_categories, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (conversation_id) DO UPDATE SET sticky_categories = EXCLUDED.sticky_categories, updated_at = now()`,
		convID, categories)
	if err != nil {
		return fmt.Errorf("set sticky categories: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveCronJob(ctx context.Context, job *CronJob) (*CronJob, error) {
	if job.Timezone == "" {
		job.Timezone = "UTC"
	}
	var id uuid.UUID
	var createdAt time.Time
	if job.ID == uuid.Nil {
		err := r.pool.QueryRow(ctx, `
			INSERT INTO cron_jobs (principal, expression, message, timezone, active)
			VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
			job.Principal, job.Expression, job.Message, job.Timezone, job.Active).
			Scan(&id, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("save cron job: %w", err)
		}
		job.ID = id
		job.CreatedAt = createdAt
		return job, nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE cron_jobs SET expression = $1, message = $2, timezone = $3, active = $4 WHERE id = $5`,
		job.Expression, job.Message, job.Timezone, job.Active, job.ID)
	if err != nil {
		return nil, fmt.Errorf("update cron job: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) ListActiveCronJobs(ctx context.Context) ([]CronJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, principal, expression, message, timezone, active, created_at
		FROM cron_jobs WHERE active ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active cron jobs: %w", err)
	}
	defer rows.Close()

	var out []CronJob
	for rows.Next() {
		var c CronJob
		if err := rows.Scan(&c.ID, &c.Principal, &c.Expression, &c.Message, &c.Timezone, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DeleteCronJob(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cron_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cron job: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CreateAgentSession(ctx context.Context, principal, objective string) (*AgentSession, error) {
	s := &AgentSession{Principal: principal, Objective: objective, Status: AgentSessionRunning}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO agent_sessions (principal, objective, status)
		VALUES ($1, $2, $3) RETURNING id, created_at`, principal, objective, AgentSessionRunning).
		Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create agent session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetAgentSession(ctx context.Context, id uuid.UUID) (*AgentSession, error) {
	s := &AgentSession{ID: id}
	var plan []byte
	err := r.pool.QueryRow(ctx, `
		SELECT principal, objective, status, COALESCE(plan, '{}'), COALESCE(task_plan_markdown, ''),
		       COALESCE(scratchpad, ''), round_count, cancel_signal, created_at
		FROM agent_sessions WHERE id = $1`, id).
		Scan(&s.Principal, &s.Objective, &s.Status, &plan, &s.TaskPlanMarkdown, &s.Scratchpad,
			&s.RoundCount, &s.CancelSignal, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent session: %w", err)
	}
	s.Plan = plan
	return s, nil
}

func (r *PostgresRepository) UpdateAgentSession(ctx context.Context, session *AgentSession) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE agent_sessions SET status = $1, plan = $2, task_plan_markdown = $3,
		       scratchpad = $4, round_count = $5, cancel_signal = $6
		WHERE id = $7`,
		session.Status, jsonOrNull(session.Plan), session.TaskPlanMarkdown, session.Scratchpad,
		session.RoundCount, session.CancelSignal, session.ID)
	if err != nil {
		return fmt.Errorf("update agent session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AppendAgentRound(ctx context.Context, sessionID uuid.UUID, round int, record []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO agent_session_rounds (session_id, round, record) VALUES ($1, $2, $3)
		ON CONFLICT (session_id, round) DO UPDATE SET record = EXCLUDED.record`,
		sessionID, round, record)
	if err != nil {
		return fmt.Errorf("append agent round: %w", err)
	}
	return nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Text, &m.ProviderMessageID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func jsonOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
