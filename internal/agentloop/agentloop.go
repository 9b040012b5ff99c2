// Package agentloop implements the slash-command-driven agent session
// (spec C12): a plan/execute/synthesize outer loop with a reactive
// fallback, loop detection, human-in-the-loop approval matching (a running
// session does not pause to wait for an approval), and a durable
// per-session journal.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/whatsclaw/internal/executor"
	"github.com/nextlevelbuilder/whatsclaw/internal/providers"
	"github.com/nextlevelbuilder/whatsclaw/internal/security"
)

const (
	defaultMaxReplans   = 3
	defaultMaxIterations = 15
	defaultToolBudget    = 8
)

// WorkerToolSets declares, per worker_type, which tool categories a
// spawned worker is pre-classified into — workers never run the
// classifier themselves.
var WorkerToolSets = map[string][]string{
	"reader":  {"web", "memory", "fs"},
	"coder":   {"fs", "runtime"},
	"analyst": {"memory", "web"},
	"general": {"memory", "web", "fs"},
}

// PlannerFunc drives one planner call (create_plan, synthesize, or
// replan) and returns the raw text response.
type PlannerFunc func(ctx context.Context, stage, objective, contextText string) (string, error)

// Config wires the loop's collaborators.
type Config struct {
	Executor     *executor.Executor
	Planner      PlannerFunc
	Security     func(toolName string, argsJSON []byte) security.Decision
	JournalDir   string
	MaxReplans   int
	MaxIterations int
	ToolBudget   int
	HITLTimeout  time.Duration
}

// Session is one running agent objective; not safe for concurrent use
// from more than one goroutine at a time (the orchestrator serializes
// rounds per principal already).
type Session struct {
	ID        uuid.UUID
	Principal string
	Objective string
	cfg       Config

	plan       Plan
	scratchpad string
	cancelled  bool

	pendingApproval *pendingCall
}

type pendingCall struct {
	ToolName  string
	ArgsJSON  []byte
	Requested time.Time
}

func New(cfg Config) *Session {
	if cfg.MaxReplans <= 0 {
		cfg.MaxReplans = defaultMaxReplans
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.ToolBudget <= 0 {
		cfg.ToolBudget = defaultToolBudget
	}
	if cfg.HITLTimeout <= 0 {
		cfg.HITLTimeout = 10 * time.Minute
	}
	return &Session{ID: uuid.New(), cfg: cfg}
}

// Cancel sets the session's cancel signal; the run checks it before the
// next batch of ready tasks or the next reactive round and stops there.
func (s *Session) Cancel() { s.cancelled = true }

// Run drives the full UNDERSTAND → EXECUTE → SYNTHESIZE pipeline,
// falling back to a reactive session when the create_plan or synthesize
// planner call returns an error.
func (s *Session) Run(ctx context.Context, principal, objective string) (string, error) {
	s.Principal = principal
	s.Objective = objective

	planText, err := s.cfg.Planner(ctx, "create_plan", objective, "")
	if err != nil {
		return s.runReactive(ctx, objective)
	}
	s.plan = parsePlan(planText)

	if err := s.execute(ctx); err != nil {
		return "", err
	}

	reply, err := s.synthesize(ctx)
	if err != nil {
		return s.runReactive(ctx, objective)
	}
	return reply, nil
}

// execute spawns a worker per ready task until the plan is complete or
// the session is cancelled; each worker is a single tool-executor call
// scoped to its worker_type's tool set.
func (s *Session) execute(ctx context.Context) error {
	for !s.plan.allDone() {
		if s.cancelled {
			return fmt.Errorf("agentloop: session cancelled")
		}
		ready := s.plan.ready()
		if len(ready) == 0 {
			break
		}
		for _, idx := range ready {
			task := &s.plan.Tasks[idx]
			toolDefs := s.toolDefsForWorker(task.WorkerType)
			out, err := s.cfg.Executor.Run(ctx, []providers.Message{
				{Role: "system", Content: "You are a " + task.WorkerType + " worker."},
				{Role: "user", Content: task.Description},
			}, toolDefs, "")
			if err != nil {
				task.Result = "error: " + err.Error()
			} else {
				task.Result = out.Content
			}
			task.Done = true
			s.appendJournal(len(s.plan.Tasks), nil, task.Result)
		}
	}
	return nil
}

func (s *Session) toolDefsForWorker(workerType string) []providers.ToolDefinition {
	// Workers are pre-classified by WorkerToolSets and resolved against the
	// same registry the executor already holds; the executor call here
	// intentionally passes nil tool defs when the caller hasn't wired a
	// category resolver, so this is a hook point for the orchestrator to
	// fill in from tools.Router.Select(WorkerToolSets[workerType]).
	return nil
}

// synthesize reviews finished task results and may replan up to
// MaxReplans times before emitting the final reply.
func (s *Session) synthesize(ctx context.Context) (string, error) {
	summary := s.summarizeResults()
	for attempt := 0; attempt < s.cfg.MaxReplans; attempt++ {
		reply, err := s.cfg.Planner(ctx, "synthesize", s.Objective, summary)
		if err != nil {
			return "", err
		}
		if !needsReplan(reply) {
			return reply, nil
		}
		replanText, err := s.cfg.Planner(ctx, "replan", s.Objective, summary)
		if err != nil {
			return reply, nil
		}
		s.plan = parsePlan(replanText)
		if err := s.execute(ctx); err != nil {
			return "", err
		}
		summary = s.summarizeResults()
	}
	return s.cfg.Planner(ctx, "synthesize", s.Objective, summary)
}

func needsReplan(reply string) bool {
	return strings.Contains(strings.ToLower(reply), "replan")
}

func (s *Session) summarizeResults() string {
	var b strings.Builder
	for _, t := range s.plan.Tasks {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", t.ID, t.Description, t.Result)
	}
	return b.String()
}

// runReactive is the fallback path when planning fails repeatedly: a
// bounded loop of executor rounds, re-injecting the task plan checklist
// and scratchpad between rounds, with tool-loop circuit breaking.
func (s *Session) runReactive(ctx context.Context, objective string) (string, error) {
	var detector reactiveLoopDetector
	messages := []providers.Message{
		{Role: "system", Content: "Work toward the objective. Use <scratchpad>...</scratchpad> to carry state between rounds."},
		{Role: "user", Content: objective},
	}

	for round := 0; round < s.cfg.MaxIterations; round++ {
		if s.cancelled {
			return "Session cancelled.", nil
		}

		if s.scratchpad != "" {
			messages = append(messages, providers.Message{Role: "user", Content: "Scratchpad: " + s.scratchpad})
		}
		messages = append(messages, providers.Message{Role: "user", Content: s.checklistText()})

		out, err := s.cfg.Executor.Run(ctx, messages, nil, "")
		if err != nil {
			return "", err
		}
		s.scratchpad = extractScratchpad(out.Content)
		s.appendJournal(round, out.ToolCalls, out.Content)

		for _, tc := range out.ToolCalls {
			level := detector.record(tc)
			if level == "critical" {
				return "I got stuck repeating the same action without progress and stopped.", nil
			}
			if level == "warning" {
				messages = append(messages, providers.Message{Role: "user", Content: "Tool " + tc + " has been called repeatedly; consider a different approach."})
			}
		}

		if len(out.ToolCalls) == 0 && s.plan.allDone() {
			return out.Content, nil
		}
		messages = append(messages, providers.Message{Role: "assistant", Content: out.Content})
	}
	return "Reached the round limit without finishing the objective.", nil
}

func (s *Session) checklistText() string {
	var b strings.Builder
	b.WriteString("Task plan:\n")
	for _, t := range s.plan.Tasks {
		box := "[ ]"
		if t.Done {
			box = "[x]"
		}
		fmt.Fprintf(&b, "%s %s\n", box, t.Description)
	}
	return b.String()
}

var scratchpadPattern = regexp.MustCompile(`(?s)<scratchpad>(.*?)</scratchpad>`)

func extractScratchpad(reply string) string {
	if m := scratchpadPattern.FindStringSubmatch(reply); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// RequestApproval marks the session as waiting on a FLAG decision; the
// next inbound message matching an approval pattern resolves it.
func (s *Session) RequestApproval(toolName string, argsJSON []byte) {
	s.pendingApproval = &pendingCall{ToolName: toolName, ArgsJSON: argsJSON, Requested: time.Now()}
}

var approvalYes = regexp.MustCompile(`(?i)^\s*(yes|s[ií])\s*$`)
var approvalNo = regexp.MustCompile(`(?i)^\s*no\s*$`)

// ResolveApproval interprets an inbound message against the pending HITL
// request, returning the decision and whether one was actually pending.
func (s *Session) ResolveApproval(text string) (security.Action, bool) {
	if s.pendingApproval == nil {
		return "", false
	}
	if time.Since(s.pendingApproval.Requested) > s.cfg.HITLTimeout {
		s.pendingApproval = nil
		return security.ActionDeny, true
	}
	switch {
	case approvalYes.MatchString(text):
		s.pendingApproval = nil
		return security.ActionAllow, true
	case approvalNo.MatchString(text):
		s.pendingApproval = nil
		return security.ActionDeny, true
	default:
		return "", false
	}
}

type journalRecord struct {
	Round            int      `json:"round"`
	ToolCalls        []string `json:"tool_calls,omitempty"`
	ReplyPreview     string   `json:"reply_preview"`
	TaskPlanSnapshot string   `json:"task_plan_snapshot"`
	Scratchpad       string   `json:"scratchpad,omitempty"`
}

// appendJournal writes one best-effort record; I/O errors are logged and
// swallowed so a full disk never takes down an agent session.
func (s *Session) appendJournal(round int, toolCalls []string, reply string) {
	if s.cfg.JournalDir == "" {
		return
	}
	path := s.cfg.JournalDir + "/" + s.ID.String() + ".jsonl"
	rec := journalRecord{
		Round:            round,
		ToolCalls:        toolCalls,
		ReplyPreview:      truncate(reply, 500),
		TaskPlanSnapshot: s.checklistText(),
		Scratchpad:       s.scratchpad,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("agentloop: journal marshal failed", "error", err)
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("agentloop: journal open failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		slog.Error("agentloop: journal write failed", "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// reactiveLoopDetector tracks repeated tool names across reactive rounds
// (coarser than the executor's within-iteration detector, which also
// hashes arguments): 3 repeats warns, 5 circuit-breaks the session.
type reactiveLoopDetector struct {
	counts map[string]int
}

func (d *reactiveLoopDetector) record(toolName string) string {
	if d.counts == nil {
		d.counts = make(map[string]int)
	}
	d.counts[toolName]++
	switch {
	case d.counts[toolName] >= 5:
		return "critical"
	case d.counts[toolName] >= 3:
		return "warning"
	default:
		return ""
	}
}
