// Package orchestrator implements the critical path a single inbound
// message travels end to end (spec C11): dedup/rate-limit have already
// run by the time HandleInbound is called, so this package owns context
// assembly, classification, generation and guardrail validation, plus the
// background work fired off once the reply is on the wire.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/whatsclaw/internal/agentloop"
	"github.com/nextlevelbuilder/whatsclaw/internal/bootstrap"
	"github.com/nextlevelbuilder/whatsclaw/internal/bus"
	"github.com/nextlevelbuilder/whatsclaw/internal/contextbuilder"
	"github.com/nextlevelbuilder/whatsclaw/internal/executor"
	"github.com/nextlevelbuilder/whatsclaw/internal/guardrails"
	"github.com/nextlevelbuilder/whatsclaw/internal/providers"
	"github.com/nextlevelbuilder/whatsclaw/internal/repository"
	"github.com/nextlevelbuilder/whatsclaw/internal/security"
	"github.com/nextlevelbuilder/whatsclaw/internal/tasktracker"
	"github.com/nextlevelbuilder/whatsclaw/internal/tools"
	"github.com/nextlevelbuilder/whatsclaw/internal/tracing"
)

// MemorySearcher abstracts the embedding index so the orchestrator doesn't
// depend on the vector store's concrete client.
type MemorySearcher interface {
	SearchSimilar(ctx context.Context, collection string, embedding []float32, k int, threshold float64) ([]repository.SimilarResult, error)
}

// ClassifyFunc maps the inbound text (plus a short history tail and any
// sticky categories) to the set of tool categories relevant this turn.
// Returning an empty slice means "no tools": capabilities is omitted.
type ClassifyFunc func(ctx context.Context, text, historyTail string, sticky []string) ([]string, error)

// Config wires every collaborator the orchestrator drives.
type Config struct {
	Repo       repository.Repository
	Embedder   providers.Embedder
	Memories   MemorySearcher
	Classify   ClassifyFunc
	Registry   *tools.Registry
	ToolRouter *tools.Router
	Provider   providers.Provider
	Model      string
	Builder    *contextbuilder.Builder
	Guardrails *guardrails.Pipeline
	Recorder   *tracing.Recorder
	Tracker    *tasktracker.Tracker
	Bus        *bus.MessageBus

	// Bootstrapper seeds onboarding context for a principal's first few
	// turns (spec §3 bootstrap/first-contact seeding). Nil disables it.
	Bootstrapper *bootstrap.Bootstrapper

	// Agent outer loop (C12) tuning, dispatched by a "/agent <objective>"
	// inbound message. Zero values fall back to agentloop's own defaults.
	AgentMaxReplans    int
	AgentMaxIterations int
	AgentToolBudget    int
	AgentHITLTimeout   time.Duration
	AgentJournalDir    string

	MemoryTopK         int
	MemoryThreshold    float64
	HistoryVerbatimN   int
	SummarizeThreshold int

	// ExecutorConfig carries the tool-executor's security hook and
	// iteration bound through to the per-call executor.New below.
	ExecutorConfig executor.Config
}

type Orchestrator struct {
	cfg Config

	agentMu       sync.Mutex
	agentSessions map[string]*agentloop.Session
}

func New(cfg Config) *Orchestrator {
	if cfg.MemoryTopK <= 0 {
		cfg.MemoryTopK = 5
	}
	if cfg.HistoryVerbatimN <= 0 {
		cfg.HistoryVerbatimN = 12
	}
	return &Orchestrator{cfg: cfg, agentSessions: make(map[string]*agentloop.Session)}
}

const (
	agentCommandPrefix = "/agent "
	cancelCommand      = "/cancel"
)

// handleAgentCommand dispatches the C12 agent outer loop: "/agent <objective>"
// starts a planner/worker/synthesize session, "/cancel" aborts the
// principal's running session, and any other message is checked against a
// pending HITL approval before falling through to the normal single-turn
// path. Returns handled=false when the message belongs to the normal path.
func (o *Orchestrator) handleAgentCommand(ctx context.Context, msg bus.InboundMessage, text string) (bool, error) {
	trimmed := strings.TrimSpace(text)

	switch {
	case strings.HasPrefix(text, agentCommandPrefix):
		objective := strings.TrimSpace(strings.TrimPrefix(text, agentCommandPrefix))
		session := o.newAgentSession()
		o.agentMu.Lock()
		o.agentSessions[msg.SenderID] = session
		o.agentMu.Unlock()

		reply, err := session.Run(ctx, msg.SenderID, objective)
		if err != nil {
			return true, err
		}
		o.cfg.Bus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply})
		return true, nil

	case trimmed == cancelCommand:
		o.agentMu.Lock()
		session := o.agentSessions[msg.SenderID]
		o.agentMu.Unlock()
		if session == nil {
			return false, nil
		}
		session.Cancel()
		o.cfg.Bus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "Cancelling the current agent session.",
		})
		return true, nil

	default:
		o.agentMu.Lock()
		session := o.agentSessions[msg.SenderID]
		o.agentMu.Unlock()
		if session == nil {
			return false, nil
		}
		decision, pending := session.ResolveApproval(text)
		if !pending {
			return false, nil
		}
		reply := "Denied."
		if decision == security.ActionAllow {
			reply = "Approved."
		}
		o.cfg.Bus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply})
		return true, nil
	}
}

// newAgentSession builds one agentloop.Session sharing this orchestrator's
// tool registry, provider and security gate; the planner stages (create_plan,
// synthesize, replan) are plain LLM calls against the same provider the
// single-turn path uses, tagged with the stage name in the system prompt.
func (o *Orchestrator) newAgentSession() *agentloop.Session {
	planner := func(pctx context.Context, stage, objective, contextText string) (string, error) {
		sysMsg := "You are the " + stage + " stage of an agent planning loop working toward: " + objective
		reqMessages := []providers.Message{{Role: "system", Content: sysMsg}}
		if contextText != "" {
			reqMessages = append(reqMessages, providers.Message{Role: "user", Content: contextText})
		} else {
			reqMessages = append(reqMessages, providers.Message{Role: "user", Content: objective})
		}
		resp, err := o.cfg.Provider.Chat(pctx, providers.ChatRequest{Messages: reqMessages, Model: o.cfg.Model})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	return agentloop.New(agentloop.Config{
		Executor:      executor.New(o.cfg.Registry, o.cfg.Provider, o.cfg.ExecutorConfig),
		Planner:       planner,
		Security:      o.cfg.ExecutorConfig.Security,
		JournalDir:    o.cfg.AgentJournalDir,
		MaxReplans:    o.cfg.AgentMaxReplans,
		MaxIterations: o.cfg.AgentMaxIterations,
		ToolBudget:    o.cfg.AgentToolBudget,
		HITLTimeout:   o.cfg.AgentHITLTimeout,
	})
}

// HandleInbound runs the full critical path for one already-deduped,
// already-rate-limited inbound message and publishes the reply to the bus.
// Exactly one trace is started and finished per call.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg bus.InboundMessage) error {
	recorder := o.cfg.Recorder
	if recorder != nil {
		ctx, _ = recorder.Begin(ctx, msg.SenderID, repository.MessageTypeChat)
	}
	status := repository.TraceStatusCompleted
	defer func() {
		if recorder != nil {
			recorder.Finish(ctx, status, "")
		}
	}()

	text := expandReplyTo(msg)

	if handled, agentErr := o.handleAgentCommand(ctx, msg, text); handled {
		if agentErr != nil {
			status = repository.TraceStatusFailed
		}
		return agentErr
	}

	conv, err := o.cfg.Repo.GetOrCreateConversation(ctx, msg.SenderID)
	if err != nil {
		status = repository.TraceStatusFailed
		return err
	}

	var classifyResult []string
	var classifyErr error
	classifyDone := make(chan struct{})
	go func() {
		defer close(classifyDone)
		if o.cfg.Classify == nil {
			return
		}
		sticky, _ := o.cfg.Repo.GetStickyCategories(ctx, conv.ID)
		classifyResult, classifyErr = o.cfg.Classify(ctx, text, "", sticky)
	}()

	var embedding []float32
	var memories []repository.SimilarResult
	var notes []repository.Note
	var windowed *repository.WindowedHistory

	phaseA, actx := errgroup.WithContext(ctx)
	phaseA.Go(func() error {
		if o.cfg.Embedder == nil {
			return nil
		}
		vecs, err := o.cfg.Embedder.Embed(actx, []string{text}, "")
		if err != nil || len(vecs) == 0 {
			return nil
		}
		embedding = vecs[0]
		return nil
	})
	phaseA.Go(func() error {
		_, err := o.cfg.Repo.SaveMessage(actx, conv.ID, repository.RoleUser, text, "")
		return err
	})
	if err := phaseA.Wait(); err != nil {
		status = repository.TraceStatusFailed
		return err
	}

	phaseB, bctx := errgroup.WithContext(ctx)
	phaseB.Go(func() error {
		if o.cfg.Memories == nil || embedding == nil {
			return nil
		}
		var err error
		memories, err = o.cfg.Memories.SearchSimilar(bctx, "memories", embedding, o.cfg.MemoryTopK, o.cfg.MemoryThreshold)
		return err
	})
	phaseB.Go(func() error {
		var err error
		notes, err = o.cfg.Repo.ListNotes(bctx, msg.SenderID)
		return err
	})
	phaseB.Go(func() error {
		var err error
		windowed, err = o.cfg.Repo.GetWindowedHistory(bctx, conv.ID, o.cfg.HistoryVerbatimN)
		return err
	})
	if err := phaseB.Wait(); err != nil {
		status = repository.TraceStatusFailed
		return err
	}

	<-classifyDone
	if classifyErr != nil {
		slog.Warn("classification failed, falling back to sticky categories", "error", classifyErr)
	}

	var capabilities []string
	var toolDefs []providers.ToolDefinition
	if len(classifyResult) > 0 && o.cfg.ToolRouter != nil {
		capabilities = o.cfg.ToolRouter.Select(classifyResult)
		for _, name := range capabilities {
			if tool, ok := o.cfg.Registry.Get(name); ok {
				toolDefs = append(toolDefs, tools.ToProviderDef(tool))
			}
		}
	}

	var historyTail []repository.Message
	var olderSummary *repository.Summary
	if windowed != nil {
		historyTail = windowed.Tail
		olderSummary = windowed.Older
	}

	var onboarding string
	if o.cfg.Bootstrapper != nil {
		onboarding, _ = o.cfg.Bootstrapper.Touch(msg.SenderID)
	}

	systemPrompt := o.cfg.Builder.Build(contextbuilder.Input{
		Memories:     memories,
		Notes:        notes,
		OlderSummary: olderSummary,
		Capabilities: capabilities,
		Onboarding:   onboarding,
	})

	messages := []providers.Message{{Role: "system", Content: systemPrompt}}
	for _, m := range historyTail {
		messages = append(messages, providers.Message{Role: m.Role, Content: m.Text})
	}
	messages = append(messages, providers.Message{Role: "user", Content: text})

	exec := executor.New(o.cfg.Registry, o.cfg.Provider, o.cfg.ExecutorConfig)
	out, err := exec.Run(ctx, messages, toolDefs, o.cfg.Model)
	if err != nil {
		status = repository.TraceStatusFailed
		return err
	}

	reply := out.Content
	if o.cfg.Guardrails != nil {
		remediate := func(rctx context.Context, hint string) (string, error) {
			retry := append(append([]providers.Message{}, messages...), providers.Message{Role: "user", Content: hint})
			retryOut, err := o.cfg.Provider.Chat(rctx, providers.ChatRequest{Messages: retry, Model: o.cfg.Model})
			if err != nil {
				return "", err
			}
			return retryOut.Content, nil
		}
		outcome := o.cfg.Guardrails.ValidateAndRemediate(ctx, reply, text, "", remediate)
		reply = outcome.Reply
	}

	o.cfg.Bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	})

	if o.cfg.Tracker != nil {
		o.cfg.Tracker.Register(context.Background(), "save-assistant-reply", func(bgCtx context.Context) {
			if _, err := o.cfg.Repo.SaveMessage(bgCtx, conv.ID, repository.RoleAssistant, reply, ""); err != nil {
				slog.Error("background save_message failed", "error", err)
			}
			o.maybeSummarize(bgCtx, conv.ID)
		})
	}

	return nil
}

// expandReplyTo prefixes quoted-reply context onto the message body so
// the model sees what the user is replying to, matching the WhatsApp
// reply-to UX (Phase 0).
func expandReplyTo(msg bus.InboundMessage) string {
	if quoted, ok := msg.Metadata["reply_to_text"]; ok && quoted != "" {
		return "[replying to: " + strings.TrimSpace(quoted) + "]\n" + msg.Content
	}
	return msg.Content
}

// maybeSummarize checks, off the critical path, whether the conversation
// holds more than SummarizeThreshold messages and logs at debug level when
// it does. It makes no LLM call and writes no summary.
func (o *Orchestrator) maybeSummarize(ctx context.Context, convID uuid.UUID) {
	threshold := o.cfg.SummarizeThreshold
	if threshold <= 0 {
		threshold = 40
	}
	recent, err := o.cfg.Repo.GetRecentMessages(ctx, convID, threshold+1)
	if err != nil || len(recent) <= threshold {
		return
	}
	slog.Debug("conversation due for summarization", "conversation_id", convID, "message_count", len(recent))
}
