// Package executor runs the bounded tool-calling loop against a single LLM
// call (spec C8): up to MaxIterations round trips, concurrent dispatch of
// regular tool calls, inline handling of the request_more_tools meta-call,
// stale tool-result pruning, and a security check in front of every
// non-meta call when the session is agent-driven.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/whatsclaw/internal/providers"
	"github.com/nextlevelbuilder/whatsclaw/internal/security"
	"github.com/nextlevelbuilder/whatsclaw/internal/store"
	"github.com/nextlevelbuilder/whatsclaw/internal/tools"
	"github.com/nextlevelbuilder/whatsclaw/internal/tracing"
)

const (
	// MaxToolIterations bounds the number of LLM round trips within one
	// executor run; the final iteration is always made without tools so the
	// model is forced to produce a user-facing answer.
	MaxToolIterations = 5

	maxToolOutputChars = 1000

	// MetaToolRequestMoreTools is the Router escape hatch, handled inline
	// rather than dispatched through the registry.
	MetaToolRequestMoreTools = "request_more_tools"
)

// RouterHook lets the executor grow the active tool set mid-run when the
// model calls request_more_tools, without the executor depending on the
// concrete category router type.
type RouterHook func(categories []string) []providers.ToolDefinition

// SecurityHook gates agent-driven tool execution through the policy
// engine before dispatch. Nil disables the check (chat-mode sessions).
type SecurityHook func(toolName string, argsJSON []byte) security.Decision

// Config controls the loop's behavior.
type Config struct {
	MaxIterations int
	Security      SecurityHook
	OnMoreTools   RouterHook
}

type Executor struct {
	registry *tools.Registry
	provider providers.Provider
	cfg      Config
}

func New(registry *tools.Registry, provider providers.Provider, cfg Config) *Executor {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = MaxToolIterations
	}
	return &Executor{registry: registry, provider: provider, cfg: cfg}
}

// Outcome is the loop's final state handed back to the caller.
type Outcome struct {
	Content      string
	Usage        providers.Usage
	Iterations   int
	ToolCalls    []string
	LoopBroke    bool
	BreakMessage string
}

// Run drives messages through the bounded tool loop using toolDefs as the
// initial active set. model selects the provider model for every
// iteration's Chat call.
func (e *Executor) Run(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, model string) (Outcome, error) {
	var detector loopDetector
	var totalUsage providers.Usage
	var outcome Outcome

	for iteration := 0; iteration < e.cfg.MaxIterations; iteration++ {
		outcome.Iterations = iteration + 1

		activeTools := toolDefs
		if iteration == e.cfg.MaxIterations-1 {
			// Final-iteration rule: no tools, forces a textual answer.
			activeTools = nil
		}

		spanCtx, spanStart := e.beginSpan(ctx, fmt.Sprintf("llm:iteration_%d", iteration+1))

		resp, err := e.provider.Chat(spanCtx, providers.ChatRequest{
			Messages: messages,
			Tools:    activeTools,
			Model:    model,
		})
		e.endLLMSpan(spanCtx, spanStart, resp, err)
		if err != nil {
			return outcome, fmt.Errorf("executor: chat iteration %d: %w", iteration+1, err)
		}
		if resp.Usage != nil {
			totalUsage.PromptTokens += resp.Usage.PromptTokens
			totalUsage.CompletionTokens += resp.Usage.CompletionTokens
			totalUsage.TotalTokens += resp.Usage.TotalTokens
		}

		if len(resp.ToolCalls) == 0 {
			outcome.Content = resp.Content
			outcome.Usage = totalUsage
			return outcome, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		metaCalls, regularCalls := splitMetaCalls(resp.ToolCalls)

		for _, mc := range metaCalls {
			result := e.handleMetaCall(mc)
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: mc.ID,
			})
		}

		if len(regularCalls) > 0 {
			results, err := e.dispatchConcurrently(ctx, regularCalls)
			if err != nil {
				return outcome, err
			}
			for i, r := range results {
				outcome.ToolCalls = append(outcome.ToolCalls, regularCalls[i].Name)
				messages = append(messages, providers.Message{
					Role:       "tool",
					Content:    truncateOutput(r.ForLLM),
					ToolCallID: regularCalls[i].ID,
				})
			}

			for _, tc := range regularCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				hash := detector.record(tc.Name, argsJSON)
				if level, msg := detector.detect(tc.Name, hash); level != "" {
					if level == "critical" {
						outcome.LoopBroke = true
						outcome.BreakMessage = msg
						outcome.Content = "I was unable to complete this task — repeated calls to " + tc.Name + " made no progress. Please rephrase your request."
						outcome.Usage = totalUsage
						return outcome, nil
					}
					slog.Warn("tool loop warning", "tool", tc.Name, "message", msg)
					messages = append(messages, providers.Message{Role: "user", Content: msg})
				}
			}
		}

		messages = pruneStaleToolResults(messages, iteration)
	}

	outcome.Usage = totalUsage
	return outcome, nil
}

// dispatchConcurrently runs regular tool calls via errgroup, preserving
// the original call order in the returned slice regardless of completion
// order, and applying the security hook (when configured) before each
// call actually executes.
func (e *Executor) dispatchConcurrently(ctx context.Context, calls []providers.ToolCall) ([]*tools.Result, error) {
	results := make([]*tools.Result, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range calls {
		i, tc := i, tc
		g.Go(func() error {
			results[i] = e.executeOne(gctx, tc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Executor) executeOne(ctx context.Context, tc providers.ToolCall) *tools.Result {
	argsJSON, _ := json.Marshal(tc.Arguments)

	if e.cfg.Security != nil {
		decision := e.cfg.Security(tc.Name, argsJSON)
		switch decision.Action {
		case security.ActionDeny:
			return tools.ErrorResult(fmt.Sprintf("tool %q denied by policy: %s", tc.Name, decision.Reason))
		case security.ActionFlag:
			return tools.ErrorResult(fmt.Sprintf("tool %q suspended for approval: %s", tc.Name, decision.Reason))
		}
	}

	tool, ok := e.registry.Get(tc.Name)
	if !ok {
		return tools.ErrorResult(fmt.Sprintf("unknown tool %q", tc.Name))
	}

	spanCtx, start := e.beginSpan(ctx, "tool:"+tc.Name)
	result := tool.Execute(spanCtx, tc.Arguments)
	e.endToolSpan(spanCtx, start, tc, result)
	return result
}

func (e *Executor) handleMetaCall(tc providers.ToolCall) string {
	if e.cfg.OnMoreTools == nil {
		return "no additional tool categories are available"
	}
	var categories []string
	if raw, ok := tc.Arguments["categories"].([]interface{}); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				categories = append(categories, s)
			}
		}
	}
	defs := e.cfg.OnMoreTools(categories)
	return fmt.Sprintf("%d additional tools are now available", len(defs))
}

func splitMetaCalls(calls []providers.ToolCall) (meta, regular []providers.ToolCall) {
	for _, c := range calls {
		if c.Name == MetaToolRequestMoreTools {
			meta = append(meta, c)
		} else {
			regular = append(regular, c)
		}
	}
	return meta, regular
}

func truncateOutput(s string) string {
	return truncateStr(s, maxToolOutputChars)
}

func truncateStr(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}

// pruneStaleToolResults drops tool-result messages older than the last two
// iterations, keeping recent context dense without growing the transcript
// unbounded across a long tool-calling session.
func pruneStaleToolResults(messages []providers.Message, currentIteration int) []providers.Message {
	if currentIteration < 2 {
		return messages
	}
	cutoffFromEnd := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			cutoffFromEnd++
			if cutoffFromEnd > 2 {
				break
			}
		}
	}
	keepFrom := 0
	if cutoffFromEnd > 2 {
		assistantSeen := 0
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == "assistant" {
				assistantSeen++
				if assistantSeen == 2 {
					keepFrom = i
					break
				}
			}
		}
	}
	if keepFrom == 0 {
		return messages
	}
	pruned := make([]providers.Message, 0, len(messages))
	for i, m := range messages {
		if i < keepFrom && m.Role == "tool" {
			continue
		}
		pruned = append(pruned, m)
	}
	return pruned
}

func (e *Executor) beginSpan(ctx context.Context, name string) (context.Context, time.Time) {
	return ctx, time.Now().UTC()
}

func (e *Executor) endLLMSpan(ctx context.Context, start time.Time, resp *providers.ChatResponse, callErr error) {
	collector := tracing.CollectorFromContext(ctx)
	if collector == nil {
		return
	}
	traceID := tracing.TraceIDFromContext(ctx)
	end := time.Now().UTC()

	span := storeSpanBase(traceID, "llm_call", start, end)
	if resp != nil {
		preview := resp.Content
		if collector.Verbose() {
			span.OutputPreview = truncateStr(preview, 100000)
		} else {
			span.OutputPreview = truncateStr(preview, 500)
		}
		span.FinishReason = resp.FinishReason
		if resp.Usage != nil {
			span.InputTokens = resp.Usage.PromptTokens
			span.OutputTokens = resp.Usage.CompletionTokens
		}
	}
	if callErr != nil {
		span.Status = "failed"
		span.Error = callErr.Error()
	} else {
		span.Status = "completed"
	}
	collector.EmitSpan(span)
}

func storeSpanBase(traceID uuid.UUID, spanType string, start, end time.Time) store.SpanData {
	duration := end.Sub(start)
	return store.SpanData{
		ID:         uuid.New(),
		TraceID:    traceID,
		SpanType:   spanType,
		StartTime:  start,
		EndTime:    &end,
		DurationMS: int(duration.Milliseconds()),
	}
}

func (e *Executor) endToolSpan(ctx context.Context, start time.Time, tc providers.ToolCall, result *tools.Result) {
	collector := tracing.CollectorFromContext(ctx)
	if collector == nil {
		return
	}
	traceID := tracing.TraceIDFromContext(ctx)
	end := time.Now().UTC()

	span := storeSpanBase(traceID, "tool_call", start, end)
	span.ToolName = tc.Name
	span.ToolCallID = tc.ID
	argsJSON, _ := json.Marshal(tc.Arguments)
	maxPreview := 500
	if collector.Verbose() {
		maxPreview = 100000
	}
	span.InputPreview = truncateStr(string(argsJSON), maxPreview)
	if result != nil {
		span.OutputPreview = truncateStr(result.ForLLM, maxPreview)
		if result.IsError {
			span.Status = "failed"
			if result.Err != nil {
				span.Error = result.Err.Error()
			}
		} else {
			span.Status = "completed"
		}
		if result.Usage != nil {
			span.InputTokens = result.Usage.PromptTokens
			span.OutputTokens = result.Usage.CompletionTokens
		}
		span.Provider = result.Provider
		span.Model = result.Model
	}
	collector.EmitSpan(span)
}
