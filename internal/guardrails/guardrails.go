// Package guardrails validates every outbound assistant reply before
// delivery (spec C9): a fixed set of deterministic checks, fail-open error
// policy, and single-shot remediation for the two checks that can recover.
package guardrails

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// CheckResult is one row of the check table's output, appended to the trace
// with source=system.
type CheckResult struct {
	Name    string
	Passed  bool
	Details string
	Value   float64 // 0 or 1
}

// Config controls which checks run and their thresholds.
type Config struct {
	Enabled          bool
	LanguageCheck    bool
	PIICheck         bool
	LLMChecks        bool
	LLMTimeout       time.Duration
	MaxReplyChars    int
}

// JudgeFunc performs an LLM-backed binary judgement (tool_coherence,
// hallucination_check) under think=false. Implementations must respect ctx
// cancellation; a timeout is treated as fail-open by the pipeline.
type JudgeFunc func(ctx context.Context, question, reply, contextText string) (bool, error)

// RemediateFunc re-prompts the LLM once with a hint and returns the new
// reply. Used for language_match and not_empty remediation.
type RemediateFunc func(ctx context.Context, hint string) (string, error)

// Pipeline runs the guardrail check set against a candidate reply.
type Pipeline struct {
	cfg                Config
	ToolCoherenceJudge JudgeFunc
	HallucinationJudge JudgeFunc
}

func NewPipeline(cfg Config) *Pipeline {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 3 * time.Second
	}
	if cfg.MaxReplyChars <= 0 {
		cfg.MaxReplyChars = 8000
	}
	return &Pipeline{cfg: cfg}
}

// Outcome is the pipeline's verdict plus the (possibly remediated) reply
// text actually sent.
type Outcome struct {
	Reply   string
	Checks  []CheckResult
	Remediated bool
}

// ValidateAndRemediate runs every enabled check, applying single-shot
// remediation for language_match and not_empty failures, and returns the
// final reply to send. userLang is the detected language of the user's own
// message ("" if unknown); userText is the original input, used so no_pii
// doesn't flag patterns the user supplied themselves.
func (p *Pipeline) ValidateAndRemediate(ctx context.Context, reply, userText, userLang string, remediate RemediateFunc) Outcome {
	if !p.cfg.Enabled {
		return Outcome{Reply: reply}
	}

	var checks []CheckResult

	notEmpty := checkNotEmpty(reply)
	checks = append(checks, notEmpty)
	if !notEmpty.Passed && remediate != nil {
		if newReply, err := p.remediateOnce(ctx, remediate, "Your previous reply was empty. Please respond with a non-empty message."); err == nil && strings.TrimSpace(newReply) != "" {
			reply = newReply
			checks = append(checks, CheckResult{Name: "not_empty", Passed: true, Details: "remediated", Value: 1})
		}
	}

	if p.cfg.LanguageCheck {
		langCheck := p.checkLanguageMatch(reply, userLang)
		checks = append(checks, langCheck)
		if !langCheck.Passed && remediate != nil {
			hint := languageHint(userLang)
			if newReply, err := p.remediateOnce(ctx, remediate, hint); err == nil && strings.TrimSpace(newReply) != "" {
				reply = newReply
				checks = append(checks, CheckResult{Name: "language_match", Passed: true, Details: "remediated", Value: 1})
			}
		}
	}

	var redacted bool
	if p.cfg.PIICheck {
		piiCheck, cleaned := checkAndRedactPII(reply, userText)
		checks = append(checks, piiCheck)
		if !piiCheck.Passed {
			reply = cleaned
			redacted = true
		}
	}
	_ = redacted

	checks = append(checks, checkExcessiveLength(reply, p.cfg.MaxReplyChars))
	checks = append(checks, checkNoRawToolJSON(reply))

	if p.cfg.LLMChecks {
		if p.ToolCoherenceJudge != nil {
			checks = append(checks, p.runJudge(ctx, "tool_coherence", reply, userText))
		}
		if p.HallucinationJudge != nil {
			checks = append(checks, p.runJudge(ctx, "hallucination_check", reply, userText))
		}
	}

	return Outcome{Reply: reply, Checks: checks}
}

func (p *Pipeline) remediateOnce(ctx context.Context, remediate RemediateFunc, hint string) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
	defer cancel()
	return remediate(rctx, hint)
}

func (p *Pipeline) runJudge(ctx context.Context, name, reply, userText string) CheckResult {
	jctx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
	defer cancel()

	var judge JudgeFunc
	if name == "tool_coherence" {
		judge = p.ToolCoherenceJudge
	} else {
		judge = p.HallucinationJudge
	}

	ok, err := safeJudge(jctx, judge, name, reply, userText)
	if err != nil {
		// Fail-open: any exception (including timeout) is passed=true.
		return CheckResult{Name: name, Passed: true, Details: "check error: " + err.Error(), Value: 1}
	}
	val := 0.0
	if ok {
		val = 1.0
	}
	return CheckResult{Name: name, Passed: ok, Details: "", Value: val}
}

// safeJudge recovers a panicking judge function so a check's internal
// failure never escapes the pipeline (fail-open, testable property 4).
func safeJudge(ctx context.Context, judge JudgeFunc, name, reply, userText string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = true
			err = errPanic(r)
		}
	}()
	done := make(chan struct{})
	var result bool
	var judgeErr error
	go func() {
		result, judgeErr = judge(ctx, name, reply, userText)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-done:
		return result, judgeErr
	}
}

func errPanic(r interface{}) error {
	return &panicError{r: r}
}

type panicError struct{ r interface{} }

func (p *panicError) Error() string { return "panic in guardrail check" }

func checkNotEmpty(reply string) CheckResult {
	if strings.TrimSpace(reply) == "" {
		return CheckResult{Name: "not_empty", Passed: false, Details: "reply is empty or whitespace-only"}
	}
	return CheckResult{Name: "not_empty", Passed: true, Value: 1}
}

func checkExcessiveLength(reply string, maxChars int) CheckResult {
	if len(reply) > maxChars {
		return CheckResult{Name: "excessive_length", Passed: false, Details: "reply exceeds max length, sent as-is"}
	}
	return CheckResult{Name: "excessive_length", Passed: true, Value: 1}
}

var rawToolJSONPattern = regexp.MustCompile(`"(tool_calls|arguments|tool_call_id)"\s*:`)

func checkNoRawToolJSON(reply string) CheckResult {
	if rawToolJSONPattern.MatchString(reply) {
		return CheckResult{Name: "no_raw_tool_json", Passed: false, Details: "reply leaks raw tool-call JSON fragments"}
	}
	return CheckResult{Name: "no_raw_tool_json", Passed: true, Value: 1}
}
