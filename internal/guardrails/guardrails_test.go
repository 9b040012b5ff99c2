package guardrails

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateAndRemediateSkippedWhenDisabled(t *testing.T) {
	p := NewPipeline(Config{Enabled: false})
	out := p.ValidateAndRemediate(context.Background(), "hello", "hi", "en", nil)
	if out.Reply != "hello" {
		t.Fatalf("expected reply unchanged when pipeline disabled, got %q", out.Reply)
	}
	if len(out.Checks) != 0 {
		t.Fatalf("expected no checks recorded when disabled, got %d", len(out.Checks))
	}
}

func TestValidateAndRemediateRemediatesEmptyReply(t *testing.T) {
	p := NewPipeline(Config{Enabled: true})
	remediate := func(ctx context.Context, hint string) (string, error) {
		return "a real reply", nil
	}
	out := p.ValidateAndRemediate(context.Background(), "   ", "hi", "", remediate)
	if out.Reply != "a real reply" {
		t.Fatalf("expected remediated reply, got %q", out.Reply)
	}
	var sawRemediated bool
	for _, c := range out.Checks {
		if c.Name == "not_empty" && c.Passed && c.Details == "remediated" {
			sawRemediated = true
		}
	}
	if !sawRemediated {
		t.Fatalf("expected a remediated not_empty check, got %+v", out.Checks)
	}
}

func TestValidateAndRemediateFlagsExcessiveLength(t *testing.T) {
	p := NewPipeline(Config{Enabled: true, MaxReplyChars: 10})
	out := p.ValidateAndRemediate(context.Background(), strings.Repeat("x", 20), "hi", "", nil)
	var failed bool
	for _, c := range out.Checks {
		if c.Name == "excessive_length" && !c.Passed {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("expected excessive_length check to fail, got %+v", out.Checks)
	}
	if out.Reply != strings.Repeat("x", 20) {
		t.Fatalf("excessive_length is flagged but not remediated; reply must be sent as-is")
	}
}

func TestValidateAndRemediateFlagsRawToolJSON(t *testing.T) {
	p := NewPipeline(Config{Enabled: true})
	reply := `here is the result: {"tool_calls": [{"id": 1}]}`
	out := p.ValidateAndRemediate(context.Background(), reply, "hi", "", nil)
	var failed bool
	for _, c := range out.Checks {
		if c.Name == "no_raw_tool_json" && !c.Passed {
			failed = true
		}
	}
	if !failed {
		t.Fatalf("expected no_raw_tool_json check to fail for leaked tool JSON, got %+v", out.Checks)
	}
}

func TestValidateAndRemediateRedactsPIINotSuppliedByUser(t *testing.T) {
	p := NewPipeline(Config{Enabled: true, PIICheck: true})
	reply := "reach out to leaked@example.com for help"
	out := p.ValidateAndRemediate(context.Background(), reply, "hi there", "", nil)
	if strings.Contains(out.Reply, "leaked@example.com") {
		t.Fatalf("expected email not supplied by the user to be redacted, got %q", out.Reply)
	}
	if !strings.Contains(out.Reply, "[redacted]") {
		t.Fatalf("expected redaction marker in reply, got %q", out.Reply)
	}
}

func TestValidateAndRemediateDoesNotRedactUserSuppliedPII(t *testing.T) {
	p := NewPipeline(Config{Enabled: true, PIICheck: true})
	reply := "sure, I'll email you at me@example.com"
	out := p.ValidateAndRemediate(context.Background(), reply, "my address is me@example.com", "", nil)
	if !strings.Contains(out.Reply, "me@example.com") {
		t.Fatalf("expected user-supplied email to survive unredacted, got %q", out.Reply)
	}
}

func TestRunJudgeFailsOpenOnTimeout(t *testing.T) {
	p := NewPipeline(Config{Enabled: true, LLMChecks: true, LLMTimeout: 10 * time.Millisecond})
	p.ToolCoherenceJudge = func(ctx context.Context, question, reply, contextText string) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}
	result := p.runJudge(context.Background(), "tool_coherence", "reply", "question")
	if !result.Passed {
		t.Fatalf("expected fail-open (Passed=true) on judge timeout, got %+v", result)
	}
}

func TestRunJudgeFailsOpenOnError(t *testing.T) {
	p := NewPipeline(Config{Enabled: true, LLMChecks: true})
	p.HallucinationJudge = func(ctx context.Context, question, reply, contextText string) (bool, error) {
		return false, errors.New("boom")
	}
	result := p.runJudge(context.Background(), "hallucination_check", "reply", "question")
	if !result.Passed {
		t.Fatalf("expected fail-open (Passed=true) on judge error, got %+v", result)
	}
}

func TestSafeJudgeRecoversPanic(t *testing.T) {
	judge := func(ctx context.Context, question, reply, contextText string) (bool, error) {
		panic("judge exploded")
	}
	ok, err := safeJudge(context.Background(), judge, "tool_coherence", "reply", "question")
	if !ok {
		t.Fatalf("expected fail-open ok=true after recovering panic")
	}
	if err == nil {
		t.Fatalf("expected a non-nil error describing the panic")
	}
}

func TestCheckLanguageMatchSkipsOnShortText(t *testing.T) {
	p := NewPipeline(Config{Enabled: true})
	result := p.checkLanguageMatch("hi", "en")
	if !result.Passed {
		t.Fatalf("expected language check to pass (skip) on short reply, got %+v", result)
	}
}

func TestCheckLanguageMatchFlagsMismatch(t *testing.T) {
	p := NewPipeline(Config{Enabled: true})
	reply := "el gato y la casa de la familia que vive en la ciudad"
	result := p.checkLanguageMatch(reply, "en")
	if result.Passed {
		t.Fatalf("expected language mismatch (user=en, reply=es) to fail, got %+v", result)
	}
}
