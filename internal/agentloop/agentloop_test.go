package agentloop

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/whatsclaw/internal/security"
)

func TestExtractScratchpadFindsTaggedContent(t *testing.T) {
	reply := "Here's my progress.\n<scratchpad>step 2 of 3 complete</scratchpad>\nAnything else?"
	got := extractScratchpad(reply)
	if got != "step 2 of 3 complete" {
		t.Fatalf("expected extracted scratchpad text, got %q", got)
	}
}

func TestExtractScratchpadEmptyWhenMissing(t *testing.T) {
	if got := extractScratchpad("no tags here"); got != "" {
		t.Fatalf("expected empty scratchpad when tag absent, got %q", got)
	}
}

func TestReactiveLoopDetectorEscalates(t *testing.T) {
	var d reactiveLoopDetector
	var levels []string
	for i := 0; i < 5; i++ {
		levels = append(levels, d.record("web_search"))
	}
	if levels[0] != "" || levels[1] != "" {
		t.Fatalf("expected no escalation before 3 repeats, got %v", levels)
	}
	if levels[2] != "warning" {
		t.Fatalf("expected warning at 3rd repeat, got %q", levels[2])
	}
	if levels[4] != "critical" {
		t.Fatalf("expected critical at 5th repeat, got %q", levels[4])
	}
}

func TestReactiveLoopDetectorTracksPerToolIndependently(t *testing.T) {
	var d reactiveLoopDetector
	d.record("web_search")
	d.record("web_search")
	level := d.record("read_file")
	if level != "" {
		t.Fatalf("expected a different tool's count to start fresh, got %q", level)
	}
}

func TestResolveApprovalNoPendingRequest(t *testing.T) {
	s := New(Config{})
	if _, ok := s.ResolveApproval("yes"); ok {
		t.Fatalf("expected no pending approval to resolve")
	}
}

func TestResolveApprovalYes(t *testing.T) {
	s := New(Config{})
	s.RequestApproval("exec_shell", []byte(`{"cmd":"ls"}`))
	action, ok := s.ResolveApproval("yes")
	if !ok || action != security.ActionAllow {
		t.Fatalf("expected ActionAllow for 'yes', got action=%v ok=%v", action, ok)
	}
	if _, ok := s.ResolveApproval("yes"); ok {
		t.Fatalf("expected approval to be cleared after resolving once")
	}
}

func TestResolveApprovalSpanishSi(t *testing.T) {
	s := New(Config{})
	s.RequestApproval("exec_shell", nil)
	action, ok := s.ResolveApproval("sí")
	if !ok || action != security.ActionAllow {
		t.Fatalf("expected ActionAllow for 'sí', got action=%v ok=%v", action, ok)
	}
}

func TestResolveApprovalNo(t *testing.T) {
	s := New(Config{})
	s.RequestApproval("exec_shell", nil)
	action, ok := s.ResolveApproval("no")
	if !ok || action != security.ActionDeny {
		t.Fatalf("expected ActionDeny for 'no', got action=%v ok=%v", action, ok)
	}
}

func TestResolveApprovalUnrecognizedTextLeavesPending(t *testing.T) {
	s := New(Config{})
	s.RequestApproval("exec_shell", nil)
	_, ok := s.ResolveApproval("maybe later")
	if ok {
		t.Fatalf("expected unrecognized text not to resolve the pending approval")
	}
	action, ok := s.ResolveApproval("yes")
	if !ok || action != security.ActionAllow {
		t.Fatalf("expected the approval to still be pending and resolvable, got action=%v ok=%v", action, ok)
	}
}

func TestResolveApprovalExpiresAfterTimeout(t *testing.T) {
	s := New(Config{HITLTimeout: time.Millisecond})
	s.RequestApproval("exec_shell", nil)
	time.Sleep(5 * time.Millisecond)
	action, ok := s.ResolveApproval("yes")
	if !ok || action != security.ActionDeny {
		t.Fatalf("expected expired approval to resolve as ActionDeny, got action=%v ok=%v", action, ok)
	}
}
