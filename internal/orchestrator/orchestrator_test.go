package orchestrator

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/whatsclaw/internal/bus"
)

func TestExpandReplyToPrefixesQuotedText(t *testing.T) {
	msg := bus.InboundMessage{
		Content:  "sounds good",
		Metadata: map[string]string{"reply_to_text": "are we still on for 3pm?"},
	}
	out := expandReplyTo(msg)
	if !strings.Contains(out, "are we still on for 3pm?") {
		t.Fatalf("expected quoted text in expansion, got %q", out)
	}
	if !strings.HasSuffix(out, "sounds good") {
		t.Fatalf("expected original content preserved, got %q", out)
	}
}

func TestExpandReplyToPassthroughWithoutMetadata(t *testing.T) {
	msg := bus.InboundMessage{Content: "hello"}
	out := expandReplyTo(msg)
	if out != "hello" {
		t.Fatalf("expected passthrough, got %q", out)
	}
}
