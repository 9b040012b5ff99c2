package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/whatsclaw/internal/agentloop"
	"github.com/nextlevelbuilder/whatsclaw/internal/bus"
)

func newTestOrchestrator() *Orchestrator {
	return New(Config{Bus: bus.NewMessageBus()})
}

func drainOutbound(t *testing.T, b *bus.MessageBus) bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected an outbound message, got none")
	}
	return msg
}

func TestHandleAgentCommandCancelWithNoSessionFallsThrough(t *testing.T) {
	o := newTestOrchestrator()
	handled, err := o.handleAgentCommand(context.Background(), bus.InboundMessage{SenderID: "alice"}, "/cancel")
	if handled || err != nil {
		t.Fatalf("expected fallthrough with no session, got handled=%v err=%v", handled, err)
	}
}

func TestHandleAgentCommandCancelStopsRunningSession(t *testing.T) {
	o := newTestOrchestrator()
	session := agentloop.New(agentloop.Config{})
	o.agentSessions["alice"] = session

	handled, err := o.handleAgentCommand(context.Background(), bus.InboundMessage{SenderID: "alice", Channel: "whatsapp", ChatID: "alice"}, "/cancel")
	if !handled || err != nil {
		t.Fatalf("expected /cancel to be handled, got handled=%v err=%v", handled, err)
	}

	out := drainOutbound(t, o.cfg.Bus)
	if out.ChatID != "alice" {
		t.Fatalf("expected outbound reply addressed to alice, got %q", out.ChatID)
	}
}

func TestHandleAgentCommandPlainMessageWithoutPendingApprovalFallsThrough(t *testing.T) {
	o := newTestOrchestrator()
	session := agentloop.New(agentloop.Config{})
	o.agentSessions["alice"] = session

	handled, err := o.handleAgentCommand(context.Background(), bus.InboundMessage{SenderID: "alice"}, "what's the weather")
	if handled || err != nil {
		t.Fatalf("expected no pending approval to fall through, got handled=%v err=%v", handled, err)
	}
}

func TestHandleAgentCommandResolvesPendingApproval(t *testing.T) {
	o := newTestOrchestrator()
	session := agentloop.New(agentloop.Config{})
	session.RequestApproval("run_command", []byte(`{"cmd":"ls"}`))
	o.agentSessions["alice"] = session

	handled, err := o.handleAgentCommand(context.Background(), bus.InboundMessage{SenderID: "alice", Channel: "whatsapp", ChatID: "alice"}, "yes")
	if !handled || err != nil {
		t.Fatalf("expected approval message to be handled, got handled=%v err=%v", handled, err)
	}

	out := drainOutbound(t, o.cfg.Bus)
	if out.Content != "Approved." {
		t.Fatalf("expected Approved. reply, got %q", out.Content)
	}
}

func TestHandleAgentCommandIgnoresNonAgentMessageWithNoSession(t *testing.T) {
	o := newTestOrchestrator()
	handled, err := o.handleAgentCommand(context.Background(), bus.InboundMessage{SenderID: "bob"}, "hello there")
	if handled || err != nil {
		t.Fatalf("expected fallthrough for a plain message, got handled=%v err=%v", handled, err)
	}
}
