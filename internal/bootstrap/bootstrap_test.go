package bootstrap

import "testing"

func TestTouchReturnsNoteWithinWindow(t *testing.T) {
	b := New(3)
	note, ok := b.Touch("alice")
	if !ok || note == "" {
		t.Fatalf("expected onboarding note on first turn, got %q, %v", note, ok)
	}
}

func TestTouchStopsAfterCleanupWindow(t *testing.T) {
	b := New(2)
	if _, ok := b.Touch("alice"); !ok {
		t.Fatal("expected note on turn 1")
	}
	if _, ok := b.Touch("alice"); !ok {
		t.Fatal("expected note on turn 2 (boundary turn still included)")
	}
	note, ok := b.Touch("alice")
	if ok || note != "" {
		t.Fatalf("expected no note once window has passed, got %q, %v", note, ok)
	}
}

func TestTouchTracksPrincipalsIndependently(t *testing.T) {
	b := New(1)
	if _, ok := b.Touch("alice"); !ok {
		t.Fatal("expected note for alice's first turn")
	}
	if _, ok := b.Touch("alice"); ok {
		t.Fatal("alice should be exhausted after her single-turn window")
	}
	if _, ok := b.Touch("bob"); !ok {
		t.Fatal("bob is a distinct principal and should still get his first note")
	}
}

func TestDefaultAutoCleanupTurnsAppliedWhenNonPositive(t *testing.T) {
	b := New(0)
	if b.autoCleanupTurns != defaultAutoCleanupTurns {
		t.Fatalf("expected default cleanup window %d, got %d", defaultAutoCleanupTurns, b.autoCleanupTurns)
	}
}

func TestPruneRemovesOnlyExhaustedPrincipals(t *testing.T) {
	b := New(1)
	b.Touch("alice") // exhausted after this
	b.Touch("bob")
	b.turns["carol"] = 0 // mid-window, not yet exhausted

	b.Prune()

	if _, exists := b.turns["alice"]; exists {
		t.Fatal("expected alice's exhausted entry to be pruned")
	}
	if _, exists := b.turns["carol"]; !exists {
		t.Fatal("expected carol's in-progress entry to survive Prune")
	}
}
