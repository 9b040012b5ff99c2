package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToBurstThenRejects(t *testing.T) {
	l := New(time.Minute, 3)

	for i := 0; i < 3; i++ {
		if got := l.Allow("alice"); got != Accepted {
			t.Fatalf("call %d: expected Accepted, got %v", i, got)
		}
	}
	if got := l.Allow("alice"); got != Rejected {
		t.Fatalf("expected 4th call to be Rejected, got %v", got)
	}
}

func TestLimiterIsPerPrincipal(t *testing.T) {
	l := New(time.Minute, 1)
	if got := l.Allow("alice"); got != Accepted {
		t.Fatalf("expected alice's first call to be Accepted, got %v", got)
	}
	if got := l.Allow("bob"); got != Accepted {
		t.Fatalf("expected bob's first call to be Accepted (separate bucket), got %v", got)
	}
	if got := l.Allow("alice"); got != Rejected {
		t.Fatalf("expected alice's second call to be Rejected, got %v", got)
	}
}
