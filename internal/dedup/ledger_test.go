package dedup

import (
	"context"
	"sync"
	"testing"
)

func TestMemLedgerFirstWins(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	first, err := l.Claim(ctx, "wamid.X")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != Claimed {
		t.Fatalf("expected Claimed, got %v", first)
	}

	second, err := l.Claim(ctx, "wamid.X")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != AlreadySeen {
		t.Fatalf("expected AlreadySeen, got %v", second)
	}
}

func TestMemLedgerConcurrentClaimsExactlyOneWinner(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	const n = 50
	results := make([]Outcome, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			out, err := l.Claim(ctx, "wamid.concurrent")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = out
		}(i)
	}
	wg.Wait()

	claimed := 0
	for _, r := range results {
		if r == Claimed {
			claimed++
		}
	}
	if claimed != 1 {
		t.Fatalf("expected exactly one Claimed outcome, got %d", claimed)
	}
}

func TestMemLedgerDistinctIDsBothClaim(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	a, _ := l.Claim(ctx, "wamid.A")
	b, _ := l.Claim(ctx, "wamid.B")
	if a != Claimed || b != Claimed {
		t.Fatalf("expected both distinct ids to claim, got a=%v b=%v", a, b)
	}
}
