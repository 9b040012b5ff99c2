// Package dedup implements the atomic first-wins ledger of inbound
// provider message ids (C1). A claim fails open: if the backing store
// errors, the caller is treated as the winner so the first webhook still
// gets a reply; duplicate egress is prevented downstream by provider
// message-id uniqueness, not by the ledger itself.
package dedup

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Outcome is the result of a claim attempt.
type Outcome int

const (
	Claimed Outcome = iota
	AlreadySeen
)

// Ledger claims provider message ids exactly once.
type Ledger interface {
	Claim(ctx context.Context, providerID string) (Outcome, error)
}

// RedisLedger claims via SETNX, which is atomic across processes. On any
// Redis error it falls back to an in-process map and reports Claimed,
// matching the fail-open contract in §4.1.
type RedisLedger struct {
	client *redis.Client
	prefix string

	mu       sync.Mutex
	fallback map[string]struct{}
}

func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "dedup:"
	}
	return &RedisLedger{client: client, prefix: prefix, fallback: make(map[string]struct{})}
}

func (l *RedisLedger) Claim(ctx context.Context, providerID string) (Outcome, error) {
	key := l.prefix + providerID
	ok, err := l.client.SetNX(ctx, key, 1, 0).Result()
	if err != nil {
		slog.Warn("dedup ledger redis error, failing open", "provider_id", providerID, "error", err)
		return l.claimInMemory(providerID), nil
	}
	if ok {
		return Claimed, nil
	}
	return AlreadySeen, nil
}

func (l *RedisLedger) claimInMemory(providerID string) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.fallback[providerID]; seen {
		return AlreadySeen
	}
	l.fallback[providerID] = struct{}{}
	return Claimed
}

// MemLedger is a pure in-process ledger, used when Redis is not
// configured (single-instance deployments without a cache tier).
type MemLedger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemLedger() *MemLedger {
	return &MemLedger{seen: make(map[string]struct{})}
}

func (l *MemLedger) Claim(_ context.Context, providerID string) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[providerID]; ok {
		return AlreadySeen, nil
	}
	l.seen[providerID] = struct{}{}
	return Claimed, nil
}
