// Package ratelimit implements the per-principal token bucket (C3). The
// bucket is in-process and resets with the runtime; there is no
// cross-process coordination (single-instance assumption).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of a rate-limit check.
type Decision int

const (
	Accepted Decision = iota
	Rejected
)

// Limiter enforces a per-principal rate limit of max events per window.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	ratePer  rate.Limit
	burst    int
}

// New constructs a limiter allowing max events per window, per principal.
func New(window time.Duration, max int) *Limiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		ratePer: rate.Every(window / time.Duration(max)),
		burst:   max,
	}
}

// Allow reports whether principal may proceed now, consuming one token if
// so. Principals are lazily allocated their own bucket on first use.
func (l *Limiter) Allow(principal string) Decision {
	l.mu.Lock()
	b, ok := l.buckets[principal]
	if !ok {
		b = rate.NewLimiter(l.ratePer, l.burst)
		l.buckets[principal] = b
	}
	l.mu.Unlock()

	if b.Allow() {
		return Accepted
	}
	return Rejected
}
