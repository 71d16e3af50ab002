// Package ratelimit provides the per-connection envelope rate limiter used by
// the signaling relay.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket refills at rate tokens/sec up to capacity. A full bucket at
// construction lets a connection burst immediately, which matters for
// signaling: a joining participant legitimately sends a flurry of candidates.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	rate     float64
	capacity float64

	tokens float64
	last   time.Time
}

func NewTokenBucket(clock Clock, capacity, rate int) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:    clock,
		rate:     float64(rate),
		capacity: float64(capacity),
		tokens:   float64(capacity),
		last:     clock.Now(),
	}
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
