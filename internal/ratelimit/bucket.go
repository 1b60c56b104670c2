// Package ratelimit provides a deterministic token bucket used to bound the
// per-connection inbound message rate on the signaling socket.
package ratelimit

import (
	"sync"
	"time"
)

// One token is 1e9 nano-tokens, so a fill rate of R tokens/sec adds exactly
// R nano-tokens per elapsed nanosecond. Integer fixed-point avoids float
// rounding drift under sustained load.
const nanosPerToken = int64(time.Second)

// Bucket is a token bucket with capacity == fill rate (one second of burst).
// Each Allow call consumes one token.
type Bucket struct {
	mu sync.Mutex

	clock Clock
	rate  int64 // tokens/sec; also the capacity

	available int64 // nano-tokens
	last      time.Time
}

// NewBucket returns a bucket admitting ratePerSecond messages per second
// with a burst of the same size. A nil clock uses the wall clock.
func NewBucket(clock Clock, ratePerSecond int) *Bucket {
	if clock == nil {
		clock = RealClock{}
	}
	rate := int64(ratePerSecond)
	if rate < 0 {
		rate = 0
	}
	return &Bucket{
		clock:     clock,
		rate:      rate,
		available: rate * nanosPerToken,
		last:      clock.Now(),
	}
}

// Allow consumes one token if available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.available < nanosPerToken {
		return false
	}
	b.available -= nanosPerToken
	return true
}

func (b *Bucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Clock went backwards; re-anchor without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.rate <= 0 {
		return
	}

	capacity := b.rate * nanosPerToken
	need := capacity - b.available
	if need <= 0 {
		b.available = capacity
		return
	}
	// Enough time to fill completely? Clamp instead of multiplying, which
	// also sidesteps overflow on long idle periods.
	if elapsed >= need/b.rate {
		b.available = capacity
		return
	}
	b.available += elapsed * b.rate
}
