package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBucket_BurstThenRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewBucket(clk, 5)

	for i := 0; i < 5; i++ {
		if !b.Allow() {
			t.Fatalf("burst message %d rejected", i)
		}
	}
	if b.Allow() {
		t.Fatalf("expected empty bucket")
	}

	clk.Advance(200 * time.Millisecond) // one token at 5/sec
	if !b.Allow() {
		t.Fatalf("expected refill after advance")
	}
	if b.Allow() {
		t.Fatalf("expected single refilled token")
	}
}

func TestBucket_ClampsToCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewBucket(clk, 1)

	if !b.Allow() {
		t.Fatalf("expected initial token")
	}

	clk.Advance(time.Hour)
	if !b.Allow() {
		t.Fatalf("expected refill up to capacity")
	}
	if b.Allow() {
		t.Fatalf("expected capacity clamp at 1 token")
	}
}

func TestBucket_ClockGoingBackwardsDoesNotRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewBucket(clk, 1)

	if !b.Allow() {
		t.Fatalf("expected initial token")
	}

	clk.Advance(-time.Minute)
	if b.Allow() {
		t.Fatalf("expected no refill when the clock regresses")
	}

	clk.Advance(2 * time.Second)
	if !b.Allow() {
		t.Fatalf("expected refill once the clock moves forward again")
	}
}
