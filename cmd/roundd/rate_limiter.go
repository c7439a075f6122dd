// rate_limiter.go - Request throttling for mutating settlement endpoints
package main

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by all mutating endpoints. Tally
// batches, seals, finalization, claims and redemptions each consume one
// token; reads are never throttled.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	burst     int
	perTick   int
	tick      time.Duration
	last      time.Time
}

// NewRateLimiter allows bursts of up to burst requests, refilling perTick
// tokens every tick.
func NewRateLimiter(burst, perTick int, tick time.Duration) *RateLimiter {
	return &RateLimiter{
		remaining: burst,
		burst:     burst,
		perTick:   perTick,
		tick:      tick,
		last:      time.Now(),
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	if rl.remaining == 0 {
		return false
	}
	rl.remaining--
	return true
}

// Remaining reports how many requests the bucket would currently admit.
func (rl *RateLimiter) Remaining() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	return rl.remaining
}

// refill credits whole elapsed ticks and carries the remainder forward so
// slow trickles of requests still accrue tokens. Callers hold rl.mu.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.last)
	if elapsed < rl.tick {
		return
	}
	ticks := int(elapsed / rl.tick)
	rl.remaining += ticks * rl.perTick
	if rl.remaining > rl.burst {
		rl.remaining = rl.burst
	}
	rl.last = rl.last.Add(time.Duration(ticks) * rl.tick)
}
