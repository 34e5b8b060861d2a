package binance

import (
	"context"
	"sync"
	"time"
)

// RateLimiter tracks REST request weight against the per-minute budget.
// Binance futures allows 2400 weight/minute; above the pause threshold new
// requests wait for the window to roll over so the bot never trips a ban.
type RateLimiter struct {
	mu             sync.Mutex
	weightUsed     int
	windowStart    time.Time
	weightBudget   int
	pauseThreshold float64
}

// NewRateLimiter creates a rate limiter with the given weight budget
func NewRateLimiter(weightPerMinute int, pauseThreshold float64) *RateLimiter {
	if weightPerMinute <= 0 {
		weightPerMinute = 2400
	}
	if pauseThreshold <= 0 || pauseThreshold > 1 {
		pauseThreshold = 0.90
	}
	return &RateLimiter{
		windowStart:    time.Now(),
		weightBudget:   weightPerMinute,
		pauseThreshold: pauseThreshold,
	}
}

// Acquire reserves request weight, blocking until the current minute window
// has capacity or the context is cancelled.
func (rl *RateLimiter) Acquire(ctx context.Context, weight int) error {
	for {
		rl.mu.Lock()
		rl.rollWindow()

		limit := int(float64(rl.weightBudget) * rl.pauseThreshold)
		if rl.weightUsed+weight <= limit {
			rl.weightUsed += weight
			rl.mu.Unlock()
			return nil
		}

		wait := time.Minute - time.Since(rl.windowStart)
		rl.mu.Unlock()

		if wait <= 0 {
			continue
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Usage returns the fraction of the current window's budget consumed
func (rl *RateLimiter) Usage() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.rollWindow()
	return float64(rl.weightUsed) / float64(rl.weightBudget)
}

// rollWindow resets the counter once the minute window elapses.
// Caller must hold rl.mu.
func (rl *RateLimiter) rollWindow() {
	if time.Since(rl.windowStart) >= time.Minute {
		rl.weightUsed = 0
		rl.windowStart = time.Now()
	}
}
