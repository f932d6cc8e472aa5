package server

import (
	"sync"
	"time"
)

// throttle is a token bucket guarding one connection's inbound frames.
type throttle struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	perSec   float64
	last     time.Time
	now      func() time.Time
}

func newThrottle(cfg RateLimitConfig, now func() time.Time) *throttle {
	burst := max(cfg.Burst, 1)
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &throttle{
		tokens:   float64(burst),
		capacity: float64(burst),
		perSec:   float64(burst) / interval.Seconds(),
		last:     now(),
		now:      now,
	}
}

// allow spends one token, refilling first for the time elapsed since the
// previous call.
func (t *throttle) allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if elapsed := now.Sub(t.last).Seconds(); elapsed > 0 {
		t.tokens = min(t.capacity, t.tokens+elapsed*t.perSec)
	}
	t.last = now

	if t.tokens < 1 {
		return false
	}
	t.tokens--
	return true
}
