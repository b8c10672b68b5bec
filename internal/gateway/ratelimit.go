package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles RPC calls per connection (spec §6's
// gateway.rate_limit_rpm): each connection gets its own token bucket,
// refilled at rpm/60 tokens per second with a small burst allowance.
// A non-positive rpm disables limiting entirely.
type RateLimiter struct {
	rpm   int
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter constructs a RateLimiter. burst bounds how many calls a
// connection may make back-to-back before the steady-state rpm applies.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{rpm: rpm, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// Enabled reports whether rate limiting is active.
func (l *RateLimiter) Enabled() bool { return l.rpm > 0 }

// Allow reports whether connectionID may make another call right now,
// consuming a token if so.
func (l *RateLimiter) Allow(connectionID string) bool {
	if !l.Enabled() {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[connectionID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.burst)
		l.limiters[connectionID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Forget releases a disconnected connection's limiter.
func (l *RateLimiter) Forget(connectionID string) {
	l.mu.Lock()
	delete(l.limiters, connectionID)
	l.mu.Unlock()
}
