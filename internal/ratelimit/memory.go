package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	start   time.Time
	lastHit time.Time
}

// MemoryLimiter implements Limiter with process-local state. Used when no
// Redis is configured (development) and in tests.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryLimiter builds an in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window), now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Limit applies the policy to key under a single lock, making the
// check-and-increment atomic within the process.
func (l *MemoryLimiter) Limit(_ context.Context, key string, policy Policy) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= policy.Window {
		w = &window{start: now}
		l.windows[key] = w
	}

	if w.count >= policy.Max {
		return ErrRateLimited
	}
	if policy.MinInterval > 0 && !w.lastHit.IsZero() && now.Sub(w.lastHit) < policy.MinInterval {
		return ErrRateLimited
	}

	w.count++
	w.lastHit = now
	return nil
}
