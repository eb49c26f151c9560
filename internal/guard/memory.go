package guard

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotencyGuard keeps seen message IDs in a TTL map. Suitable for a
// single-instance deployment; records do not survive a restart.
type MemoryIdempotencyGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

var _ IdempotencyGuard = (*MemoryIdempotencyGuard)(nil)

// NewMemoryIdempotencyGuard creates a guard with the given record TTL.
// A non-positive ttl falls back to DefaultIdempotencyTTL.
func NewMemoryIdempotencyGuard(ttl time.Duration) *MemoryIdempotencyGuard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &MemoryIdempotencyGuard{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// FirstDelivery reports whether messageID has not been seen within the TTL,
// recording it as seen. Exactly one caller per messageID receives true.
func (g *MemoryIdempotencyGuard) FirstDelivery(_ context.Context, messageID, _ string) (bool, error) {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictLocked(now)
	if _, ok := g.seen[messageID]; ok {
		return false, nil
	}
	g.seen[messageID] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryIdempotencyGuard) evictLocked(now time.Time) {
	for id, expiry := range g.seen {
		if expiry.Before(now) {
			delete(g.seen, id)
		}
	}
}

// MemoryRateLimiter implements a fixed-window counter per user.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	window  time.Duration
	max     int
}

type rateWindow struct {
	start time.Time
	count int
}

var _ RateLimiter = (*MemoryRateLimiter)(nil)

// NewMemoryRateLimiter creates a limiter allowing max messages per window.
// Non-positive arguments fall back to the package defaults.
func NewMemoryRateLimiter(window time.Duration, max int) *MemoryRateLimiter {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	if max <= 0 {
		max = DefaultRateLimitMax
	}
	return &MemoryRateLimiter{
		windows: make(map[string]*rateWindow),
		window:  window,
		max:     max,
	}
}

// Allow reports whether userID is under the per-window budget and counts the
// message when it is.
func (l *MemoryRateLimiter) Allow(_ context.Context, userID string) (bool, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[userID]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[userID] = &rateWindow{start: now, count: 1}
		return true, nil
	}
	if w.count >= l.max {
		return false, nil
	}
	w.count++
	return true, nil
}
