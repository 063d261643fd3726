// Package ratelimit throttles query submissions per user.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter manages one token bucket per key (a user id).
type KeyedLimiter struct {
	limiters   map[string]*limiterEntry
	mu         sync.Mutex
	rate       rate.Limit
	burst      int
	idle       time.Duration
	maxEntries int
	now        func() time.Time
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// PerMinute converts a per-minute budget into a rate.Limit.
func PerMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60)
}

// NewKeyedLimiter creates a limiter. Entries idle for longer than idle are
// dropped by Run.
func NewKeyedLimiter(r rate.Limit, burst int, idle time.Duration) *KeyedLimiter {
	if burst <= 0 {
		burst = 1
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &KeyedLimiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       r,
		burst:      burst,
		idle:       idle,
		maxEntries: 10000,
		now:        time.Now,
	}
}

// Allow reports whether key may proceed now.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.getLimiter(key).AllowN(l.now(), 1)
}

func (l *KeyedLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, exists := l.limiters[key]
	if !exists {
		if len(l.limiters) >= l.maxEntries {
			l.evictOldest()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

func (l *KeyedLimiter) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range l.limiters {
		if oldestKey == "" || entry.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccess
		}
	}

	if oldestKey != "" {
		delete(l.limiters, oldestKey)
	}
}

// Run prunes idle entries until ctx is cancelled.
func (l *KeyedLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *KeyedLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idle)
	for key, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

func (l *KeyedLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// InFlight allows at most one outstanding operation per key.
type InFlight struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewInFlight creates an empty guard.
func NewInFlight() *InFlight {
	return &InFlight{active: make(map[string]struct{})}
}

// Acquire claims key. When ok is false another operation holds it; otherwise
// release must be called once the operation finishes.
func (g *InFlight) Acquire(key string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[key]; busy {
		return nil, false
	}
	g.active[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, key)
			g.mu.Unlock()
		})
	}, true
}
