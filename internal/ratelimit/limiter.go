// Package ratelimit adapts the reference control-plane's per-key token
// bucket limiter (control_plane/scheduler/limiter.go). The engine's
// dispatch tick uses it for per-category admission shaping; retry backoff
// is not paced through it.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter keeps one token bucket per string key, lazily created on
// first use, mirroring TokenBucketLimiter from the reference scheduler.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

// New creates a limiter producing r tokens/sec with burst b per key.
func New(r float64, b int) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

func (l *KeyedLimiter) get(key string) *rate.Limiter {
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = limiter
	}
	return limiter
}

// Allow reports whether the key may proceed right now, consuming a token
// if so.
func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(key).Allow()
}

// Reserve checks whether the key is under its rate limit; if not, it
// returns the delay the caller should wait before retrying, without
// consuming a token (the reservation is cancelled immediately, matching
// the reference's "just checking" Reserve semantics).
func (l *KeyedLimiter) Reserve(key string) (ok bool, delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter := l.get(key)
	r := limiter.Reserve()
	d := r.Delay()
	if d > 0 {
		r.Cancel()
		return false, d
	}
	return true, 0
}

// Ensure guarantees a limiter exists for key without consuming a token.
func (l *KeyedLimiter) Ensure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.get(key)
}
