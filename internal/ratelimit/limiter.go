// ABOUTME: Per-method token bucket limiter for generic calls.
// ABOUTME: Idle buckets are evicted periodically so the map stays bounded.

// Package ratelimit throttles generic calls per method name.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MethodLimiter applies a token bucket per method name.
type MethodLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byName  map[string]*bucket
	hits    uint64
	idleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter; returns nil (allow everything) if rps or burst is not positive.
func New(rps float64, burst int, idleTTL time.Duration) *MethodLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &MethodLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byName:  make(map[string]*bucket),
		idleTTL: idleTTL,
	}
}

// Allow reports whether a call to method may proceed at now.
func (l *MethodLimiter) Allow(method string, now time.Time) bool {
	if l == nil {
		return true
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byName[method]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byName[method] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		l.evictLocked(now)
	}
	return allowed
}

func (l *MethodLimiter) evictLocked(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for k, v := range l.byName {
		if v.lastSeen.Before(cutoff) {
			delete(l.byName, k)
		}
	}
}

// Len returns the number of tracked methods.
func (l *MethodLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byName)
}
