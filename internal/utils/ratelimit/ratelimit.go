package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const sweepEvery = 256

// KeyLimiter keeps one token bucket per key (client address) and drops
// buckets that have been idle longer than idleTTL.
type KeyLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	buckets map[string]*bucket
	calls   uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns nil when rps or burst is not positive; a nil limiter allows
// everything.
func New(rps float64, burst int, idleTTL time.Duration) *KeyLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
	}
}

func (l *KeyLimiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.calls++
	if l.calls%sweepEvery == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.buckets {
			if v.lastSeen.Before(cutoff) {
				delete(l.buckets, k)
			}
		}
	}
	return allowed
}

func (l *KeyLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
