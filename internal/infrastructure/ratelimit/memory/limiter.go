package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter holds a token bucket per key (client IP or token).
type KeyedLimiter struct {
	mu       sync.Mutex
	entries  map[string]*entry
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewKeyedLimiter allows perMinute requests per key, refilled evenly over the minute.
func NewKeyedLimiter(perMinute int) *KeyedLimiter {
	l := newKeyedLimiter(perMinute, time.Now)
	go l.cleanupRoutine(time.Minute)
	return l
}

func newKeyedLimiter(perMinute int, now func() time.Time) *KeyedLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &KeyedLimiter{
		entries: make(map[string]*entry),
		rps:     rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		idleTTL: 5 * time.Minute,
		now:     now,
		stopCh:  make(chan struct{}),
	}
}

func (l *KeyedLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1), nil
}

// Close stops the cleanup goroutine.
func (l *KeyedLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return nil
}

func (l *KeyedLimiter) cleanupRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle()
		case <-l.stopCh:
			return
		}
	}
}

// evictIdle drops keys unused for longer than idleTTL. An evicted key starts with a full bucket.
func (l *KeyedLimiter) evictIdle() {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}
