// Package ratelimit implements token buckets for inbound WebSocket frames
// and for commit requests keyed by remote address.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a token bucket refilled at rate tokens per second up to burst.
type Limiter struct {
	rate     float64
	burst    int
	tokens   float64
	last     time.Time
	lastUsed time.Time
	now      func() time.Time
	mu       sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiterAt(rate, burst, time.Now)
}

func newLimiterAt(rate float64, burst int, now func() time.Time) *Limiter {
	t := now()
	return &Limiter{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		last:     t,
		lastUsed: t,
		now:      now,
	}
}

func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN takes n tokens if they are all available.
func (l *Limiter) AllowN(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.refill(now)
	l.lastUsed = now

	if l.tokens >= float64(n) {
		l.tokens -= float64(n)
		return true
	}
	return false
}

func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

func (l *Limiter) idleSince() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastUsed
}

// ClientLimiters hands out one Limiter per key and forgets keys that have
// been idle for longer than the idle timeout.
type ClientLimiters struct {
	limiters        map[string]*Limiter
	rate            float64
	burst           int
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	mu              sync.RWMutex
	stop            chan struct{}
	stopOnce        sync.Once
}

func NewClientLimiters(rate float64, burst int) *ClientLimiters {
	cl := &ClientLimiters{
		limiters:        make(map[string]*Limiter),
		rate:            rate,
		burst:           burst,
		idleTimeout:     10 * time.Minute,
		cleanupInterval: 5 * time.Minute,
		now:             time.Now,
		stop:            make(chan struct{}),
	}
	go cl.cleanup()
	return cl
}

func (cl *ClientLimiters) Get(key string) *Limiter {
	cl.mu.RLock()
	limiter, ok := cl.limiters[key]
	cl.mu.RUnlock()

	if ok {
		return limiter
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if limiter, ok := cl.limiters[key]; ok {
		return limiter
	}

	limiter = newLimiterAt(cl.rate, cl.burst, cl.now)
	cl.limiters[key] = limiter
	return limiter
}

// Allow takes one token from key's bucket.
func (cl *ClientLimiters) Allow(key string) bool {
	return cl.Get(key).Allow()
}

func (cl *ClientLimiters) Remove(key string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.limiters, key)
}

func (cl *ClientLimiters) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.limiters)
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

func (cl *ClientLimiters) cleanup() {
	ticker := time.NewTicker(cl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cl.evictIdle()
		}
	}
}

func (cl *ClientLimiters) evictIdle() int {
	cutoff := cl.now().Add(-cl.idleTimeout)

	cl.mu.Lock()
	defer cl.mu.Unlock()

	evicted := 0
	for key, l := range cl.limiters {
		if l.idleSince().Before(cutoff) {
			delete(cl.limiters, key)
			evicted++
		}
	}
	return evicted
}
