// Package ratelimit provides per-caller request limiting for the chat
// endpoints.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// Limiter is used to enforce per-caller rate limits.
type Limiter interface {
	Allow(key string) bool
}

// NoopLimiter allows all requests. Used when no limit is configured.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter { return &NoopLimiter{} }

func (l *NoopLimiter) Allow(string) bool { return true }

// window tracks one caller's request count inside a fixed minute window.
type window struct {
	start int64 // unix seconds, start of the current window
	count int64
}

// MemoryLimiter is an in-memory fixed-window limiter keyed by caller
// identity (client IP for the public surface). Suitable for single-instance
// deployments; counters are process-local.
type MemoryLimiter struct {
	limit   int64
	entries sync.Map // key -> *window
	stop    chan struct{}
	once    sync.Once
}

const windowSeconds = 60

// NewMemoryLimiter creates a limiter allowing perMinute requests per key.
// A janitor goroutine evicts callers idle for two full windows.
func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	l := &MemoryLimiter{
		limit: int64(perMinute),
		stop:  make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Allow reports whether one more request from key fits in the current window.
func (l *MemoryLimiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}
	now := time.Now().Unix()
	windowStart := now - now%windowSeconds

	v, _ := l.entries.LoadOrStore(key, &window{start: windowStart})
	w := v.(*window)

	// A stale entry means the caller's window has rolled over; reset the
	// counter before accounting for this request.
	if atomic.LoadInt64(&w.start) != windowStart {
		if atomic.CompareAndSwapInt64(&w.start, atomic.LoadInt64(&w.start), windowStart) {
			atomic.StoreInt64(&w.count, 0)
		}
	}
	return atomic.AddInt64(&w.count, 1) <= l.limit
}

// Close stops the janitor goroutine.
func (l *MemoryLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *MemoryLimiter) janitor() {
	ticker := time.NewTicker(windowSeconds * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Unix() - 2*windowSeconds
			l.entries.Range(func(key, v any) bool {
				if atomic.LoadInt64(&v.(*window).start) < cutoff {
					l.entries.Delete(key)
				}
				return true
			})
		}
	}
}
