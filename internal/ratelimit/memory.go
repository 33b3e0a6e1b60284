package ratelimit

import (
	"context"
	"sync"
	"time"
)

// windowCounter tracks one client key's request count inside the current
// one-second window.
type windowCounter struct {
	window int64
	count  int
}

// MemoryLimiter is the in-process fixed-window limiter used to throttle
// client API requests per IP when no Redis backend is configured.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		counters: make(map[string]*windowCounter),
	}
}

// Allow counts the request against the client key's current one-second
// window and reports whether it stays within the limit.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	l.mu.Lock()
	counter := l.counters[key]
	if counter == nil {
		counter = &windowCounter{window: sec}
		l.counters[key] = counter
	}
	if counter.window != sec {
		counter.window = sec
		counter.count = 0
	}
	if counter.count >= limit {
		l.mu.Unlock()
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	counter.count++
	remaining := limit - counter.count
	l.mu.Unlock()
	return Result{Allowed: true, Remaining: remaining, Reset: reset}, nil
}
