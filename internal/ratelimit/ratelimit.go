// Package ratelimit implements the process-local fixed-window limiter used to
// throttle login attempts.
//
// State lives in memory and is neither shared across instances nor kept
// across restarts. Callers depend on the Limiter interface so a shared-cache
// implementation can replace FixedWindow without touching them.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether another attempt for key is allowed.
type Limiter interface {
	Allow(key string, maxAttempts int, window time.Duration) bool
}

type entry struct {
	attempts int
	resetAt  time.Time
}

// FixedWindow counts attempts per key inside a fixed time bucket. The
// read-check-increment sequence runs under one mutex, so two concurrent
// callers can never both observe "under limit" for the last free slot.
type FixedWindow struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(f *FixedWindow) {
		if fn != nil {
			f.now = fn
		}
	}
}

// NewFixedWindow returns an empty limiter.
func NewFixedWindow(opts ...Option) *FixedWindow {
	f := &FixedWindow{entries: make(map[string]*entry), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Allow records an attempt for key and reports whether it is within
// maxAttempts for the current window. A rejected attempt is not counted.
func (f *FixedWindow) Allow(key string, maxAttempts int, window time.Duration) bool {
	now := f.now()

	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[key]
	if !ok || e.resetAt.Before(now) {
		f.entries[key] = &entry{attempts: 1, resetAt: now.Add(window)}
		return true
	}
	if e.attempts >= maxAttempts {
		return false
	}
	e.attempts++
	return true
}

// Remaining returns how many attempts key has left in its window.
func (f *FixedWindow) Remaining(key string, maxAttempts int) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[key]
	if !ok || e.resetAt.Before(f.now()) {
		return maxAttempts
	}
	if left := maxAttempts - e.attempts; left > 0 {
		return left
	}
	return 0
}

// ResetAt returns the end of key's current window, or the zero time.
func (f *FixedWindow) ResetAt(key string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[key]; ok {
		return e.resetAt
	}
	return time.Time{}
}

// RetryAfter returns how long until key's window ends, measured on the
// limiter's own clock. It is zero when key has no open window.
func (f *FixedWindow) RetryAfter(key string) time.Duration {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || !e.resetAt.After(now) {
		return 0
	}
	return e.resetAt.Sub(now)
}

// Reset forgets key.
func (f *FixedWindow) Reset(key string) {
	f.mu.Lock()
	delete(f.entries, key)
	f.mu.Unlock()
}

// Len returns the number of tracked keys.
func (f *FixedWindow) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// Sweep drops entries whose window has already ended. Allow would replace
// them anyway; sweeping only bounds memory.
func (f *FixedWindow) Sweep() int {
	now := f.now()
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for k, e := range f.entries {
		if e.resetAt.Before(now) {
			delete(f.entries, k)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (f *FixedWindow) StartSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}
