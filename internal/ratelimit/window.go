// Package ratelimit implements per-key sliding-window rate limiting with a
// one-minute and a one-hour window. Checking and recording are separate
// operations: a request that fails validation never consumes a slot.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// window holds the ordered request timestamps for one key. Every entry in
// minute is also within the hour window; stale entries are pruned lazily on
// each check.
type window struct {
	mu     sync.Mutex
	minute []time.Time
	hour   []time.Time
}

// Limiter tracks request timestamps per key. Access to individual windows is
// serialized per key, not globally, so concurrent checks for different keys
// never contend.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	// now is injectable for tests.
	now func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (l *Limiter) window(key string) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok {
		w = &window{}
		l.windows[key] = w
	}
	return w
}

// Check reports whether a request for key is currently allowed under the
// rpm/rph limits. A limit of 0 means unlimited. When saturated, retryAfter is
// the number of seconds until the oldest timestamp exits its window
// (minimum 1). Check never consumes a slot; call Record once the request is
// admitted.
func (l *Limiter) Check(key string, rpm, rph int) (allowed bool, retryAfter int) {
	if rpm <= 0 && rph <= 0 {
		return true, 0
	}

	now := l.now()
	w := l.window(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.minute = prune(w.minute, now.Add(-time.Minute))
	w.hour = prune(w.hour, now.Add(-time.Hour))

	if rpm > 0 && len(w.minute) >= rpm {
		return false, secondsUntilExit(w.minute[0], time.Minute, now)
	}
	if rph > 0 && len(w.hour) >= rph {
		return false, secondsUntilExit(w.hour[0], time.Hour, now)
	}
	return true, 0
}

// Record registers one admitted request against both windows.
func (l *Limiter) Record(key string) {
	now := l.now()
	w := l.window(key)
	w.mu.Lock()
	w.minute = append(w.minute, now)
	w.hour = append(w.hour, now)
	w.mu.Unlock()
}

// Reset drops all recorded timestamps for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// prune drops timestamps at or before cutoff. Slices are ordered, so only the
// head needs scanning.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// secondsUntilExit computes ceil(seconds) until oldest leaves its window,
// clamped to at least 1 so clients never busy-loop on retry-after 0.
func secondsUntilExit(oldest time.Time, span time.Duration, now time.Time) int {
	secs := int(math.Ceil(oldest.Add(span).Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
