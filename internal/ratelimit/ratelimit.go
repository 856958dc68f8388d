// Package ratelimit implements the fixed-window event budget that protects
// slow sinks from floods.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// DefaultWindow is the budget window length.
const DefaultWindow = time.Second

// Stats are cumulative limiter counters.
type Stats struct {
	Allowed    uint64
	Suppressed uint64
	Summaries  uint64
}

// Limiter permits up to limit events per window and counts the rest.
// When a window that suppressed events is over, the count is handed back
// once so the caller can emit a single summary. Safe for concurrent use.
type Limiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	start      time.Time
	count      int
	suppressed int
	stats      Stats
}

// New creates a limiter with the default one-second window. A limit of
// zero or less disables limiting.
func New(limit int) *Limiter {
	return NewWithWindow(limit, DefaultWindow)
}

// NewWithWindow creates a limiter with a custom window length.
func NewWithWindow(limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{limit: limit, window: window}
}

// Limit returns the per-window budget.
func (l *Limiter) Limit() int { return l.limit }

// Allow records one event at now. It reports whether the event passes and,
// when now opens a new window after one with suppressions, how many events
// that window suppressed.
func (l *Limiter) Allow(now time.Time) (allowed bool, summary int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit <= 0 {
		l.stats.Allowed++
		return true, 0
	}

	summary = l.rollLocked(now)
	if l.count < l.limit {
		l.count++
		l.stats.Allowed++
		return true, summary
	}
	l.suppressed++
	l.stats.Suppressed++
	return false, summary
}

// Sweep closes an expired window without recording an event and returns
// its suppressed count, zero when there is nothing to report.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rollLocked(now)
}

// Drain returns any suppressed count of the current window immediately.
// Used when the owning sink shuts down.
func (l *Limiter) Drain() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.suppressed
	l.suppressed = 0
	if n > 0 {
		l.stats.Summaries++
	}
	return n
}

// Stats returns a snapshot of the counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Limiter) rollLocked(now time.Time) int {
	if !l.start.IsZero() && now.Sub(l.start) < l.window {
		return 0
	}
	n := l.suppressed
	l.start = now
	l.count = 0
	l.suppressed = 0
	if n > 0 {
		l.stats.Summaries++
	}
	return n
}

// Summary formats the synthetic event text for n suppressed events.
func Summary(n int) string {
	return fmt.Sprintf("%d messages suppressed", n)
}
