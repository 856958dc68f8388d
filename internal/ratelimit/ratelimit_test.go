package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinWindow(t *testing.T) {
	t.Parallel()

	l := New(100)
	start := time.Unix(1_700_000_000, 0)

	allowed, summaries := 0, 0
	for i := range 1000 {
		ok, summary := l.Allow(start.Add(time.Duration(i) * time.Millisecond / 2))
		if ok {
			allowed++
		}
		summaries += summary
	}
	assert.Equal(t, 100, allowed)
	assert.Zero(t, summaries, "summary waits for the window to end")

	assert.Equal(t, 900, l.Sweep(start.Add(time.Second)))
	assert.Zero(t, l.Sweep(start.Add(1500*time.Millisecond)), "summary is reported once")

	st := l.Stats()
	assert.Equal(t, uint64(100), st.Allowed)
	assert.Equal(t, uint64(900), st.Suppressed)
	assert.Equal(t, uint64(1), st.Summaries)
}

func TestAllowReportsSummaryOnNextWindow(t *testing.T) {
	t.Parallel()

	l := NewWithWindow(2, time.Second)
	now := time.Unix(100, 0)

	for range 5 {
		l.Allow(now)
	}
	ok, summary := l.Allow(now.Add(time.Second))
	assert.True(t, ok)
	assert.Equal(t, 3, summary)

	ok, summary = l.Allow(now.Add(time.Second))
	assert.True(t, ok)
	assert.Zero(t, summary)
}

func TestUnlimited(t *testing.T) {
	t.Parallel()

	l := New(0)
	now := time.Now()
	for range 10_000 {
		ok, _ := l.Allow(now)
		assert.True(t, ok)
	}
	assert.Zero(t, l.Sweep(now.Add(time.Hour)))
}

func TestDrain(t *testing.T) {
	t.Parallel()

	l := New(1)
	now := time.Now()
	l.Allow(now)
	l.Allow(now)
	l.Allow(now)
	assert.Equal(t, 2, l.Drain())
	assert.Zero(t, l.Drain())
}

func TestConcurrentBudget(t *testing.T) {
	t.Parallel()

	l := New(50)
	now := time.Now()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if ok, _ := l.Allow(now); ok {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestSummary(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "900 messages suppressed", Summary(900))
}
