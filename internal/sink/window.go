package sink

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logspec"
	"github.com/hcikit/hcilog/internal/ratelimit"
)

const (
	// WindowBatchSize is the largest batch handed to a presenter at once.
	WindowBatchSize = 50
	// WindowHistorySize is the byte capacity of the recent-lines buffer.
	WindowHistorySize = 64 * 1024
	// windowMaxPending bounds undelivered events when the presenter stalls.
	windowMaxPending = 10000
)

// WindowEvent is one line shown in the UI log window.
type WindowEvent struct {
	Time    time.Time
	Level   logspec.Level
	Logger  string
	Message string
	Line    string
	Color   string // empty when colors are off
	Summary bool   // synthetic "N messages suppressed" event
}

// WindowPresenter displays batches of events. Calls are serialized.
type WindowPresenter interface {
	Present(events []WindowEvent)
}

// PresenterFunc adapts a function to WindowPresenter.
type PresenterFunc func(events []WindowEvent)

func (f PresenterFunc) Present(events []WindowEvent) { f(events) }

var windowColors = map[logspec.Level]string{
	logspec.LevelTrace:    "gray",
	logspec.LevelDebug:    "blue",
	logspec.LevelInfo:     "green",
	logspec.LevelWarning:  "orange",
	logspec.LevelError:    "red",
	logspec.LevelCritical: "darkred",
}

// WindowSink rate limits events and delivers them to the attached
// presenter in batches from its own goroutine. When a window of the
// limiter suppressed events, exactly one summary event follows it.
type WindowSink struct {
	counters

	limiter  *ratelimit.Limiter
	clock    func() time.Time
	interval time.Duration
	colors   bool

	mu        sync.Mutex
	pending   []WindowEvent
	presenter WindowPresenter
	closed    bool

	deliverMu sync.Mutex

	historyMu sync.Mutex
	history   *ringbuffer.RingBuffer

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newWindowSink(key string, h *logspec.HandlerSpec, f *Factory) *WindowSink {
	interval := h.FlushInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	s := &WindowSink{
		counters:  counters{key: key, kind: logspec.HandlerWindow, observer: f.observer},
		limiter:   ratelimit.New(h.RateLimit),
		clock:     f.clock,
		interval:  interval,
		colors:    h.Color != "never",
		presenter: f.presenter,
		history:   ringbuffer.New(WindowHistorySize),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Attach replaces the presenter. Events queued while no presenter is
// attached are dropped at delivery time; History still has them.
func (s *WindowSink) Attach(p WindowPresenter) {
	s.mu.Lock()
	s.presenter = p
	s.mu.Unlock()
}

func (s *WindowSink) event(e *Entry) WindowEvent {
	ev := WindowEvent{Time: e.Time, Level: e.Level, Logger: e.Logger, Message: e.Message, Line: e.Line}
	if s.colors {
		ev.Color = windowColors[e.Level]
	}
	return ev
}

func (s *WindowSink) summary(n int, now time.Time) WindowEvent {
	msg := ratelimit.Summary(n)
	ev := WindowEvent{Time: now, Level: logspec.LevelWarning, Logger: "ratelimit", Message: msg, Line: msg, Summary: true}
	if s.colors {
		ev.Color = windowColors[logspec.LevelWarning]
	}
	return ev
}

func (s *WindowSink) Write(_ context.Context, e *Entry) error {
	now := s.clock()
	allowed, suppressed := s.limiter.Allow(now)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.ErrSinkClosed
	}
	if suppressed > 0 {
		s.enqueueLocked(s.summary(suppressed, now))
	}
	if allowed {
		s.enqueueLocked(s.event(e))
	}
	full := len(s.pending) >= WindowBatchSize
	s.mu.Unlock()

	if !allowed {
		s.counters.suppressed.Add(1)
		s.observer.ObserveSuppressed(s.key, 1)
		return nil
	}
	s.remember(e.Line)
	if full {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *WindowSink) enqueueLocked(ev WindowEvent) {
	if len(s.pending) >= windowMaxPending {
		s.pending = s.pending[1:]
		s.dropped.Add(1)
	}
	s.pending = append(s.pending, ev)
}

func (s *WindowSink) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
			s.deliver()
		case <-ticker.C:
			if n := s.limiter.Sweep(s.clock()); n > 0 {
				s.mu.Lock()
				s.enqueueLocked(s.summary(n, s.clock()))
				s.mu.Unlock()
			}
			s.deliver()
		}
	}
}

// deliver hands every pending event to the presenter in batches.
func (s *WindowSink) deliver() {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	events := s.pending
	s.pending = nil
	p := s.presenter
	s.mu.Unlock()

	if len(events) == 0 {
		return
	}
	if p == nil {
		s.dropped.Add(uint64(len(events)))
		return
	}
	for start := 0; start < len(events); start += WindowBatchSize {
		batch := events[start:min(start+WindowBatchSize, len(events))]
		if err := present(p, batch); err != nil {
			s.failed()
			s.dropped.Add(uint64(len(batch)))
			continue
		}
		n := 0
		for _, ev := range batch {
			n += len(ev.Line)
		}
		s.wrote(len(batch), n)
	}
}

func present(p WindowPresenter, batch []WindowEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("window presenter panic: %v", r)
		}
	}()
	p.Present(batch)
	return nil
}

func (s *WindowSink) remember(line string) {
	b := make([]byte, 0, len(line)+1)
	b = append(b, line...)
	b = append(b, '\n')
	if len(b) > s.history.Capacity() {
		return
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	if need := len(b) - s.history.Free(); need > 0 {
		s.evict(need)
	}
	_, _ = s.history.Write(b)
}

// evict drops whole lines from the front until at least n bytes are free.
func (s *WindowSink) evict(n int) {
	scratch := make([]byte, n)
	read, _ := s.history.Read(scratch)
	if read > 0 && scratch[read-1] == '\n' {
		return
	}
	one := make([]byte, 1)
	for s.history.Length() > 0 {
		if _, err := s.history.Read(one); err != nil || one[0] == '\n' {
			return
		}
	}
}

// History returns the most recent lines accepted by the window, oldest first.
func (s *WindowSink) History() []string {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	n := s.history.Length()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	read, _ := s.history.Read(buf)
	buf = buf[:read]
	_, _ = s.history.Write(buf)

	var lines []string
	for line := range bytes.SplitSeq(bytes.TrimSuffix(buf, []byte{'\n'}), []byte{'\n'}) {
		lines = append(lines, string(line))
	}
	return lines
}

// LimiterStats exposes the rate limiter counters.
func (s *WindowSink) LimiterStats() ratelimit.Stats { return s.limiter.Stats() }

// Flush delivers every pending event synchronously.
func (s *WindowSink) Flush(context.Context) error {
	s.deliver()
	return nil
}

// Close stops the delivery goroutine, turns any outstanding suppression
// count into a final summary and delivers what is left.
func (s *WindowSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
	})
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if n := s.limiter.Drain(); n > 0 {
		s.mu.Lock()
		s.enqueueLocked(s.summary(n, s.clock()))
		s.mu.Unlock()
	}
	s.deliver()
	return nil
}
