package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hcikit/hcilog/internal/errors"
)

// Default throttle of the fallback stderr output.
const (
	DefaultFallbackBurst    = 10
	DefaultFallbackInterval = 5 * time.Second
)

// Fallback receives every engine error that must not reach a logging
// caller: sink write failures, handler init failures, failed reloads and
// shutdown losses. It never logs through the engine itself.
//
// Errors are written to a slog text handler on stderr (throttled), handed
// to the errors package reporter (Sentry when configured) and, if set,
// offered to a channel without blocking.
type Fallback struct {
	log       *slog.Logger
	sometimes *rate.Sometimes
	ch        chan<- error

	reports   atomic.Uint64
	throttled atomic.Uint64
	overflow  atomic.Uint64

	mu         sync.Mutex
	byCategory map[errors.ErrorCategory]uint64
}

// FallbackOption configures a Fallback.
type FallbackOption func(*fallbackOptions)

type fallbackOptions struct {
	out      io.Writer
	extra    []slog.Handler
	ch       chan<- error
	burst    int
	interval time.Duration
}

// WithFallbackWriter replaces stderr as the text output.
func WithFallbackWriter(w io.Writer) FallbackOption {
	return func(o *fallbackOptions) { o.out = w }
}

// WithFallbackHandler adds a handler that sees every report, unthrottled.
func WithFallbackHandler(h slog.Handler) FallbackOption {
	return func(o *fallbackOptions) { o.extra = append(o.extra, h) }
}

// WithFallbackChannel delivers every reported error to ch. Sends never
// block; errors that do not fit are counted and dropped.
func WithFallbackChannel(ch chan<- error) FallbackOption {
	return func(o *fallbackOptions) { o.ch = ch }
}

// WithFallbackThrottle lets the first burst reports through to the text
// output, then one per interval.
func WithFallbackThrottle(burst int, interval time.Duration) FallbackOption {
	return func(o *fallbackOptions) {
		o.burst = burst
		o.interval = interval
	}
}

// NewFallback creates a fallback channel.
func NewFallback(opts ...FallbackOption) *Fallback {
	o := fallbackOptions{out: os.Stderr, burst: DefaultFallbackBurst, interval: DefaultFallbackInterval}
	for _, opt := range opts {
		opt(&o)
	}

	text := slog.NewTextHandler(o.out, &slog.HandlerOptions{Level: slog.LevelDebug})
	handlers := []slog.Handler{&throttledHandler{Handler: text}}
	handlers = append(handlers, o.extra...)

	f := &Fallback{
		log:        slog.New(newFanoutHandler(handlers...)).With("component", "hcilog"),
		sometimes:  &rate.Sometimes{First: o.burst, Interval: o.interval},
		ch:         o.ch,
		byCategory: make(map[errors.ErrorCategory]uint64),
	}
	return f
}

// throttledKey marks a context whose record may reach the throttled handler.
type throttledKey struct{}

// throttledHandler only handles records the Fallback let through its limiter.
type throttledHandler struct {
	slog.Handler
}

//nolint:gocritic // slog.Handler interface requires record by value, not pointer
func (h *throttledHandler) Handle(ctx context.Context, r slog.Record) error {
	if pass, _ := ctx.Value(throttledKey{}).(bool); !pass {
		return nil
	}
	return h.Handler.Handle(ctx, r)
}

func (h *throttledHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &throttledHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *throttledHandler) WithGroup(name string) slog.Handler {
	return &throttledHandler{Handler: h.Handler.WithGroup(name)}
}

// Report records err and returns its category. A nil error is ignored.
func (f *Fallback) Report(err error) errors.ErrorCategory {
	if f == nil || err == nil {
		return ""
	}
	f.reports.Add(1)

	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		ee = errors.New(err).Component("hcilog").Build()
	}
	category := ee.ErrorCategory()

	f.mu.Lock()
	f.byCategory[category]++
	f.mu.Unlock()

	if f.ch != nil {
		select {
		case f.ch <- err:
		default:
			f.overflow.Add(1)
		}
	}

	pass := false
	f.sometimes.Do(func() { pass = true })
	if !pass {
		f.throttled.Add(1)
	}
	ctx := context.WithValue(context.Background(), throttledKey{}, pass)
	level := slog.LevelError
	if category == errors.CategoryReload || category == errors.CategoryBackpressure {
		level = slog.LevelWarn
	}
	f.log.LogAttrs(ctx, level, "logging engine error",
		slog.String("category", string(category)),
		slog.String("error", err.Error()))
	return category
}

// FallbackStats counts what went through the fallback channel.
type FallbackStats struct {
	Reports    uint64            `json:"reports"`
	Throttled  uint64            `json:"throttled"`
	Overflow   uint64            `json:"channel_overflow"`
	ByCategory map[string]uint64 `json:"by_category,omitempty"`
}

// Stats returns a snapshot of the counters.
func (f *Fallback) Stats() FallbackStats {
	s := FallbackStats{
		Reports:   f.reports.Load(),
		Throttled: f.throttled.Load(),
		Overflow:  f.overflow.Load(),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.byCategory) > 0 {
		s.ByCategory = make(map[string]uint64, len(f.byCategory))
		for c, n := range f.byCategory {
			s.ByCategory[string(c)] = n
		}
	}
	return s
}
