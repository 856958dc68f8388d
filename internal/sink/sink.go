// Package sink provides the live output targets shared by logger specs:
// console streams, rotating files, syslog and the rate limited UI window.
package sink

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hcikit/hcilog/internal/logspec"
)

// Entry is one formatted event handed to a sink.
type Entry struct {
	Time    time.Time
	Level   logspec.Level
	Logger  string
	Message string
	Line    string // formatted text without the trailing newline
}

// Sink is a live output target. Implementations are safe for concurrent use.
type Sink interface {
	Key() string
	Write(ctx context.Context, e *Entry) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
	Stats() Stats
}

// Stats are cumulative per-sink counters.
type Stats struct {
	Key          string              `json:"key"`
	Type         logspec.HandlerType `json:"type"`
	Lines        uint64              `json:"lines"`
	Bytes        uint64              `json:"bytes"`
	Batches      uint64              `json:"batches"`
	Rotations    uint64              `json:"rotations"`
	Errors       uint64              `json:"errors"`
	Backpressure uint64              `json:"backpressure"`
	Suppressed   uint64              `json:"suppressed"`
	Dropped      uint64              `json:"dropped"`
}

// Observer receives sink activity, typically to export it as metrics.
type Observer interface {
	ObserveWrite(key string, kind logspec.HandlerType, lines, bytes int)
	ObserveRotation(key string)
	ObserveError(key string, kind logspec.HandlerType)
	ObserveBackpressure(key string)
	ObserveSuppressed(key string, n int)
}

type nopObserver struct{}

func (nopObserver) ObserveWrite(string, logspec.HandlerType, int, int) {}
func (nopObserver) ObserveRotation(string)                             {}
func (nopObserver) ObserveError(string, logspec.HandlerType)           {}
func (nopObserver) ObserveBackpressure(string)                         {}
func (nopObserver) ObserveSuppressed(string, int)                      {}

// ErrorHandler receives failures that happen off the caller's goroutine,
// such as a background file write.
type ErrorHandler func(key string, err error)

// counters is embedded by every sink.
type counters struct {
	key      string
	kind     logspec.HandlerType
	observer Observer

	lines        atomic.Uint64
	bytes        atomic.Uint64
	batches      atomic.Uint64
	rotations    atomic.Uint64
	errors       atomic.Uint64
	backpressure atomic.Uint64
	suppressed   atomic.Uint64
	dropped      atomic.Uint64
}

func (c *counters) Key() string { return c.key }

func (c *counters) wrote(lines, n int) {
	c.lines.Add(uint64(lines))
	c.bytes.Add(uint64(n))
	c.batches.Add(1)
	c.observer.ObserveWrite(c.key, c.kind, lines, n)
}

func (c *counters) failed() {
	c.errors.Add(1)
	c.observer.ObserveError(c.key, c.kind)
}

func (c *counters) Stats() Stats {
	return Stats{
		Key:          c.key,
		Type:         c.kind,
		Lines:        c.lines.Load(),
		Bytes:        c.bytes.Load(),
		Batches:      c.batches.Load(),
		Rotations:    c.rotations.Load(),
		Errors:       c.errors.Load(),
		Backpressure: c.backpressure.Load(),
		Suppressed:   c.suppressed.Load(),
		Dropped:      c.dropped.Load(),
	}
}

// CanonicalKey returns the identity of the target a handler writes to.
// Handlers with equal keys share one sink.
func CanonicalKey(h *logspec.HandlerSpec) (string, error) {
	switch h.Type {
	case logspec.HandlerFile:
		if h.Filename == "" {
			return "", fmt.Errorf("file handler %q has no filename", h.Name)
		}
		abs, err := filepath.Abs(h.Filename)
		if err != nil {
			return "", fmt.Errorf("file handler %q: %w", h.Name, err)
		}
		return "file:" + abs, nil
	case logspec.HandlerConsole:
		stream := h.Stream
		if stream == "" {
			stream = "stderr"
		}
		return "console:" + stream, nil
	case logspec.HandlerSyslog:
		facility := h.Facility
		if facility == "" {
			facility = logspec.DefaultSyslogFacility
		}
		if h.Network == "" {
			return "syslog:local#" + facility, nil
		}
		return fmt.Sprintf("syslog:%s://%s#%s", h.Network, h.Address, facility), nil
	case logspec.HandlerWindow:
		return "window", nil
	default:
		return "", fmt.Errorf("handler %q has unknown type %q", h.Name, h.Type)
	}
}
