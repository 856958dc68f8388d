package sink

import (
	"context"
	"io"
	"sync"

	"github.com/labstack/gommon/color"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logspec"
)

// consoleSink writes lines to a process stream under its own lock.
type consoleSink struct {
	counters

	mu     sync.Mutex
	w      io.Writer
	color  *color.Color
	closed bool
}

func newConsoleSink(key string, w io.Writer, colored bool, o Observer) *consoleSink {
	c := color.New()
	if colored {
		c.Enable()
	} else {
		c.Disable()
	}
	return &consoleSink{
		counters: counters{key: key, kind: logspec.HandlerConsole, observer: o},
		w:        w,
		color:    c,
	}
}

func (s *consoleSink) paint(level logspec.Level, line string) string {
	switch {
	case level >= logspec.LevelCritical:
		return s.color.Magenta(line, color.B)
	case level >= logspec.LevelError:
		return s.color.Red(line)
	case level >= logspec.LevelWarning:
		return s.color.Yellow(line)
	case level >= logspec.LevelInfo:
		return line
	case level >= logspec.LevelDebug:
		return s.color.Cyan(line)
	default:
		return s.color.Grey(line)
	}
}

func (s *consoleSink) Write(_ context.Context, e *Entry) error {
	line := s.paint(e.Level, e.Line) + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrSinkClosed
	}
	n, err := io.WriteString(s.w, line)
	if err != nil {
		s.failed()
		return err
	}
	s.wrote(1, n)
	return nil
}

// Flush is a no-op; console writes are unbuffered.
func (s *consoleSink) Flush(context.Context) error { return nil }

// Close stops accepting writes. The stream itself stays open.
func (s *consoleSink) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
