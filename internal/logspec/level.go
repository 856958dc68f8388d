package logspec

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Level is a log severity. Values line up with slog so a Level converts
// directly; Trace and Critical extend the slog range on both ends.
type Level int

const (
	LevelTrace    Level = -8
	LevelDebug    Level = Level(slog.LevelDebug)
	LevelInfo     Level = Level(slog.LevelInfo)
	LevelWarning  Level = Level(slog.LevelWarn)
	LevelError    Level = Level(slog.LevelError)
	LevelCritical Level = 12
)

// Slog returns the equivalent slog level.
func (l Level) Slog() slog.Level { return slog.Level(l) }

// Enabled reports whether an event at level passes a threshold of l.
func (l Level) Enabled(level Level) bool { return level >= l }

// String returns the canonical upper-case name.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "LEVEL(" + strconv.Itoa(int(l)) + ")"
	}
}

// Number returns the conventional numeric level (DEBUG=10 ... CRITICAL=50).
func (l Level) Number() int {
	switch {
	case l <= LevelTrace:
		return 5
	case l <= LevelDebug:
		return 10
	case l <= LevelInfo:
		return 20
	case l <= LevelWarning:
		return 30
	case l <= LevelError:
		return 40
	default:
		return 50
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLevel accepts level names in any case (WARN, WARNING, FATAL and
// NOTSET included) and the numeric levels 0 through 50.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NOTSET", "ALL", "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL", "FATAL":
		return LevelCritical, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	switch {
	case n < 0 || n > 50:
		return 0, fmt.Errorf("numeric level %d out of range 0-50", n)
	case n < 10:
		return LevelTrace, nil
	case n < 20:
		return LevelDebug, nil
	case n < 30:
		return LevelInfo, nil
	case n < 40:
		return LevelWarning, nil
	case n < 50:
		return LevelError, nil
	default:
		return LevelCritical, nil
	}
}

// LevelFromSlog maps an arbitrary slog level onto the nearest Level at or below it.
func LevelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelDebug:
		return LevelTrace
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarning
	case l < slog.Level(LevelCritical):
		return LevelError
	default:
		return LevelCritical
	}
}
