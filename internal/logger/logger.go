// Package logger is the runtime side of hcilog: it binds module names to
// resolved logger specs and dispatches events to the shared sinks.
//
// # Quick Start
//
//	mgr, err := logger.NewManager(logger.Config{
//	    Paths: []string{"logging.yaml"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer mgr.Shutdown(context.Background())
//
//	hci := mgr.GetLogger("bluetooth.hci")
//	hci.Info("controller reset", logger.String("adapter", "hci0"))
//
// # Module Names
//
// Names are dotted paths ("bluetooth.hci.cmd"). Each name binds to exactly
// one spec: an exact logger key, then the first matching glob key, then the
// nearest dotted ancestor, then the default logger. Module appends a
// segment to the handle's name and rebinds.
//
// # Fields
//
// Structured fields use the typed constructors below. Static fields from
// additional_fields come first, then fields bound with With, then the
// fields of the call. Text formats render them as key=value pairs after
// the message unless the format places %(fields)s explicitly.
//
//	conn := hci.With(logger.String("bd_addr", "00:1A:7D:DA:71:13"))
//	conn.Debug("ACL packet", logger.Int("handle", 0x0040), logger.Int("len", 27))
//
// # Context
//
// WithContext copies a trace ID set with WithTraceID into a field:
//
//	ctx = logger.WithTraceID(ctx, "pairing-7")
//	hci.WithContext(ctx).Info("SSP started")
//
// # Back-pressure
//
// Log returns a *errors.SinkBackpressureError when a file sink queue stayed
// full for the configured enqueue timeout. Every other sink failure goes to
// the fallback channel. The leveled helpers drop the back-pressure error;
// it is still counted in Manager.Stats.
//
// # Thread Safety
//
// Handles, the Manager and all sinks are safe for concurrent use. Reload
// swaps the whole pipeline atomically; a call sees either the old or the
// new configuration, never a mix.
package logger

import (
	"context"
	"time"
	"unique"

	"github.com/hcikit/hcilog/internal/logspec"
)

// Field represents a structured log field.
// Keys are interned using unique.Make() so the same key string used across
// many calls shares a single allocation.
type Field struct {
	Key   string
	Value any
}

func internKey(key string) string {
	return unique.Make(key).Value()
}

// Pre-interned common keys
var (
	errorKey   = internKey("error")
	traceIDKey = internKey("trace_id")
)

// Logger is the handle collaborators log through.
type Logger interface {
	// Name is the dotted module name the handle is bound to.
	Name() string

	// Module returns the handle for name + "." + sub.
	Module(sub string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Critical(msg string, fields ...Field)

	// Log dispatches at an explicit level. Only back-pressure errors are returned.
	Log(level logspec.Level, msg string, fields ...Field) error

	// Enabled reports whether an event at level would pass the bound spec's
	// enable flag and level threshold.
	Enabled(level logspec.Level) bool

	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int creates an integer field. Use it for handles, opcodes, lengths.
func Int(key string, value int) Field {
	return Field{Key: internKey(key), Value: value}
}

// Int64 creates a 64-bit integer field.
func Int64(key string, value int64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Uint64 creates an unsigned 64-bit integer field.
func Uint64(key string, value uint64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Float64 creates a float field. Text output rounds to 3 decimals.
func Float64(key string, value float64) Field {
	return Field{Key: internKey(key), Value: value}
}

// Bool creates a boolean field.
func Bool(key string, value bool) Field {
	return Field{Key: internKey(key), Value: value}
}

// Error creates an error field. The key is always "error"; a nil error
// gives a nil value.
//
//	if err := adapter.Reset(); err != nil {
//	    log.Error("reset failed", logger.Error(err), logger.String("adapter", "hci0"))
//	}
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}

// Duration creates a duration field rendered as a string ("1.5s").
func Duration(key string, value time.Duration) Field {
	return Field{Key: internKey(key), Value: value.String()}
}

// Time creates a time field.
func Time(key string, value time.Time) Field {
	return Field{Key: internKey(key), Value: value}
}

// Any creates a field with an arbitrary value. The JSON format encodes it
// with encoding/json; text formats use fmt's %v.
func Any(key string, value any) Field {
	return Field{Key: internKey(key), Value: value}
}

// Hex creates a field rendered as 0x-prefixed hex, the usual notation for
// HCI opcodes, handles and event codes.
func Hex(key string, value uint64) Field {
	return Field{Key: internKey(key), Value: hexValue(value)}
}

type hexValue uint64

func (h hexValue) String() string {
	const digits = "0123456789abcdef"
	if h == 0 {
		return "0x0000"
	}
	var buf [18]byte
	i := len(buf)
	for v := uint64(h); v > 0; v >>= 4 {
		i--
		buf[i] = digits[v&0xf]
	}
	for len(buf)-i < 4 {
		i--
		buf[i] = '0'
	}
	i--
	buf[i] = 'x'
	i--
	buf[i] = '0'
	return string(buf[i:])
}

func (h hexValue) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

// loggerContextKey is a typed key for context values.
type loggerContextKey struct{ name string }

// TraceIDKey is the context key for trace IDs. Use WithTraceID to set values.
var TraceIDKey = loggerContextKey{"trace_id"}

// WithTraceID returns a new context with the trace ID set.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func traceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
