package logger

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hcikit/hcilog/internal/logspec"
)

// FormatJSON selects the JSON line formatter instead of a token format.
const FormatJSON = "json"

const (
	// floatPrecisionRatio rounds text float fields to 3 decimals.
	floatPrecisionRatio = 1000
	// threadName is rendered for %(threadName)s; goroutines have no names.
	threadName = "MainThread"
)

// Record is one event on its way to the formatters.
type Record struct {
	Time    time.Time
	Level   logspec.Level
	Name    string // module name the event was logged under
	Message string
	Fields  []Field
	PC      uintptr // call site, zero unless a formatter needs it
}

// Formatter renders a record as a single line without a trailing newline.
type Formatter interface {
	Format(r *Record) string
	// NeedsCaller reports whether the record must carry a call site.
	NeedsCaller() bool
}

// NewFormatter compiles format. "json" selects the JSON formatter; anything
// else is a %(token)s format. dateLayout is a Go time layout for asctime.
func NewFormatter(format, dateLayout string) (Formatter, error) {
	if dateLayout == "" {
		dateLayout = logspec.DefaultDateFormat
	}
	if strings.EqualFold(strings.TrimSpace(format), FormatJSON) {
		return &jsonFormatter{layout: dateLayout}, nil
	}
	if format == "" {
		format = logspec.DefaultFormat
	}
	return compileText(format, dateLayout)
}

type token uint8

const (
	tokLiteral token = iota
	tokAsctime
	tokCreated
	tokMsecs
	tokName
	tokLevelName
	tokLevelNo
	tokMessage
	tokModule
	tokFilename
	tokPathname
	tokLineno
	tokFuncName
	tokThreadName
	tokProcess
	tokFields
)

var tokens = map[string]token{
	"asctime":    tokAsctime,
	"created":    tokCreated,
	"msecs":      tokMsecs,
	"name":       tokName,
	"levelname":  tokLevelName,
	"levelno":    tokLevelNo,
	"message":    tokMessage,
	"module":     tokModule,
	"filename":   tokFilename,
	"pathname":   tokPathname,
	"lineno":     tokLineno,
	"funcName":   tokFuncName,
	"threadName": tokThreadName,
	"process":    tokProcess,
	"fields":     tokFields,
}

type part struct {
	tok  token
	text string // literal text, or the fmt verb for a token ("" means plain)
}

type textFormatter struct {
	parts     []part
	layout    string
	hasFields bool
	caller    bool
}

func compileText(format, layout string) (*textFormatter, error) {
	f := &textFormatter{layout: layout}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			f.parts = append(f.parts, part{tok: tokLiteral, text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			lit.WriteByte(c)
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			lit.WriteByte('%')
			i++
			continue
		}
		if i+1 >= len(format) || format[i+1] != '(' {
			return nil, fmt.Errorf("format %q: bare %% at offset %d, use %%%% for a literal", format, i)
		}
		end := strings.IndexByte(format[i+2:], ')')
		if end < 0 {
			return nil, fmt.Errorf("format %q: unterminated %%( at offset %d", format, i)
		}
		name := format[i+2 : i+2+end]
		tok, ok := tokens[name]
		if !ok {
			return nil, fmt.Errorf("format %q: unknown field %%(%s)", format, name)
		}

		// flags, width, precision and the conversion character
		j := i + 2 + end + 1
		start := j
		for j < len(format) && strings.IndexByte("-+ #0.123456789", format[j]) >= 0 {
			j++
		}
		if j >= len(format) || strings.IndexByte("sdrf", format[j]) < 0 {
			return nil, fmt.Errorf("format %q: missing conversion after %%(%s)", format, name)
		}
		verb := ""
		if spec := format[start:j]; spec != "" || format[j] == 'r' || format[j] == 'f' {
			verb = "%" + spec + verbFor(format[j])
		}

		flush()
		f.parts = append(f.parts, part{tok: tok, text: verb})
		switch tok {
		case tokFields:
			f.hasFields = true
		case tokModule, tokFilename, tokPathname, tokLineno, tokFuncName:
			f.caller = true
		}
		i = j
	}
	flush()
	return f, nil
}

func verbFor(c byte) string {
	switch c {
	case 'r':
		return "q"
	case 'd':
		return "v"
	case 'f':
		return "f"
	default:
		return "v"
	}
}

func (f *textFormatter) NeedsCaller() bool { return f.caller }

func (f *textFormatter) Format(r *Record) string {
	var frame runtime.Frame
	if f.caller && r.PC != 0 {
		frame, _ = runtime.CallersFrames([]uintptr{r.PC}).Next()
	}

	var b strings.Builder
	for _, p := range f.parts {
		if p.tok == tokLiteral {
			b.WriteString(p.text)
			continue
		}
		v := f.value(p.tok, r, &frame)
		if p.text == "" {
			b.WriteString(plain(v))
			continue
		}
		fmt.Fprintf(&b, p.text, v)
	}
	if !f.hasFields && len(r.Fields) > 0 {
		b.WriteByte(' ')
		writeFields(&b, r.Fields)
	}
	return b.String()
}

func (f *textFormatter) value(tok token, r *Record, frame *runtime.Frame) any {
	switch tok {
	case tokAsctime:
		return r.Time.Format(f.layout)
	case tokCreated:
		return float64(r.Time.UnixNano()) / float64(time.Second)
	case tokMsecs:
		return r.Time.Nanosecond() / int(time.Millisecond)
	case tokName:
		return r.Name
	case tokLevelName:
		return r.Level.String()
	case tokLevelNo:
		return r.Level.Number()
	case tokMessage:
		return r.Message
	case tokModule:
		base := filepath.Base(frame.File)
		return strings.TrimSuffix(base, filepath.Ext(base))
	case tokFilename:
		return filepath.Base(frame.File)
	case tokPathname:
		return frame.File
	case tokLineno:
		return frame.Line
	case tokFuncName:
		return funcName(frame.Function)
	case tokThreadName:
		return threadName
	case tokProcess:
		return os.Getpid()
	case tokFields:
		var b strings.Builder
		writeFields(&b, r.Fields)
		return b.String()
	}
	return ""
}

// funcName trims the package path and receiver from a runtime function name.
func funcName(full string) string {
	if i := strings.LastIndexByte(full, '/'); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		return full[i+1:]
	}
	return full
}

func plain(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', 3, 64)
	default:
		return fmt.Sprint(x)
	}
}

func writeFields(b *strings.Builder, fields []Field) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(fieldText(f.Value))
	}
}

func fieldText(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case string:
		s = x
	case float32:
		return strconv.FormatFloat(roundFloat(float64(x)), 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(roundFloat(x), 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case error:
		s = x.Error()
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	if s == "" || strings.ContainsAny(s, " =\"\t\n") {
		return strconv.Quote(s)
	}
	return s
}

func roundFloat(val float64) float64 {
	return math.Round(val*floatPrecisionRatio) / floatPrecisionRatio
}

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// jsonFormatter emits one JSON object per record through slog's JSON handler.
type jsonFormatter struct {
	layout string
}

func (f *jsonFormatter) NeedsCaller() bool { return false }

func (f *jsonFormatter) Format(r *Record) string {
	buf, _ := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level:       slog.Level(math.MinInt32),
		ReplaceAttr: f.replace,
	})
	rec := slog.NewRecord(r.Time, r.Level.Slog(), r.Message, 0)
	rec.AddAttrs(slog.String("logger", r.Name))
	for i := range r.Fields {
		rec.AddAttrs(fieldToAttr(r.Fields[i]))
	}
	_ = h.Handle(context.Background(), rec)
	return strings.TrimSuffix(buf.String(), "\n")
}

func (f *jsonFormatter) replace(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		if t, ok := a.Value.Any().(time.Time); ok {
			return slog.String(slog.TimeKey, t.Format(f.layout))
		}
	case slog.LevelKey:
		if l, ok := a.Value.Any().(slog.Level); ok {
			return slog.String(slog.LevelKey, logspec.LevelFromSlog(l).String())
		}
	}
	return a
}

// fieldToAttr converts Field to slog.Attr
func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case uint64:
		return slog.Uint64(f.Key, v)
	case float32:
		return slog.Float64(f.Key, roundFloat(float64(v)))
	case float64:
		return slog.Float64(f.Key, roundFloat(v))
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case fmt.Stringer:
		return slog.String(f.Key, v.String())
	default:
		return slog.Any(f.Key, v)
	}
}
