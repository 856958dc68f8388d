package logger

import (
	"context"
	"runtime"
	"slices"
	"sync/atomic"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logspec"
	"github.com/hcikit/hcilog/internal/sink"
)

// handle implements Logger for one module name.
type handle struct {
	m      *Manager
	name   string
	fields []Field
	// shared by every handle derived with With, since they bind alike
	slot *atomic.Pointer[binding]
}

func (h *handle) Name() string { return h.name }

func (h *handle) Module(sub string) Logger {
	name := sub
	if h.name != "" {
		name = h.name + "." + sub
	}
	child := h.m.GetLogger(name)
	if len(h.fields) == 0 {
		return child
	}
	return child.With(h.fields...)
}

func (h *handle) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return h
	}
	return &handle{m: h.m, name: h.name, fields: slices.Concat(h.fields, fields), slot: h.slot}
}

func (h *handle) WithContext(ctx context.Context) Logger {
	traceID := traceIDFromContext(ctx)
	if traceID == "" {
		return h
	}
	return h.With(String(traceIDKey, traceID))
}

func (h *handle) Enabled(level logspec.Level) bool {
	snap := h.m.acquire()
	if snap == nil {
		return false
	}
	defer snap.release()
	b := h.m.bind(h.name, h.slot, snap)
	return b.enabled && b.pipe.spec.Level.Enabled(level)
}

func (h *handle) Trace(msg string, fields ...Field)    { _ = h.log(logspec.LevelTrace, msg, fields) }
func (h *handle) Debug(msg string, fields ...Field)    { _ = h.log(logspec.LevelDebug, msg, fields) }
func (h *handle) Info(msg string, fields ...Field)     { _ = h.log(logspec.LevelInfo, msg, fields) }
func (h *handle) Warn(msg string, fields ...Field)     { _ = h.log(logspec.LevelWarning, msg, fields) }
func (h *handle) Error(msg string, fields ...Field)    { _ = h.log(logspec.LevelError, msg, fields) }
func (h *handle) Critical(msg string, fields ...Field) { _ = h.log(logspec.LevelCritical, msg, fields) }

func (h *handle) Log(level logspec.Level, msg string, fields ...Field) error {
	return h.log(level, msg, fields)
}

// log must be called directly from the exported methods; the call site
// lookup skips exactly those frames.
func (h *handle) log(level logspec.Level, msg string, fields []Field) error {
	m := h.m
	snap := m.acquire()
	if snap == nil {
		return nil
	}
	defer snap.release()

	b := m.bind(h.name, h.slot, snap)
	if !b.enabled || !b.pipe.spec.Level.Enabled(level) {
		return nil
	}
	if !accept(b.pipe.filters, h.name, msg) {
		return nil
	}

	r := Record{Time: m.clock(), Level: level, Name: h.name, Message: msg}
	if snap.caller {
		var pcs [1]uintptr
		if runtime.Callers(3, pcs[:]) > 0 {
			r.PC = pcs[0]
		}
	}
	switch {
	case len(b.pipe.fields) == 0 && len(h.fields) == 0:
		r.Fields = fields
	default:
		r.Fields = slices.Concat(b.pipe.fields, h.fields, fields)
	}

	m.dispatched.Add(1)
	m.metrics.ObserveDispatch(level)
	return m.dispatch(b, &r)
}

type renderedLine struct {
	format Formatter
	redact bool
	line   string
}

// dispatch writes r to the bound spec's handlers and, while propagation
// allows, to the handlers of its ancestors. No sink is written twice.
func (m *Manager) dispatch(b *binding, r *Record) error {
	var (
		keyBuf  [8]string
		lineBuf [4]renderedLine
		written = keyBuf[:0]
		lines   = lineBuf[:0]
		errs    []error
	)

	emit := func(p *pipeline) {
		for i := range p.routes {
			rt := &p.routes[i]
			if !rt.handler.Permits(r.Level) {
				continue
			}
			key := rt.sink.Key()
			if slices.Contains(written, key) {
				continue
			}
			written = append(written, key)

			var line string
			line, lines = render(lines, rt, r)
			if err := m.write(p.spec, rt, r, line); err != nil {
				errs = append(errs, err)
			}
		}
	}

	emit(b.pipe)
	current := b.pipe.spec
	for _, ap := range b.ancestors {
		if !current.Propagate {
			break
		}
		if ap.spec.Enabled() {
			emit(ap)
		}
		current = ap.spec
	}
	return errors.Join(errs...)
}

func render(cache []renderedLine, rt *route, r *Record) (string, []renderedLine) {
	for _, c := range cache {
		if c.format == rt.format && c.redact == rt.handler.Redact {
			return c.line, cache
		}
	}
	var line string
	if rt.handler.Redact {
		red := *r
		red.Message = RedactSensitiveData(r.Message)
		red.Fields = RedactSensitiveFields(r.Fields)
		line = RedactSensitiveData(rt.format.Format(&red))
	} else {
		line = rt.format.Format(r)
	}
	return line, append(cache, renderedLine{format: rt.format, redact: rt.handler.Redact, line: line})
}

// write hands one line to a sink. Back-pressure is returned; any other
// failure goes to the fallback channel.
func (m *Manager) write(spec *logspec.LoggerSpec, rt *route, r *Record, line string) error {
	msg := r.Message
	if rt.handler.Redact {
		msg = RedactSensitiveData(msg)
	}
	err := rt.sink.Write(context.Background(), &sink.Entry{
		Time:    r.Time,
		Level:   r.Level,
		Logger:  r.Name,
		Message: msg,
		Line:    line,
	})
	if err == nil {
		return nil
	}

	var bp *errors.SinkBackpressureError
	if errors.As(err, &bp) {
		m.backpressure.Add(1)
		return err
	}
	m.dispatchErrors.Add(1)
	m.report(&errors.RuntimeDispatchError{Logger: spec.Name, Handler: rt.handler.Name, Key: rt.sink.Key(), Err: err})
	return nil
}
