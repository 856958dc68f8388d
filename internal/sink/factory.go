package sink

import (
	"cmp"
	"context"
	"io"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logspec"
)

// Factory creates sinks on demand and shares them by canonical key. The
// first handler to create a key decides its settings; later handlers
// resolving to the same key reuse the live sink unchanged. Reconfigure
// moves a live sink to new settings without reopening it.
type Factory struct {
	mu    sync.Mutex
	sinks map[string]Sink

	observer   Observer
	onError    ErrorHandler
	clock      func() time.Time
	stdout     io.Writer
	stderr     io.Writer
	isTerminal func(io.Writer) bool
	presenter  WindowPresenter
}

// Option configures a Factory.
type Option func(*Factory)

// WithObserver reports sink activity to o.
func WithObserver(o Observer) Option {
	return func(f *Factory) {
		if o != nil {
			f.observer = o
		}
	}
}

// WithErrorHandler receives background write failures.
func WithErrorHandler(h ErrorHandler) Option {
	return func(f *Factory) { f.onError = h }
}

// WithClock replaces time.Now for rotation and rate limiting.
func WithClock(clock func() time.Time) Option {
	return func(f *Factory) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithStreams redirects the console streams.
func WithStreams(stdout, stderr io.Writer) Option {
	return func(f *Factory) {
		f.stdout = stdout
		f.stderr = stderr
	}
}

// WithTerminalCheck replaces the color auto-detection.
func WithTerminalCheck(check func(io.Writer) bool) Option {
	return func(f *Factory) { f.isTerminal = check }
}

// NewFactory creates an empty factory.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		sinks:      make(map[string]Sink),
		observer:   nopObserver{},
		onError:    func(string, error) {},
		clock:      time.Now,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		isTerminal: isTerminal,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

// GetOrCreate returns the live sink for the handler's key, constructing it
// on first use.
func (f *Factory) GetOrCreate(h *logspec.HandlerSpec) (Sink, error) {
	key, err := CanonicalKey(h)
	if err != nil {
		return nil, &errors.HandlerInitError{Handler: h.Name, Key: string(h.Type), Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.sinks[key]; ok {
		return s, nil
	}

	var s Sink
	switch h.Type {
	case logspec.HandlerConsole:
		s = f.newConsole(key, h)
	case logspec.HandlerFile:
		s, err = newFileSink(key, h, f)
	case logspec.HandlerSyslog:
		s, err = newSyslogSink(key, h, f)
	case logspec.HandlerWindow:
		s = newWindowSink(key, h, f)
	}
	if err != nil {
		return nil, &errors.HandlerInitError{Handler: h.Name, Key: key, Err: err}
	}
	f.sinks[key] = s
	return s, nil
}

// Reconfigurer is a sink that can take new handler settings while open.
type Reconfigurer interface {
	Reconfigure(h *logspec.HandlerSpec) error
}

// Reconfigure applies h to the live sink for its key. Sinks that are not
// live or cannot change settings are left alone.
func (f *Factory) Reconfigure(h *logspec.HandlerSpec) error {
	key, err := CanonicalKey(h)
	if err != nil {
		return &errors.HandlerInitError{Handler: h.Name, Key: string(h.Type), Err: err}
	}
	f.mu.Lock()
	s, ok := f.sinks[key]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	r, ok := s.(Reconfigurer)
	if !ok {
		return nil
	}
	return r.Reconfigure(h)
}

func (f *Factory) newConsole(key string, h *logspec.HandlerSpec) Sink {
	w := f.stderr
	if h.Stream == "stdout" {
		w = f.stdout
	}
	colored := false
	switch h.Color {
	case "always":
		colored = true
	case "never":
	default:
		colored = f.isTerminal(w)
	}
	return newConsoleSink(key, w, colored, f.observer)
}

// Get returns the live sink for key.
func (f *Factory) Get(key string) (Sink, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sinks[key]
	return s, ok
}

// Keys returns the live keys in sorted order.
func (f *Factory) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.sinks))
	for key := range f.sinks {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Retain detaches every sink whose key is not in keep and returns them.
// The caller closes the detached sinks once nothing writes to them.
func (f *Factory) Retain(keep map[string]struct{}) []Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	var detached []Sink
	for key, s := range f.sinks {
		if _, ok := keep[key]; ok {
			continue
		}
		detached = append(detached, s)
		delete(f.sinks, key)
	}
	slices.SortFunc(detached, func(a, b Sink) int { return cmp.Compare(a.Key(), b.Key()) })
	return detached
}

// AttachWindow routes window sink batches to p. Passing nil detaches.
func (f *Factory) AttachWindow(p WindowPresenter) {
	f.mu.Lock()
	f.presenter = p
	var windows []*WindowSink
	for _, s := range f.sinks {
		if w, ok := s.(*WindowSink); ok {
			windows = append(windows, w)
		}
	}
	f.mu.Unlock()
	for _, w := range windows {
		w.Attach(p)
	}
}

func (f *Factory) snapshot() []Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sink, 0, len(f.sinks))
	for _, s := range f.sinks {
		out = append(out, s)
	}
	return out
}

// FlushAll drains every live sink in parallel.
func (f *Factory) FlushAll(ctx context.Context) error {
	return Each(ctx, f.snapshot(), Sink.Flush)
}

// CloseAll closes every live sink in parallel and forgets them.
func (f *Factory) CloseAll(ctx context.Context) error {
	f.mu.Lock()
	sinks := make([]Sink, 0, len(f.sinks))
	for _, s := range f.sinks {
		sinks = append(sinks, s)
	}
	f.sinks = make(map[string]Sink)
	f.mu.Unlock()
	return Each(ctx, sinks, Sink.Close)
}

// Each runs op on every sink in parallel and joins the failures.
func Each(ctx context.Context, sinks []Sink, op func(Sink, context.Context) error) error {
	errs := make([]error, len(sinks))
	var g errgroup.Group
	for i, s := range sinks {
		g.Go(func() error {
			errs[i] = op(s, ctx)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Stats returns the counters of every live sink sorted by key.
func (f *Factory) Stats() []Stats {
	sinks := f.snapshot()
	out := make([]Stats, 0, len(sinks))
	for _, s := range sinks {
		out = append(out, s.Stats())
	}
	slices.SortFunc(out, func(a, b Stats) int { return cmp.Compare(a.Key, b.Key) })
	return out
}
