package logger

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/loader"
	"github.com/hcikit/hcilog/internal/logspec"
	"github.com/hcikit/hcilog/internal/matcher"
	"github.com/hcikit/hcilog/internal/sink"
)

// ErrClosed is returned by Reload after Shutdown.
var ErrClosed = errors.NewStd("logging manager is shut down")

// Metrics receives engine counters. The Prometheus collector in
// internal/observability/metrics implements it.
type Metrics interface {
	sink.Observer
	ObserveDispatch(level logspec.Level)
	ObserveReload(ok bool, elapsed time.Duration)
	ObserveFallback(category errors.ErrorCategory)
}

type nopMetrics struct{}

func (nopMetrics) ObserveWrite(string, logspec.HandlerType, int, int) {}
func (nopMetrics) ObserveRotation(string)                             {}
func (nopMetrics) ObserveError(string, logspec.HandlerType)           {}
func (nopMetrics) ObserveBackpressure(string)                         {}
func (nopMetrics) ObserveSuppressed(string, int)                      {}
func (nopMetrics) ObserveDispatch(logspec.Level)                      {}
func (nopMetrics) ObserveReload(bool, time.Duration)                  {}
func (nopMetrics) ObserveFallback(errors.ErrorCategory)               {}

// Option configures a Manager.
type Option func(*options)

type options struct {
	fallback *Fallback
	metrics  Metrics
	clock    func() time.Time
	sinkOpts []sink.Option
	readFile func(string) ([]byte, error)
}

// WithFallback replaces the default stderr fallback channel.
func WithFallback(f *Fallback) Option {
	return func(o *options) { o.fallback = f }
}

// WithMetrics reports dispatch, reload and sink activity to r.
func WithMetrics(r Metrics) Option {
	return func(o *options) { o.metrics = r }
}

// WithClock replaces time.Now for timestamps, rotation and rate limiting.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithSinkOptions passes options through to the sink factory.
func WithSinkOptions(opts ...sink.Option) Option {
	return func(o *options) { o.sinkOpts = append(o.sinkOpts, opts...) }
}

// WithReadFile replaces os.ReadFile for document loading.
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(o *options) { o.readFile = fn }
}

// Manager owns the live configuration snapshot, the sinks and the reload
// machinery. Collaborators get Logger handles from it.
type Manager struct {
	cfg      Config
	loader   *loader.Loader
	factory  *sink.Factory
	fallback *Fallback
	metrics  Metrics
	clock    func() time.Time
	watcher  *Watcher

	snap     atomic.Pointer[snapshot]
	reloadMu sync.Mutex
	retiring sync.WaitGroup

	ovMu        sync.RWMutex
	overrides   map[string]logspec.EnableState
	overrideGen atomic.Uint64

	handles sync.Map // name -> *handle

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	dispatched     atomic.Uint64
	dispatchErrors atomic.Uint64
	backpressure   atomic.Uint64
	reloads        atomic.Uint64
	reloadFailures atomic.Uint64
}

// NewManager loads cfg.Paths, opens the sinks and starts the reload
// watcher. A load failure is returned and nothing is left running.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		cfg:       cfg.withDefaults(),
		fallback:  o.fallback,
		metrics:   o.metrics,
		clock:     o.clock,
		overrides: make(map[string]logspec.EnableState),
	}
	if m.fallback == nil {
		m.fallback = NewFallback()
	}
	if m.metrics == nil {
		m.metrics = nopMetrics{}
	}
	if m.clock == nil {
		m.clock = time.Now
	}

	loaderOpts := []loader.Option{loader.WithMaxDepth(m.cfg.MaxIncludeDepth)}
	if o.readFile != nil {
		loaderOpts = append(loaderOpts, loader.WithReadFile(o.readFile))
	}
	m.loader = loader.New(loaderOpts...)

	sinkOpts := []sink.Option{
		sink.WithObserver(m.metrics),
		sink.WithErrorHandler(m.sinkError),
		sink.WithClock(m.clock),
	}
	m.factory = sink.NewFactory(append(sinkOpts, o.sinkOpts...)...)

	snap, err := m.prepare()
	if err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
		defer cancel()
		_ = m.factory.CloseAll(ctx)
		return nil, err
	}
	m.snap.Store(snap)

	if m.cfg.ReloadInterval >= 0 || m.cfg.WatchFiles {
		w, err := NewWatcher(m.Reload, m.cfg.WatchFiles, m.cfg.WatchDebounce, m.report)
		if err != nil {
			m.report(errors.New(err).Category(errors.CategoryReload).Build())
		} else {
			m.watcher = w
			w.Start(snap.files, m.reloadInterval(snap))
		}
	}
	return m, nil
}

// prepare loads, resolves and compiles a new snapshot without publishing it.
func (m *Manager) prepare() (*snapshot, error) {
	cfg, files, err := resolve(m.loader, m.cfg)
	if err != nil {
		return nil, err
	}
	return m.compile(cfg, files)
}

func (m *Manager) reloadInterval(snap *snapshot) time.Duration {
	switch {
	case m.cfg.ReloadInterval > 0:
		return m.cfg.ReloadInterval
	case m.cfg.ReloadInterval < 0:
		return 0
	default:
		return snap.cfg.Global.ReloadInterval
	}
}

// acquire returns the current snapshot with its in-flight count raised,
// or nil once the manager is shut down. The count is raised before the
// pointer is checked again, so a retiring snapshot never reads as idle
// while a call that saw it is still running.
func (m *Manager) acquire() *snapshot {
	for {
		s := m.snap.Load()
		s.inflight.Add(1)
		if m.closed.Load() {
			s.release()
			return nil
		}
		if m.snap.Load() == s {
			return s
		}
		s.release()
	}
}

// GetLogger returns the handle for name. The same name always yields the
// same handle; its binding follows reloads and overrides.
func (m *Manager) GetLogger(name string) Logger {
	if h, ok := m.handles.Load(name); ok {
		return h.(*handle)
	}
	h, _ := m.handles.LoadOrStore(name, &handle{m: m, name: name, slot: new(atomic.Pointer[binding])})
	return h.(*handle)
}

// Reload re-reads the documents and publishes the result atomically. On
// failure the previous configuration stays live and the error is also
// sent to the fallback channel.
func (m *Manager) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	if m.closed.Load() {
		return ErrClosed
	}
	// sinks detached by the previous reload must be closed before a key
	// can be reopened
	m.retiring.Wait()

	start := m.clock()
	next, err := m.prepare()
	if err != nil {
		m.reloadFailures.Add(1)
		m.metrics.ObserveReload(false, m.clock().Sub(start))
		if current := m.snap.Load(); current != nil {
			// close sinks the failed build opened
			m.retire(nil, m.factory.Retain(current.keys))
		}
		rerr := errors.New(err).
			Category(errors.CategoryReload).
			Context("paths", m.cfg.Paths).
			Timing("reload", m.clock().Sub(start)).
			Build()
		m.report(rerr)
		return rerr
	}

	old := m.snap.Swap(next)
	m.reloads.Add(1)
	m.metrics.ObserveReload(true, m.clock().Sub(start))
	// shared sinks stay open but take the new handler settings
	for _, h := range next.owners {
		m.report(m.factory.Reconfigure(h))
	}
	m.retire(old, m.factory.Retain(next.keys))
	if m.watcher != nil {
		m.watcher.Update(next.files, m.reloadInterval(next))
	}
	return nil
}

// retire closes detached sinks once no call is dispatching on old.
// Callers hold reloadMu.
func (m *Manager) retire(old *snapshot, detached []sink.Sink) {
	if old == nil && len(detached) == 0 {
		return
	}
	m.retiring.Add(1)
	go func() {
		defer m.retiring.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
		defer cancel()
		if old != nil {
			m.report(old.drain(ctx))
		}
		if len(detached) > 0 {
			m.report(sink.Each(ctx, detached, sink.Sink.Close))
		}
	}()
}

// FlushAll drains every live sink.
func (m *Manager) FlushAll(ctx context.Context) error {
	return m.factory.FlushAll(ctx)
}

// Shutdown stops the watcher, waits for in-flight calls and closes every
// sink in parallel. Without a deadline on ctx, Config.ShutdownTimeout
// applies. Lines lost to the deadline are reported in the returned error.
// Calls made after Shutdown are no-ops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
			defer cancel()
		}
		if m.watcher != nil {
			m.watcher.Stop()
		}

		m.reloadMu.Lock()
		m.closed.Store(true)
		m.reloadMu.Unlock()
		m.retiring.Wait()

		var errs []error
		if snap := m.snap.Load(); snap != nil {
			if err := snap.drain(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := m.factory.CloseAll(ctx); err != nil {
			errs = append(errs, err)
			m.report(err)
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

// EnableModule forces name and its dotted descendants on, whatever their
// spec says. The nearest override wins.
func (m *Manager) EnableModule(name string) { m.setOverride(name, logspec.StateEnabled) }

// DisableModule silences name and its dotted descendants.
func (m *Manager) DisableModule(name string) { m.setOverride(name, logspec.StateDisabled) }

// ResetModule removes the override of name.
func (m *Manager) ResetModule(name string) { m.setOverride(name, logspec.StateInherited) }

func (m *Manager) setOverride(name string, state logspec.EnableState) {
	m.ovMu.Lock()
	if state == logspec.StateInherited {
		delete(m.overrides, name)
	} else {
		m.overrides[name] = state
	}
	m.ovMu.Unlock()
	m.overrideGen.Add(1)
}

func (m *Manager) overrideFor(name string) logspec.EnableState {
	m.ovMu.RLock()
	defer m.ovMu.RUnlock()
	if len(m.overrides) == 0 {
		return logspec.StateInherited
	}
	if s, ok := m.overrides[name]; ok {
		return s
	}
	for parent := range matcher.Parents(name) {
		if s, ok := m.overrides[parent]; ok {
			return s
		}
	}
	return logspec.StateInherited
}

// AttachWindow routes window sink output to p. Nil detaches.
func (m *Manager) AttachWindow(p sink.WindowPresenter) {
	m.factory.AttachWindow(p)
}

// Config returns the live resolved configuration.
func (m *Manager) Config() *logspec.ResolvedConfig {
	return m.snap.Load().cfg
}

// Generation identifies the live snapshot; it changes on every
// successful reload.
func (m *Manager) Generation() string {
	return m.snap.Load().id
}

// Files lists every document the live configuration was read from.
func (m *Manager) Files() []string {
	return slices.Clone(m.snap.Load().files)
}

// InitErrors lists handlers of the live configuration that could not be
// opened. Their loggers run without them.
func (m *Manager) InitErrors() []error {
	return slices.Clone(m.snap.Load().initErrs)
}

// Sink returns the live sink for a canonical key.
func (m *Manager) Sink(key string) (sink.Sink, bool) {
	return m.factory.Get(key)
}

// Stats is a point-in-time view of the engine counters.
type Stats struct {
	Generation     string            `json:"generation"`
	LoadedAt       time.Time         `json:"loaded_at"`
	Loggers        int               `json:"loggers"`
	Dispatched     uint64            `json:"dispatched"`
	DispatchErrors uint64            `json:"dispatch_errors"`
	Backpressure   uint64            `json:"backpressure"`
	Reloads        uint64            `json:"reloads"`
	ReloadFailures uint64            `json:"reload_failures"`
	Overrides      map[string]string `json:"overrides,omitempty"`
	Sinks          []sink.Stats      `json:"sinks"`
	Fallback       FallbackStats     `json:"fallback"`
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	snap := m.snap.Load()
	s := Stats{
		Generation:     snap.id,
		LoadedAt:       snap.loadedAt,
		Loggers:        len(snap.cfg.Order),
		Dispatched:     m.dispatched.Load(),
		DispatchErrors: m.dispatchErrors.Load(),
		Backpressure:   m.backpressure.Load(),
		Reloads:        m.reloads.Load(),
		ReloadFailures: m.reloadFailures.Load(),
		Sinks:          m.factory.Stats(),
		Fallback:       m.fallback.Stats(),
	}
	m.ovMu.RLock()
	if len(m.overrides) > 0 {
		s.Overrides = make(map[string]string, len(m.overrides))
		for name, state := range m.overrides {
			s.Overrides[name] = state.String()
		}
	}
	m.ovMu.RUnlock()
	return s
}

// report sends err to the fallback channel. Nil is ignored.
func (m *Manager) report(err error) {
	if err == nil {
		return
	}
	m.metrics.ObserveFallback(m.fallback.Report(err))
}

func (m *Manager) sinkError(key string, err error) {
	m.report(errors.New(err).
		Category(errors.CategoryFileIO).
		Context("sink", key).
		Build())
}
