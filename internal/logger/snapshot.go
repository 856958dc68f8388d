package logger

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logspec"
	"github.com/hcikit/hcilog/internal/matcher"
	"github.com/hcikit/hcilog/internal/sink"
)

// route is one enabled handler of a spec bound to its live sink.
type route struct {
	handler *logspec.HandlerSpec
	sink    sink.Sink
	format  Formatter
}

// pipeline is the compiled form of one logger spec.
type pipeline struct {
	spec    *logspec.LoggerSpec
	routes  []route
	filters []filter
	fields  []Field // additional_fields, sorted by key
}

// snapshot is everything a dispatch needs, published as one unit.
type snapshot struct {
	id       string
	loadedAt time.Time
	cfg      *logspec.ResolvedConfig
	matcher  *matcher.Matcher
	files    []string

	pipelines map[*logspec.LoggerSpec]*pipeline
	keys      map[string]struct{}
	owners    []*logspec.HandlerSpec // first handler per sink key
	caller    bool
	initErrs  []error

	inflight atomic.Int64
}

func (s *snapshot) release() { s.inflight.Add(-1) }

// drain waits until no call is dispatching on s.
func (s *snapshot) drain(ctx context.Context) error {
	if s.inflight.Load() <= 0 {
		return nil
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for s.inflight.Load() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return errors.New(fmt.Errorf("snapshot %s: %d calls still dispatching: %w", s.id, s.inflight.Load(), ctx.Err())).
				Category(errors.CategoryShutdown).
				Build()
		}
	}
	return nil
}

func specPath(cfg *logspec.ResolvedConfig, spec *logspec.LoggerSpec) string {
	if spec == cfg.Default {
		return "default_logger"
	}
	return "loggers." + spec.Name
}

// compile builds the pipelines of cfg. Sinks come from the factory, so a
// key already live is shared rather than reopened. A handler whose sink
// cannot be created is reported and left out of that spec only.
func (m *Manager) compile(cfg *logspec.ResolvedConfig, files []string) (*snapshot, error) {
	mt, err := matcher.New(cfg)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{
		id:        uuid.NewString(),
		loadedAt:  m.clock(),
		cfg:       cfg,
		matcher:   mt,
		files:     files,
		pipelines: make(map[*logspec.LoggerSpec]*pipeline, len(cfg.Order)+1),
		keys:      make(map[string]struct{}),
	}

	type formatKey struct{ format, layout string }
	formatters := make(map[formatKey]Formatter)

	for _, spec := range cfg.Specs() {
		path := specPath(cfg, spec)
		filters, err := compileFilters(spec.Filters)
		if err != nil {
			return nil, &errors.ConfigParseError{Key: path + ".filters", Msg: "invalid filter", Err: err}
		}
		p := &pipeline{spec: spec, filters: filters}
		for _, k := range slices.Sorted(maps.Keys(spec.Fields)) {
			p.fields = append(p.fields, String(k, spec.Fields[k]))
		}

		for i := range spec.Handlers {
			h := &spec.Handlers[i]
			if !h.Enabled {
				continue
			}
			fk := formatKey{format: h.Format, layout: spec.DateFormat}
			if fk.format == "" {
				fk.format = spec.Format
			}
			f, ok := formatters[fk]
			if !ok {
				f, err = NewFormatter(fk.format, fk.layout)
				if err != nil {
					return nil, &errors.ConfigParseError{Key: path + ".handlers." + h.Name + ".format", Msg: "invalid format", Err: err}
				}
				formatters[fk] = f
			}

			s, err := m.factory.GetOrCreate(h)
			if err != nil {
				snap.initErrs = append(snap.initErrs, err)
				m.report(err)
				continue
			}
			if _, ok := snap.keys[s.Key()]; !ok {
				snap.owners = append(snap.owners, h)
			}
			snap.keys[s.Key()] = struct{}{}
			snap.caller = snap.caller || f.NeedsCaller()
			p.routes = append(p.routes, route{handler: h, sink: s, format: f})
		}
		snap.pipelines[spec] = p
	}
	return snap, nil
}

// binding caches what a handle resolved to under one snapshot and one
// generation of runtime overrides.
type binding struct {
	snap      *snapshot
	overrides uint64
	pipe      *pipeline
	ancestors []*pipeline
	enabled   bool
}

func (m *Manager) bind(name string, slot *atomic.Pointer[binding], snap *snapshot) *binding {
	gen := m.overrideGen.Load()
	if b := slot.Load(); b != nil && b.snap == snap && b.overrides == gen {
		return b
	}

	res := snap.matcher.Resolve(name)
	b := &binding{snap: snap, overrides: gen, pipe: snap.pipelines[res.Spec]}
	for _, spec := range res.Ancestors {
		b.ancestors = append(b.ancestors, snap.pipelines[spec])
	}
	switch m.overrideFor(name) {
	case logspec.StateEnabled:
		b.enabled = true
	case logspec.StateDisabled:
		b.enabled = false
	default:
		b.enabled = res.Spec.Enabled()
	}
	slot.Store(b)
	return b
}
