package logspec

import (
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/interp"
	"github.com/hcikit/hcilog/internal/loader"
)

// Builtin defaults applied beneath every document.
const (
	DefaultLoggerName     = "default"
	DefaultFormat         = "%(asctime)s - %(name)s - %(levelname)s - %(message)s"
	DefaultDateFormat     = "2006-01-02 15:04:05,000"
	DefaultMaxFileSize    = 10 * 1024 * 1024
	DefaultMaxFiles       = 5
	DefaultBufferSize     = 1000
	DefaultFlushInterval  = time.Second
	DefaultEnqueueTimeout = 100 * time.Millisecond
	DefaultRateLimit      = 100
	DefaultSyslogTag      = "hcilog"
	DefaultSyslogFacility = "user"
)

// DefaultGlobal returns the builtin global section.
func DefaultGlobal() Global {
	return Global{
		BaseDir:            ".",
		LogDir:             "logs",
		MaxFileSize:        DefaultMaxFileSize,
		MaxFiles:           DefaultMaxFiles,
		RootLevel:          LevelInfo,
		DateFormat:         DefaultDateFormat,
		AdditionalHandlers: MergeAdditive,
	}
}

var topLevelKeys = []string{"global", "default_logger", "loggers", "handlers", "variables", "vars"}

var (
	envDefKey = regexp.MustCompile(`^\$ENV\{([A-Za-z0-9_.-]+)\}$`)
	varDefKey = regexp.MustCompile(`^\$VAR\{([A-Za-z0-9_.-]+)\}$`)
)

// Resolver turns loaded trees into a ResolvedConfig.
type Resolver struct {
	Env      interp.Environment
	Defaults Global
}

// NewResolver creates a resolver with the builtin defaults.
func NewResolver(env interp.Environment) *Resolver {
	return &Resolver{Env: env, Defaults: DefaultGlobal()}
}

// Resolve resolves trees with the builtin defaults.
func Resolve(trees []*loader.Node, env interp.Environment) (*ResolvedConfig, error) {
	return NewResolver(env).Resolve(trees)
}

// Resolve merges the documents in order, builds the inheritance graph,
// layers every logger and decodes the typed result.
func (r *Resolver) Resolve(trees []*loader.Node) (*ResolvedConfig, error) {
	p := &pass{defaults: fillDefaults(r.Defaults), seen: make(map[string]struct{})}
	return p.run(trees, r.Env)
}

func fillDefaults(g Global) Global {
	d := DefaultGlobal()
	if g.BaseDir == "" {
		g.BaseDir = d.BaseDir
	}
	if g.LogDir == "" {
		g.LogDir = d.LogDir
	}
	if g.MaxFileSize == 0 {
		g.MaxFileSize = d.MaxFileSize
	}
	if g.MaxFiles == 0 {
		g.MaxFiles = d.MaxFiles
	}
	if g.DateFormat == "" {
		g.DateFormat = d.DateFormat
	}
	if g.AdditionalHandlers == "" {
		g.AdditionalHandlers = d.AdditionalHandlers
	}
	return g
}

// pass holds the state of one Resolve call.
type pass struct {
	defaults Global
	in       *interp.Interpolator
	global   *interp.Scope
	cfg      Global
	lc       *layerContext

	warnings []string
	seen     map[string]struct{}
}

func (p *pass) warn(msg string) {
	if _, dup := p.seen[msg]; dup {
		return
	}
	p.seen[msg] = struct{}{}
	p.warnings = append(p.warnings, msg)
}

func (p *pass) run(trees []*loader.Node, env interp.Environment) (*ResolvedConfig, error) {
	root := loader.NewMapping()
	for _, tree := range trees {
		if tree == nil {
			continue
		}
		if !tree.IsMapping() {
			return nil, &errors.ConfigParseError{Path: tree.Source, Line: tree.Line, Msg: "document root must be a mapping"}
		}
		root = loader.Merge(root, tree)
	}

	envDefs := make(map[string]string)
	vars := make(map[string]string)
	for key, v := range root.Entries() {
		switch {
		case slices.Contains(topLevelKeys, key):
		case envDefKey.MatchString(key):
			if !v.IsScalar() {
				return nil, &errors.ConfigParseError{Path: v.Source, Line: v.Line, Key: key, Msg: "expected a scalar"}
			}
			envDefs[envDefKey.FindStringSubmatch(key)[1]] = v.Value
		case varDefKey.MatchString(key):
			if !v.IsScalar() {
				return nil, &errors.ConfigParseError{Path: v.Source, Line: v.Line, Key: key, Msg: "expected a scalar"}
			}
			vars[varDefKey.FindStringSubmatch(key)[1]] = v.Value
		default:
			p.warn(fmt.Sprintf("%s: unknown top-level key %q", v.Position(), key))
		}
	}
	for _, key := range []string{"variables", "vars"} {
		if err := mergeStrings(root, key, "", func(k string, n *loader.Node) { vars[k] = n.Value }); err != nil {
			return nil, err
		}
	}

	globalNode, _ := root.Get("global")
	if globalNode != nil && !globalNode.IsMapping() && !globalNode.Null {
		return nil, &errors.ConfigParseError{Path: globalNode.Source, Line: globalNode.Line, Key: "global", Msg: "expected a mapping"}
	}
	userVars := make(map[string]string, len(vars))
	for k, v := range vars {
		userVars[k] = v
	}
	for _, key := range []string{"variables", "vars"} {
		if err := mergeStrings(globalNode, key, "global", func(k string, n *loader.Node) {
			vars[k] = n.Value
			userVars[k] = n.Value
		}); err != nil {
			return nil, err
		}
	}
	for key, v := range globalNode.Entries() {
		if v.IsScalar() && !v.Null {
			vars[key] = v.Value
			vars["global."+key] = v.Value
		}
	}

	p.in = interp.New(env.WithFallbacks(envDefs))
	p.global = interp.NewScope(nil, "global", vars)

	cfg, err := p.decodeGlobal(globalNode, userVars)
	if err != nil {
		return nil, err
	}
	p.cfg = cfg

	templates, err := p.templates(root)
	if err != nil {
		return nil, err
	}
	p.lc = &layerContext{templates: templates.nodes, mode: cfg.AdditionalHandlers, warn: p.warn}

	defaultNode, _ := root.Get("default_logger")
	base := func() (*stack, error) {
		st := newStack()
		if err := st.apply(defaultNode, "default_logger", p.lc); err != nil {
			return nil, err
		}
		// a document with only top-level handlers routes the default logger through all of them
		if len(st.handlers) == 0 && len(templates.order) > 0 {
			names := loader.NewSequence()
			for _, name := range templates.order {
				names.Items = append(names.Items, loader.NewScalar(name))
			}
			if err := st.mergeHandlers(names, "handlers", p.lc, false); err != nil {
				return nil, err
			}
		}
		return st, nil
	}

	out := &ResolvedConfig{Global: cfg, Loggers: make(map[string]*LoggerSpec)}

	st, err := base()
	if err != nil {
		return nil, err
	}
	out.Default, err = p.decodeLogger(DefaultLoggerName, "default_logger", st, nil)
	if err != nil {
		return nil, err
	}

	loggers, _ := root.Get("loggers")
	if loggers != nil && !loggers.IsMapping() && !loggers.Null {
		return nil, &errors.ConfigParseError{Path: loggers.Source, Line: loggers.Line, Key: "loggers", Msg: "expected a mapping"}
	}
	graph, err := buildGraph(loggers)
	if err != nil {
		return nil, err
	}
	topo, err := graph.topoOrder()
	if err != nil {
		return nil, err
	}
	chains := graph.linearize(topo)

	for _, key := range topo {
		st, err := base()
		if err != nil {
			return nil, err
		}
		for _, layer := range chains[key] {
			body, _ := loggers.Get(layer)
			if err := st.apply(body, "loggers."+layer, p.lc); err != nil {
				return nil, err
			}
		}
		spec, err := p.decodeLogger(key, "loggers."+key, st, chains[key])
		if err != nil {
			return nil, err
		}
		out.Loggers[key] = spec
	}

	out.Order = graph.order
	out.Warnings = p.warnings
	return out, nil
}

type templateSet struct {
	order []string
	nodes map[string]*loader.Node
}

func (p *pass) templates(root *loader.Node) (*templateSet, error) {
	ts := &templateSet{nodes: make(map[string]*loader.Node)}
	v, ok := root.Get("handlers")
	if !ok || v.Null {
		return ts, nil
	}
	if !v.IsMapping() {
		return nil, &errors.ConfigParseError{Path: v.Source, Line: v.Line, Key: "handlers", Msg: "expected a mapping of handler templates"}
	}
	for name, body := range v.Entries() {
		if body.Null {
			body = loader.NewMapping()
		}
		if !body.IsMapping() {
			return nil, &errors.ConfigParseError{Path: body.Source, Line: body.Line, Key: "handlers." + name, Msg: "expected a mapping"}
		}
		p.checkHandlerKeys(body)
		ts.order = append(ts.order, name)
		ts.nodes[name] = body
	}
	return ts, nil
}
