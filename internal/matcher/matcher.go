// Package matcher maps module names onto resolved logger specs using
// exact, glob and dotted-hierarchy matching.
package matcher

import (
	"iter"
	"path"
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logspec"
)

// maxMemo bounds the number of memoized names before the memo is reset.
const maxMemo = 16384

type glob struct {
	pattern string
	spec    *logspec.LoggerSpec
}

// Result is the outcome of matching one module name.
type Result struct {
	Spec *logspec.LoggerSpec
	Key  string // matched logger key, empty for the default spec
	// Ancestors are the distinct specs bound to the name's dotted
	// ancestors, nearest first, ending with the default spec.
	Ancestors []*logspec.LoggerSpec
}

// Matcher is compiled once per resolved config and safe for concurrent use.
type Matcher struct {
	cfg   *logspec.ResolvedConfig
	exact map[string]*logspec.LoggerSpec
	globs []glob
	memo  *cache.Cache
}

// IsPattern reports whether a logger key holds glob characters.
func IsPattern(key string) bool {
	return strings.ContainsAny(key, "*?[")
}

// New compiles cfg. Malformed glob keys are rejected here so lookups never fail.
func New(cfg *logspec.ResolvedConfig) (*Matcher, error) {
	m := &Matcher{
		cfg:   cfg,
		exact: make(map[string]*logspec.LoggerSpec, len(cfg.Order)),
		// no expiry and no janitor goroutine; the memo lives as long as the config
		memo: cache.New(cache.NoExpiration, 0),
	}
	for _, key := range cfg.Order {
		spec := cfg.Loggers[key]
		if !IsPattern(key) {
			m.exact[key] = spec
			continue
		}
		if _, err := path.Match(key, ""); err != nil {
			return nil, &errors.ConfigParseError{Key: "loggers." + key, Msg: "invalid logger pattern", Err: err}
		}
		m.globs = append(m.globs, glob{pattern: key, spec: spec})
	}
	return m, nil
}

// Config returns the config the matcher was compiled from.
func (m *Matcher) Config() *logspec.ResolvedConfig { return m.cfg }

// Match returns the spec for name: an exact key, then the first glob in
// declaration order, then the nearest dotted ancestor, then the default.
func (m *Matcher) Match(name string) *logspec.LoggerSpec {
	return m.Resolve(name).Spec
}

// Ancestors lists the specs a propagating event reaches above name.
func (m *Matcher) Ancestors(name string) []*logspec.LoggerSpec {
	return m.Resolve(name).Ancestors
}

// Resolve returns the memoized match for name.
func (m *Matcher) Resolve(name string) *Result {
	if v, ok := m.memo.Get(name); ok {
		return v.(*Result)
	}
	r := m.compute(name)
	if m.memo.ItemCount() >= maxMemo {
		m.memo.Flush()
	}
	m.memo.SetDefault(name, r)
	return r
}

func (m *Matcher) compute(name string) *Result {
	r := &Result{Spec: m.cfg.Default}
	found := false
	if spec, key, ok := m.lookup(name); ok {
		r.Spec, r.Key, found = spec, key, true
	}

	seen := make(map[*logspec.LoggerSpec]bool)
	if found {
		seen[r.Spec] = true
	}
	for parent := range Parents(name) {
		spec, key, ok := m.lookup(parent)
		if !ok {
			continue
		}
		if !found {
			r.Spec, r.Key, found = spec, key, true
			seen[spec] = true
			continue
		}
		if !seen[spec] {
			seen[spec] = true
			r.Ancestors = append(r.Ancestors, spec)
		}
	}
	if r.Spec != m.cfg.Default && !seen[m.cfg.Default] {
		r.Ancestors = append(r.Ancestors, m.cfg.Default)
	}
	return r
}

func (m *Matcher) lookup(name string) (*logspec.LoggerSpec, string, bool) {
	if spec, ok := m.exact[name]; ok {
		return spec, name, true
	}
	for _, g := range m.globs {
		if ok, _ := path.Match(g.pattern, name); ok {
			return g.spec, g.pattern, true
		}
	}
	return nil, "", false
}

// Parents yields the dotted ancestors of name, nearest first:
// "a.b.c" yields "a.b" then "a".
func Parents(name string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := strings.LastIndexByte(name, '.'); i > 0; i = strings.LastIndexByte(name[:i], '.') {
			if !yield(name[:i]) {
				return
			}
		}
	}
}

// Match resolves name against cfg without building a reusable matcher.
func Match(name string, cfg *logspec.ResolvedConfig) (*logspec.LoggerSpec, error) {
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return m.compute(name).Spec, nil
}
