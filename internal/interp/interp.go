package interp

import (
	"strings"
	"sync"

	"github.com/hcikit/hcilog/internal/errors"
)

// VariableRef is one ${name} or ${name:default} occurrence.
type VariableRef struct {
	Name       string
	Default    string
	HasDefault bool
}

// Scope is a named set of raw variable definitions. Values may reference
// other variables; they are resolved on first use and memoized.
type Scope struct {
	parent   *Scope
	name     string
	raw      map[string]string
	mu       sync.Mutex
	resolved map[string]string
}

// NewScope creates a scope whose lookups fall through to parent.
func NewScope(parent *Scope, name string, vars map[string]string) *Scope {
	raw := make(map[string]string, len(vars))
	for k, v := range vars {
		raw[k] = v
	}
	return &Scope{parent: parent, name: name, raw: raw, resolved: make(map[string]string)}
}

// Name returns the scope label used in error chains.
func (s *Scope) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Has reports whether name is defined in this scope or an ancestor.
func (s *Scope) Has(name string) bool {
	for sc := s; sc != nil; sc = sc.parent {
		if _, ok := sc.raw[name]; ok {
			return true
		}
	}
	return false
}

func (s *Scope) memo(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.resolved[name]
	return v, ok
}

func (s *Scope) store(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved[name] = value
}

// Interpolator resolves references against one environment snapshot.
type Interpolator struct {
	env Environment
}

// New creates an interpolator bound to env.
func New(env Environment) *Interpolator {
	return &Interpolator{env: env}
}

// Environment returns the snapshot the interpolator reads.
func (in *Interpolator) Environment() Environment {
	return in.env
}

// Resolve replaces every reference in raw. Resolution order per reference:
// environment, then a variable visible from scope, then the literal default.
// On error nothing is returned, so callers never see partial output.
func (in *Interpolator) Resolve(raw string, scope *Scope) (string, error) {
	if !strings.Contains(raw, "$") {
		return raw, nil
	}
	st := &resolution{in: in, input: raw}
	return st.expand(raw, scope)
}

type frame struct {
	scope *Scope
	name  string
}

// resolution carries the in-progress stack of one Resolve call chain.
type resolution struct {
	in    *Interpolator
	input string
	stack []frame
}

func (r *resolution) expand(s string, scope *Scope) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '$' || i+1 >= len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}
		if strings.HasPrefix(s[i:], "$${") {
			b.WriteString("${")
			i += 3
			continue
		}
		if s[i+1] != '{' {
			b.WriteByte(s[i])
			i++
			continue
		}

		ref, end, err := parseRef(s, i)
		if err != nil {
			return "", err
		}
		value, err := r.lookup(ref, scope)
		if err != nil {
			return "", err
		}
		b.WriteString(value)
		i = end
	}
	return b.String(), nil
}

func (r *resolution) lookup(ref VariableRef, scope *Scope) (string, error) {
	if v, ok := r.in.env.Lookup(ref.Name); ok {
		return v, nil
	}

	for sc := scope; sc != nil; sc = sc.parent {
		raw, ok := sc.raw[ref.Name]
		if !ok {
			continue
		}
		if v, ok := sc.memo(ref.Name); ok {
			return v, nil
		}
		if r.active(sc, ref.Name) {
			return "", &errors.CyclicReferenceError{Chain: r.chain(ref.Name)}
		}
		r.stack = append(r.stack, frame{scope: sc, name: ref.Name})
		// definitions only see their own scope and its ancestors
		v, err := r.expand(raw, sc)
		r.stack = r.stack[:len(r.stack)-1]
		if err != nil {
			return "", err
		}
		sc.store(ref.Name, v)
		return v, nil
	}

	if ref.HasDefault {
		return r.expand(ref.Default, scope)
	}

	return "", &errors.UnresolvedVariableError{Name: ref.Name, Input: r.input}
}

func (r *resolution) active(sc *Scope, name string) bool {
	for _, f := range r.stack {
		if f.scope == sc && f.name == name {
			return true
		}
	}
	return false
}

func (r *resolution) chain(last string) []string {
	out := make([]string, 0, len(r.stack)+1)
	start := 0
	for i, f := range r.stack {
		if f.name == last {
			start = i
			break
		}
	}
	for _, f := range r.stack[start:] {
		out = append(out, f.name)
	}
	return append(out, last)
}

// parseRef parses the reference starting at s[start] ("${"). It returns the
// reference and the index just past its closing brace.
func parseRef(s string, start int) (VariableRef, int, error) {
	depth := 0
	colon := -1
	for i := start + 2; i < len(s); i++ {
		switch {
		case s[i] == '$' && i+1 < len(s) && s[i+1] == '{':
			depth++
			i++
		case s[i] == '}':
			if depth == 0 {
				body := s[start+2 : i]
				ref := VariableRef{Name: body}
				if colon >= 0 {
					ref.Name = body[:colon-start-2]
					ref.Default = body[colon-start-1:]
					ref.HasDefault = true
				}
				if !validName(ref.Name) {
					return VariableRef{}, 0, &errors.ConfigParseError{Msg: "invalid variable name in " + s[start:i+1]}
				}
				return ref, i + 1, nil
			}
			depth--
		case s[i] == ':' && depth == 0 && colon < 0:
			colon = i
		}
	}
	return VariableRef{}, 0, &errors.ConfigParseError{Msg: "unterminated ${ in " + s}
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '.', c == '-':
		default:
			return false
		}
	}
	return true
}

// Parse lists the references in s without resolving them.
func Parse(s string) ([]VariableRef, error) {
	var refs []VariableRef
	for i := 0; i < len(s); i++ {
		if strings.HasPrefix(s[i:], "$${") {
			i += 2
			continue
		}
		if strings.HasPrefix(s[i:], "${") {
			ref, end, err := parseRef(s, i)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
			i = end - 1
		}
	}
	return refs, nil
}
