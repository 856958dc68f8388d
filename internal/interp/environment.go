// Package interp resolves ${NAME} and ${NAME:default} references against an
// immutable environment snapshot and a chain of variable scopes.
package interp

import (
	"maps"
	"os"
	"slices"
	"strings"
)

// Environment is an immutable snapshot of process variables, taken once per
// load pass so that a reload never observes a half-changed environment.
// Fallbacks are document-provided values consulted after the process values.
type Environment struct {
	vars      map[string]string
	fallbacks map[string]string
}

// SnapshotEnvironment captures the current process environment.
func SnapshotEnvironment() Environment {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		vars[name] = value
	}
	return Environment{vars: vars}
}

// NewEnvironment builds an environment from an explicit map. The map is copied.
func NewEnvironment(vars map[string]string) Environment {
	return Environment{vars: maps.Clone(vars)}
}

// WithFallbacks returns a copy whose lookups fall back to fb when the process
// value is absent. Existing fallbacks are kept unless fb overrides them.
func (e Environment) WithFallbacks(fb map[string]string) Environment {
	if len(fb) == 0 {
		return e
	}
	merged := maps.Clone(e.fallbacks)
	if merged == nil {
		merged = make(map[string]string, len(fb))
	}
	maps.Copy(merged, fb)
	return Environment{vars: e.vars, fallbacks: merged}
}

// Lookup returns the value for name, process values first.
func (e Environment) Lookup(name string) (string, bool) {
	if v, ok := e.vars[name]; ok {
		return v, true
	}
	v, ok := e.fallbacks[name]
	return v, ok
}

// Names returns every defined name in sorted order.
func (e Environment) Names() []string {
	names := slices.Collect(maps.Keys(e.vars))
	for k := range e.fallbacks {
		if _, ok := e.vars[k]; !ok {
			names = append(names, k)
		}
	}
	slices.Sort(names)
	return names
}
