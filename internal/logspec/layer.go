package logspec

import (
	"fmt"
	"slices"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/loader"
)

// Scalar logger keys. Later layers replace earlier values.
var loggerScalarKeys = []string{"level", "enabled", "propagate", "format", "date_format"}

var loggerStructKeys = []string{
	"handlers", "additional_handlers", "filters", "clear_filters",
	"variables", "vars", "additional_fields", "fields",
}

// stack accumulates logger layers before interpolation. Values are raw
// nodes; nothing is decoded until every layer has been applied.
type stack struct {
	scalars      map[string]*loader.Node
	handlerOrder []string
	handlers     map[string]*loader.Node
	filters      []*loader.Node
	vars         map[string]string
	fields       map[string]*loader.Node
}

func newStack() *stack {
	return &stack{
		scalars:  make(map[string]*loader.Node),
		handlers: make(map[string]*loader.Node),
		vars:     make(map[string]string),
		fields:   make(map[string]*loader.Node),
	}
}

// layerContext is what applying one layer needs from the resolve pass.
type layerContext struct {
	templates map[string]*loader.Node
	mode      MergeMode
	warn      func(string)
}

// apply merges one explicit layer on top of the stack. path names the
// layer in error messages ("loggers.hci", "default_logger").
func (s *stack) apply(body *loader.Node, path string, lc *layerContext) error {
	if body == nil || (body.IsScalar() && body.Null) {
		return nil
	}
	if !body.IsMapping() {
		return &errors.ConfigParseError{Path: body.Source, Line: body.Line, Key: path, Msg: "expected a mapping, got " + body.Kind.String()}
	}

	for key, v := range body.Entries() {
		switch {
		case slices.Contains(loggerScalarKeys, key):
			if !v.IsScalar() {
				return &errors.ConfigParseError{Path: v.Source, Line: v.Line, Key: path + "." + key, Msg: "expected a scalar"}
			}
			s.scalars[key] = v
		case slices.Contains(loggerStructKeys, key), slices.Contains(inheritKeys, key):
		default:
			lc.warn(fmt.Sprintf("%s: %s: unknown key %q", v.Position(), path, key))
		}
	}

	if v, ok := body.Get("clear_filters"); ok {
		if !v.IsScalar() {
			return &errors.ConfigParseError{Path: v.Source, Line: v.Line, Key: path + ".clear_filters", Msg: "expected a boolean"}
		}
		reset, err := ParseBool(v.Value)
		if err != nil {
			return &errors.ConfigParseError{Path: v.Source, Line: v.Line, Key: path + ".clear_filters", Msg: "expected a boolean"}
		}
		if reset {
			s.filters = nil
		}
	}
	if v, ok := body.Get("filters"); ok && !v.Null {
		switch {
		case v.IsSequence():
			s.filters = append(s.filters, v.Items...)
		case v.IsMapping():
			s.filters = append(s.filters, v)
		default:
			return &errors.ConfigParseError{Path: v.Source, Line: v.Line, Key: path + ".filters", Msg: "expected a list of filters"}
		}
	}

	for _, key := range []string{"variables", "vars"} {
		if err := mergeStrings(body, key, path, func(k string, n *loader.Node) { s.vars[k] = n.Value }); err != nil {
			return err
		}
	}
	for _, key := range []string{"additional_fields", "fields"} {
		if err := mergeStrings(body, key, path, func(k string, n *loader.Node) { s.fields[k] = n }); err != nil {
			return err
		}
	}

	if v, ok := body.Get("handlers"); ok {
		if err := s.mergeHandlers(v, path+".handlers", lc, false); err != nil {
			return err
		}
	}
	if v, ok := body.Get("additional_handlers"); ok {
		if err := s.mergeHandlers(v, path+".additional_handlers", lc, lc.mode == MergeAdditive); err != nil {
			return err
		}
	}
	return nil
}

func mergeStrings(body *loader.Node, key, path string, set func(string, *loader.Node)) error {
	v, ok := body.Get(key)
	if !ok || v.Null {
		return nil
	}
	if !v.IsMapping() {
		return &errors.ConfigParseError{Path: v.Source, Line: v.Line, Key: path + "." + key, Msg: "expected a mapping"}
	}
	for k, item := range v.Entries() {
		if !item.IsScalar() {
			return &errors.ConfigParseError{Path: item.Source, Line: item.Line, Key: path + "." + key + "." + k, Msg: "expected a scalar"}
		}
		set(k, item)
	}
	return nil
}

// mergeHandlers applies a handlers value: a mapping of name to sub-fields
// (or to a bare boolean toggle), a list of template names, or one name.
// With exclusive set, names already present in the stack are rejected.
func (s *stack) mergeHandlers(v *loader.Node, path string, lc *layerContext, exclusive bool) error {
	if v.Null {
		return nil
	}

	type entry struct {
		name  string
		value *loader.Node
	}
	var entries []entry
	switch {
	case v.IsMapping():
		for name, hv := range v.Entries() {
			entries = append(entries, entry{name, hv})
		}
	default:
		names, err := v.Strings()
		if err != nil {
			return &errors.ConfigParseError{Path: v.Source, Line: v.Line, Key: path, Err: err}
		}
		for _, name := range names {
			entries = append(entries, entry{name, loader.NewScalar("true")})
		}
	}

	for _, e := range entries {
		if exclusive {
			if _, exists := s.handlers[e.name]; exists {
				return &errors.ConfigParseError{
					Path: v.Source, Line: v.Line, Key: path + "." + e.name,
					Msg: "handler already defined in the inheritance chain; set global.additional_handlers: override to replace it",
				}
			}
		}
		if err := s.mergeHandler(e.name, e.value, path, lc); err != nil {
			return err
		}
	}
	return nil
}

func (s *stack) mergeHandler(name string, value *loader.Node, path string, lc *layerContext) error {
	current, exists := s.handlers[name]
	if !exists {
		// templates sit beneath the first logger-level mention
		current = lc.templates[name]
		s.handlerOrder = append(s.handlerOrder, name)
	}

	switch {
	case value == nil || value.Null:
		if current == nil {
			current = loader.NewMapping()
			if value != nil {
				current.Source, current.Line = value.Source, value.Line
			}
		}
	case value.IsScalar():
		toggle := loader.NewMapping()
		toggle.Source, toggle.Line = value.Source, value.Line
		toggle.Set("enabled", value)
		current = loader.Merge(current, toggle)
	case value.IsMapping():
		current = loader.Merge(current, value)
	default:
		return &errors.ConfigParseError{Path: value.Source, Line: value.Line, Key: path + "." + name, Msg: "expected a mapping or boolean"}
	}
	s.handlers[name] = current
	return nil
}
