package logger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hcikit/hcilog/internal/logspec"
)

type filter struct {
	kind    logspec.FilterKind
	action  logspec.FilterAction
	pattern string
	re      *regexp.Regexp
}

// compileFilters keeps the enabled filters of a chain in order.
func compileFilters(specs []logspec.FilterSpec) ([]filter, error) {
	var out []filter
	for i, fs := range specs {
		if !fs.Enabled {
			continue
		}
		f := filter{kind: fs.Kind, action: fs.Action, pattern: fs.Pattern}
		if fs.Kind == logspec.FilterRegex {
			re, err := regexp.Compile(fs.Pattern)
			if err != nil {
				return nil, fmt.Errorf("filter %d: %w", i, err)
			}
			f.re = re
		}
		out = append(out, f)
	}
	return out, nil
}

func (f *filter) matches(name, msg string) bool {
	if f.kind == logspec.FilterRegex {
		return f.re.MatchString(msg)
	}
	return name == f.pattern || strings.HasPrefix(name, f.pattern+".")
}

// accept runs the chain: an exclude match drops, an include miss drops and
// an include match accepts without looking further.
func accept(filters []filter, name, msg string) bool {
	for i := range filters {
		f := &filters[i]
		m := f.matches(name, msg)
		switch {
		case f.action == logspec.ActionExclude && m:
			return false
		case f.action == logspec.ActionInclude && !m:
			return false
		case f.action == logspec.ActionInclude:
			return true
		}
	}
	return true
}
