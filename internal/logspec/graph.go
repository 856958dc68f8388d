package logspec

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/loader"
)

// Keys naming the parents of a logger. All four are equivalent.
var inheritKeys = []string{"inherits", "extends", "base", "inherits_from"}

// inheritGraph is the directed parent graph over declared logger keys.
type inheritGraph struct {
	order   []string            // declaration order
	parents map[string][]string // key -> parents in declared order
}

func buildGraph(loggers *loader.Node) (*inheritGraph, error) {
	g := &inheritGraph{parents: make(map[string][]string)}
	for key := range loggers.Entries() {
		g.order = append(g.order, key)
	}

	for key, body := range loggers.Entries() {
		for _, ik := range inheritKeys {
			v, ok := body.Get(ik)
			if !ok {
				continue
			}
			parents, err := v.Strings()
			if err != nil {
				return nil, &errors.ConfigParseError{Path: v.Source, Line: v.Line, Key: "loggers." + key + "." + ik, Err: err}
			}
			for _, parent := range parents {
				if _, declared := loggers.Get(parent); !declared {
					msg := fmt.Sprintf("unknown parent logger %q", parent)
					if isDocumentPath(parent) {
						msg += "; load other documents with include"
					}
					return nil, &errors.ConfigParseError{Path: v.Source, Line: v.Line, Key: "loggers." + key + "." + ik, Msg: msg}
				}
				if !slices.Contains(g.parents[key], parent) {
					g.parents[key] = append(g.parents[key], parent)
				}
			}
		}
	}
	return g, nil
}

func isDocumentPath(s string) bool {
	switch strings.ToLower(filepath.Ext(s)) {
	case ".yml", ".yaml", ".json", ".toml":
		return true
	}
	return false
}

// topoOrder returns every key with parents before children. Roots are
// visited in declaration order so the result is stable.
func (g *inheritGraph) topoOrder() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(g.order))
	out := make([]string, 0, len(g.order))
	var stack []string

	var visit func(key string) error
	visit = func(key string) error {
		switch state[key] {
		case done:
			return nil
		case visiting:
			start := slices.Index(stack, key)
			cycle := append(slices.Clone(stack[start:]), key)
			return &errors.InheritanceCycleError{Cycle: cycle}
		}
		state[key] = visiting
		stack = append(stack, key)
		for _, parent := range g.parents[key] {
			if err := visit(parent); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[key] = done
		out = append(out, key)
		return nil
	}

	for _, key := range g.order {
		if err := visit(key); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// linearize computes, for every key, its ancestors root to leaf followed by
// the key itself. Each ancestor appears once; when two parents share an
// ancestor it is placed at its first occurrence. Later parents are closer
// than earlier ones.
func (g *inheritGraph) linearize(topo []string) map[string][]string {
	lin := make(map[string][]string, len(topo))
	for _, key := range topo {
		var chain []string
		for _, parent := range g.parents[key] {
			for _, anc := range lin[parent] {
				if !slices.Contains(chain, anc) {
					chain = append(chain, anc)
				}
			}
		}
		lin[key] = append(chain, key)
	}
	return lin
}
