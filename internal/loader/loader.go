package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/hcikit/hcilog/internal/errors"
)

// Include directive keys. Both accept a path or a list of paths.
const (
	KeyInclude  = "include"
	KeyIncludes = "includes"
)

// DefaultMaxIncludeDepth bounds include nesting.
const DefaultMaxIncludeDepth = 32

// Loader reads documents and expands include directives.
type Loader struct {
	maxDepth int
	readFile func(string) ([]byte, error)
}

// Option configures a Loader
type Option func(*Loader)

// WithMaxDepth sets the maximum include nesting.
func WithMaxDepth(depth int) Option {
	return func(l *Loader) {
		if depth > 0 {
			l.maxDepth = depth
		}
	}
}

// WithReadFile replaces the file reader, mainly for tests.
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(l *Loader) {
		if fn != nil {
			l.readFile = fn
		}
	}
}

// New creates a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		maxDepth: DefaultMaxIncludeDepth,
		readFile: os.ReadFile,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads path and returns its tree with every include spliced in.
func Load(path string) (*Node, error) {
	return New().Load(path)
}

// Load reads path and returns its tree with every include spliced in.
func (l *Loader) Load(path string) (*Node, error) {
	p := &pass{loader: l, loaded: make(map[string]*Node)}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &errors.ConfigParseError{Path: path, Err: err}
	}
	return p.loadFile(abs)
}

// Documents is the result of loading several top-level documents.
type Documents struct {
	Trees []*Node  // one tree per requested path, in order
	Files []string // every file read, includes too, in read order
}

// LoadAll loads several documents in order. Documents loaded in the same
// call share a parse cache, so a file included from many places is read once.
func (l *Loader) LoadAll(paths []string) (*Documents, error) {
	p := &pass{loader: l, loaded: make(map[string]*Node)}
	docs := &Documents{Trees: make([]*Node, 0, len(paths))}
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, &errors.ConfigParseError{Path: path, Err: err}
		}
		tree, err := p.loadFile(abs)
		if err != nil {
			return nil, err
		}
		docs.Trees = append(docs.Trees, tree)
	}
	docs.Files = p.files
	return docs, nil
}

// pass holds the state of one load call.
type pass struct {
	loader *Loader
	stack  []string
	loaded map[string]*Node
	files  []string
}

func (p *pass) loadFile(abs string) (*Node, error) {
	if slices.Contains(p.stack, abs) {
		chain := append(slices.Clone(p.stack), abs)
		return nil, &errors.IncludeCycleError{Chain: chain}
	}
	if tree, ok := p.loaded[abs]; ok {
		return tree, nil
	}
	if len(p.stack) >= p.loader.maxDepth {
		return nil, &errors.ConfigParseError{Path: abs, Msg: fmt.Sprintf("include depth exceeds %d", p.loader.maxDepth)}
	}

	data, err := p.loader.readFile(abs)
	if err != nil {
		return nil, &errors.ConfigParseError{Path: abs, Msg: "cannot read document", Err: err}
	}
	p.files = append(p.files, abs)

	root, err := Decode(abs, data)
	if err != nil {
		return nil, err
	}

	p.stack = append(p.stack, abs)
	expanded, err := p.expand(root, filepath.Dir(abs))
	p.stack = p.stack[:len(p.stack)-1]
	if err != nil {
		return nil, err
	}

	p.loaded[abs] = expanded
	return expanded, nil
}

// expand walks n and replaces every mapping holding an include directive
// with the included trees, sibling keys merged on top.
func (p *pass) expand(n *Node, dir string) (*Node, error) {
	switch n.Kind {
	case SequenceNode:
		out := NewSequence()
		out.Source, out.Line = n.Source, n.Line
		for _, item := range n.Items {
			child, err := p.expand(item, dir)
			if err != nil {
				return nil, err
			}
			out.Items = append(out.Items, child)
		}
		return out, nil

	case MappingNode:
		var targets []string
		for _, key := range []string{KeyInclude, KeyIncludes} {
			v, ok := n.Get(key)
			if !ok {
				continue
			}
			paths, err := v.Strings()
			if err != nil {
				return nil, &errors.ConfigParseError{Path: n.Source, Line: v.Line, Key: key, Err: err}
			}
			targets = append(targets, paths...)
		}

		siblings := NewMapping()
		siblings.Source, siblings.Line = n.Source, n.Line
		for k, v := range n.Entries() {
			if k == KeyInclude || k == KeyIncludes {
				continue
			}
			child, err := p.expand(v, dir)
			if err != nil {
				return nil, err
			}
			siblings.Set(k, child)
		}
		if len(targets) == 0 {
			return siblings, nil
		}

		var merged *Node
		for _, target := range targets {
			if !filepath.IsAbs(target) {
				target = filepath.Join(dir, target)
			}
			included, err := p.loadFile(filepath.Clean(target))
			if err != nil {
				return nil, err
			}
			if merged != nil && !included.IsMapping() {
				return nil, &errors.ConfigParseError{Path: n.Source, Line: n.Line, Msg: "cannot combine non-mapping include " + target}
			}
			merged = Merge(merged, included)
		}

		if siblings.Len() == 0 {
			return merged, nil
		}
		if !merged.IsMapping() {
			return nil, &errors.ConfigParseError{Path: n.Source, Line: n.Line, Msg: "include of a non-mapping document cannot have sibling keys"}
		}
		return Merge(merged, siblings), nil

	default:
		return n, nil
	}
}
