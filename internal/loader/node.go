// Package loader parses configuration documents into ordered trees and
// splices include directives before any inheritance or interpolation runs.
package loader

import (
	"fmt"
	"iter"
	"strings"
)

// Kind identifies the shape of a Node.
type Kind uint8

const (
	ScalarNode Kind = iota + 1
	SequenceNode
	MappingNode
)

func (k Kind) String() string {
	switch k {
	case ScalarNode:
		return "scalar"
	case SequenceNode:
		return "sequence"
	case MappingNode:
		return "mapping"
	default:
		return "unknown"
	}
}

// Node is one element of a configuration tree. Mapping keys keep their
// declaration order. Nodes are treated as immutable once a load pass returns.
type Node struct {
	Kind   Kind
	Value  string // scalar text
	Null   bool   // explicit null scalar
	Items  []*Node
	keys   []string
	fields map[string]*Node
	Source string // document path
	Line   int    // 1-based, 0 when the decoder has no positions
}

// NewScalar creates a scalar node.
func NewScalar(value string) *Node {
	return &Node{Kind: ScalarNode, Value: value}
}

// NewSequence creates a sequence node.
func NewSequence(items ...*Node) *Node {
	return &Node{Kind: SequenceNode, Items: items}
}

// NewMapping creates an empty mapping node.
func NewMapping() *Node {
	return &Node{Kind: MappingNode, fields: make(map[string]*Node)}
}

// Set adds or replaces key. Replacing keeps the original position.
// Only used while a tree is being built.
func (n *Node) Set(key string, value *Node) {
	if n.fields == nil {
		n.fields = make(map[string]*Node)
	}
	if _, ok := n.fields[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.fields[key] = value
}

// Get returns the child stored under key.
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || n.Kind != MappingNode {
		return nil, false
	}
	v, ok := n.fields[key]
	return v, ok
}

// Keys returns mapping keys in declaration order.
func (n *Node) Keys() []string {
	if n == nil || n.Kind != MappingNode {
		return nil
	}
	return n.keys
}

// Entries iterates a mapping in declaration order.
func (n *Node) Entries() iter.Seq2[string, *Node] {
	return func(yield func(string, *Node) bool) {
		if n == nil || n.Kind != MappingNode {
			return
		}
		for _, k := range n.keys {
			if !yield(k, n.fields[k]) {
				return
			}
		}
	}
}

// Len returns the number of mapping entries or sequence items.
func (n *Node) Len() int {
	switch {
	case n == nil:
		return 0
	case n.Kind == MappingNode:
		return len(n.keys)
	case n.Kind == SequenceNode:
		return len(n.Items)
	default:
		return 0
	}
}

// IsScalar reports whether n is a scalar.
func (n *Node) IsScalar() bool { return n != nil && n.Kind == ScalarNode }

// IsMapping reports whether n is a mapping.
func (n *Node) IsMapping() bool { return n != nil && n.Kind == MappingNode }

// IsSequence reports whether n is a sequence.
func (n *Node) IsSequence() bool { return n != nil && n.Kind == SequenceNode }

// Strings returns a scalar as a one-element list, or the scalar items of a
// sequence. Non-scalar items are reported as an error.
func (n *Node) Strings() ([]string, error) {
	switch {
	case n == nil:
		return nil, nil
	case n.Kind == ScalarNode:
		if n.Null {
			return nil, nil
		}
		return []string{n.Value}, nil
	case n.Kind == SequenceNode:
		out := make([]string, 0, len(n.Items))
		for _, item := range n.Items {
			if !item.IsScalar() {
				return nil, fmt.Errorf("%s: expected scalar list item, got %s", n.Position(), item.Kind)
			}
			out = append(out, item.Value)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected scalar or list, got mapping", n.Position())
	}
}

// Position formats the node origin as path:line.
func (n *Node) Position() string {
	if n == nil || n.Source == "" {
		return "<input>"
	}
	if n.Line > 0 {
		return fmt.Sprintf("%s:%d", n.Source, n.Line)
	}
	return n.Source
}

// Without returns a shallow copy of a mapping minus the given keys.
func (n *Node) Without(keys ...string) *Node {
	out := &Node{Kind: MappingNode, fields: make(map[string]*Node, len(n.keys)), Source: n.Source, Line: n.Line}
	for k, v := range n.Entries() {
		skip := false
		for _, drop := range keys {
			if k == drop {
				skip = true
				break
			}
		}
		if !skip {
			out.Set(k, v)
		}
	}
	return out
}

// Merge deep-merges over onto base and returns a new tree. Mappings merge
// key by key with over winning; any other combination is replaced by over.
// Neither input is modified.
func Merge(base, over *Node) *Node {
	switch {
	case base == nil:
		return over
	case over == nil:
		return base
	case base.Kind != MappingNode || over.Kind != MappingNode:
		return over
	}

	out := &Node{Kind: MappingNode, fields: make(map[string]*Node, len(base.keys)+len(over.keys)), Source: over.Source, Line: over.Line}
	for k, v := range base.Entries() {
		out.Set(k, v)
	}
	for k, v := range over.Entries() {
		if existing, ok := out.fields[k]; ok {
			out.Set(k, Merge(existing, v))
			continue
		}
		out.Set(k, v)
	}
	return out
}

// String renders a compact debug form.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b)
	return b.String()
}

func (n *Node) write(b *strings.Builder) {
	switch {
	case n == nil:
		b.WriteString("<nil>")
	case n.Kind == ScalarNode:
		if n.Null {
			b.WriteString("null")
			return
		}
		fmt.Fprintf(b, "%q", n.Value)
	case n.Kind == SequenceNode:
		b.WriteByte('[')
		for i, item := range n.Items {
			if i > 0 {
				b.WriteString(", ")
			}
			item.write(b)
		}
		b.WriteByte(']')
	default:
		b.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString(": ")
			n.fields[k].write(b)
		}
		b.WriteByte('}')
	}
}
