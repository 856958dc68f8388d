package loader

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/hcikit/hcilog/internal/errors"
)

// Decode parses data according to the extension of path.
func Decode(path string, data []byte) (*Node, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return decodeTOML(path, data)
	default:
		// JSON is accepted by the YAML decoder
		return decodeYAML(path, data)
	}
}

func decodeYAML(path string, data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &errors.ConfigParseError{Path: path, Line: yamlErrorLine(err), Err: err}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		out := NewMapping()
		out.Source = path
		return out, nil
	}
	return convertYAML(path, doc.Content[0], 0)
}

const maxAliasDepth = 64

func convertYAML(path string, y *yaml.Node, depth int) (*Node, error) {
	if depth > maxAliasDepth {
		return nil, &errors.ConfigParseError{Path: path, Line: y.Line, Msg: "alias nesting too deep"}
	}

	switch y.Kind {
	case yaml.AliasNode:
		return convertYAML(path, y.Alias, depth+1)

	case yaml.ScalarNode:
		n := NewScalar(y.Value)
		n.Null = y.Tag == "!!null"
		if n.Null {
			n.Value = ""
		}
		n.Source, n.Line = path, y.Line
		return n, nil

	case yaml.SequenceNode:
		n := NewSequence()
		n.Source, n.Line = path, y.Line
		for _, item := range y.Content {
			child, err := convertYAML(path, item, depth)
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, child)
		}
		return n, nil

	case yaml.MappingNode:
		n := NewMapping()
		n.Source, n.Line = path, y.Line
		var merges []*Node
		for i := 0; i+1 < len(y.Content); i += 2 {
			key, value := y.Content[i], y.Content[i+1]
			child, err := convertYAML(path, value, depth)
			if err != nil {
				return nil, err
			}
			if key.ShortTag() == "!!merge" {
				switch {
				case child.IsMapping():
					merges = append(merges, child)
				case child.IsSequence():
					merges = append(merges, child.Items...)
				}
				continue
			}
			if _, dup := n.Get(key.Value); dup {
				return nil, &errors.ConfigParseError{Path: path, Line: key.Line, Key: key.Value, Msg: "duplicate key"}
			}
			n.Set(key.Value, child)
		}
		// explicit keys win over merged ones, earlier merge sources over later
		for _, m := range merges {
			n = Merge(m, n)
		}
		return n, nil

	default:
		return nil, &errors.ConfigParseError{Path: path, Line: y.Line, Msg: fmt.Sprintf("unsupported YAML node kind %d", y.Kind)}
	}
}

func yamlErrorLine(err error) int {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return 0
	}
	// yaml.v3 syntax errors read "yaml: line N: ..."
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "yaml: line "); ok {
		if end := strings.IndexByte(rest, ':'); end > 0 {
			if n, convErr := strconv.Atoi(rest[:end]); convErr == nil {
				return n
			}
		}
	}
	return 0
}

func decodeTOML(path string, data []byte) (*Node, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, _ := decodeErr.Position()
			return nil, &errors.ConfigParseError{Path: path, Line: row, Err: err}
		}
		return nil, &errors.ConfigParseError{Path: path, Err: err}
	}
	return convertValue(path, raw), nil
}

// convertValue maps decoded TOML values onto nodes. TOML tables are
// unordered, so mapping keys are sorted to keep loading deterministic.
func convertValue(path string, v any) *Node {
	var n *Node
	switch val := v.(type) {
	case map[string]any:
		n = NewMapping()
		for _, k := range slices.Sorted(maps.Keys(val)) {
			n.Set(k, convertValue(path, val[k]))
		}
	case []any:
		n = NewSequence()
		for _, item := range val {
			n.Items = append(n.Items, convertValue(path, item))
		}
	case []map[string]any:
		n = NewSequence()
		for _, item := range val {
			n.Items = append(n.Items, convertValue(path, item))
		}
	case nil:
		n = NewScalar("")
		n.Null = true
	case string:
		n = NewScalar(val)
	case bool:
		n = NewScalar(strconv.FormatBool(val))
	case int64:
		n = NewScalar(strconv.FormatInt(val, 10))
	case float64:
		n = NewScalar(strconv.FormatFloat(val, 'f', -1, 64))
	case time.Time:
		n = NewScalar(val.Format(time.RFC3339Nano))
	default:
		n = NewScalar(fmt.Sprint(val))
	}
	n.Source = path
	return n
}
