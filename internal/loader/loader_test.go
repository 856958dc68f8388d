package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcikit/hcilog/internal/errors"
)

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func scalar(t *testing.T, n *Node, keys ...string) string {
	t.Helper()
	cur := n
	for _, k := range keys {
		next, ok := cur.Get(k)
		require.Truef(t, ok, "missing key %s in %s", k, cur)
		cur = next
	}
	require.True(t, cur.IsScalar())
	return cur.Value
}

func TestLoadPreservesKeyOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeDoc(t, dir, "main.yaml", `
loggers:
  zeta: {level: INFO}
  alpha: {level: DEBUG}
  mid: {level: ERROR}
`)
	tree, err := Load(path)
	require.NoError(t, err)

	loggers, ok := tree.Get("loggers")
	require.True(t, ok)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, loggers.Keys())
	assert.Equal(t, path, loggers.Source)
	assert.Equal(t, 3, loggers.Line)
}

func TestLoadIncludeSplicesRelativeDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDoc(t, dir, "conf/hci.yaml", `
level: DEBUG
format: "%(message)s"
handlers:
  file:
    filename: hci.log
`)
	path := writeDoc(t, dir, "main.yaml", `
loggers:
  bluetooth.hci:
    include: conf/hci.yaml
    level: WARNING
`)
	tree, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "WARNING", scalar(t, tree, "loggers", "bluetooth.hci", "level"), "siblings win over included keys")
	assert.Equal(t, "%(message)s", scalar(t, tree, "loggers", "bluetooth.hci", "format"))
	assert.Equal(t, "hci.log", scalar(t, tree, "loggers", "bluetooth.hci", "handlers", "file", "filename"))

	hci, _ := tree.Get("loggers")
	hci, _ = hci.Get("bluetooth.hci")
	_, hasInclude := hci.Get(KeyInclude)
	assert.False(t, hasInclude)
}

func TestLoadIncludeListMergesInOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDoc(t, dir, "a.yaml", "level: DEBUG\nformat: a\n")
	writeDoc(t, dir, "b.yaml", "format: b\npropagate: true\n")
	path := writeDoc(t, dir, "main.yaml", "includes: [a.yaml, b.yaml]\n")

	tree, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", scalar(t, tree, "level"))
	assert.Equal(t, "b", scalar(t, tree, "format"))
	assert.Equal(t, "true", scalar(t, tree, "propagate"))
}

func TestLoadNestedIncludeResolvesAgainstIncludingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDoc(t, dir, "sub/leaf.yaml", "value: leaf\n")
	writeDoc(t, dir, "sub/mid.yaml", "include: leaf.yaml\n")
	path := writeDoc(t, dir, "main.yaml", "node:\n  include: sub/mid.yaml\n")

	tree, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "leaf", scalar(t, tree, "node", "value"))
}

func TestLoadDiamondIncludeIsAllowed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDoc(t, dir, "shared.yaml", "level: INFO\n")
	writeDoc(t, dir, "left.yaml", "include: shared.yaml\nside: left\n")
	writeDoc(t, dir, "right.yaml", "include: shared.yaml\nother: right\n")
	path := writeDoc(t, dir, "main.yaml", "a:\n  include: left.yaml\nb:\n  include: right.yaml\n")

	docs, err := New().LoadAll([]string{path})
	require.NoError(t, err)
	require.Len(t, docs.Trees, 1)
	assert.Equal(t, "INFO", scalar(t, docs.Trees[0], "a", "level"))
	assert.Equal(t, "INFO", scalar(t, docs.Trees[0], "b", "level"))
	assert.Len(t, docs.Files, 4, "shared document is read once")
}

func TestLoadIncludeCycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeDoc(t, dir, "a.yaml", "include: b.yaml\n")
	b := writeDoc(t, dir, "b.yaml", "x:\n  include: a.yaml\n")

	_, err := Load(a)
	var cycle *errors.IncludeCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{a, b, a}, cycle.Chain)
	assert.True(t, errors.IsCategory(err, errors.CategoryIncludeCycle))
}

func TestLoadSelfInclude(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeDoc(t, dir, "self.yaml", "include: self.yaml\n")

	_, err := Load(a)
	var cycle *errors.IncludeCycleError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{a, a}, cycle.Chain)
}

func TestLoadMaxDepth(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeDoc(t, dir, "d2.yaml", "v: 2\n")
	writeDoc(t, dir, "d1.yaml", "include: d2.yaml\n")
	path := writeDoc(t, dir, "d0.yaml", "include: d1.yaml\n")

	_, err := New(WithMaxDepth(2)).Load(path)
	var parseErr *errors.ConfigParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Msg, "include depth")

	_, err = New(WithMaxDepth(3)).Load(path)
	require.NoError(t, err)
}

func TestLoadMissingInclude(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeDoc(t, dir, "main.yaml", "include: missing.yaml\n")

	_, err := Load(path)
	var parseErr *errors.ConfigParseError
	require.ErrorAs(t, err, &parseErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadTOMLSortsKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeDoc(t, dir, "main.toml", `
[global]
root_level = "INFO"
log_dir = "logs"

[loggers.zeta]
level = "DEBUG"

[loggers.alpha]
level = "ERROR"
`)
	tree, err := Load(path)
	require.NoError(t, err)

	loggers, ok := tree.Get("loggers")
	require.True(t, ok)
	assert.Equal(t, []string{"alpha", "zeta"}, loggers.Keys())
	assert.Equal(t, "logs", scalar(t, tree, "global", "log_dir"))
}

func TestLoadTOMLParseError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeDoc(t, dir, "bad.toml", "[global]\nlevel = \n")

	_, err := Load(path)
	var parseErr *errors.ConfigParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, path, parseErr.Path)
	assert.Equal(t, 2, parseErr.Line)
}

func TestDecodeYAMLMergeKeys(t *testing.T) {
	t.Parallel()

	tree, err := Decode("doc.yaml", []byte(`
base: &base
  level: INFO
  format: base
extra: &extra
  format: extra
  propagate: true
child:
  <<: [*base, *extra]
  level: DEBUG
`))
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", scalar(t, tree, "child", "level"))
	assert.Equal(t, "base", scalar(t, tree, "child", "format"))
	assert.Equal(t, "true", scalar(t, tree, "child", "propagate"))
}

func TestDecodeYAMLDuplicateKey(t *testing.T) {
	t.Parallel()

	_, err := Decode("doc.yaml", []byte("a: 1\nb: 2\na: 3\n"))
	var parseErr *errors.ConfigParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "a", parseErr.Key)
}

func TestDecodeYAMLSyntaxErrorLine(t *testing.T) {
	t.Parallel()

	_, err := Decode("doc.yaml", []byte("a: 1\nb: [unclosed\nc: 2\n"))
	var parseErr *errors.ConfigParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "doc.yaml", parseErr.Path)
	assert.Positive(t, parseErr.Line)
}

func TestDecodeEmptyDocument(t *testing.T) {
	t.Parallel()

	tree, err := Decode("empty.yaml", nil)
	require.NoError(t, err)
	assert.True(t, tree.IsMapping())
	assert.Zero(t, tree.Len())
}

func TestDecodeNull(t *testing.T) {
	t.Parallel()

	tree, err := Decode("doc.yaml", []byte("a: ~\nb: null\nc: \"null\"\n"))
	require.NoError(t, err)

	a, _ := tree.Get("a")
	b, _ := tree.Get("b")
	c, _ := tree.Get("c")
	assert.True(t, a.Null)
	assert.True(t, b.Null)
	assert.False(t, c.Null)
	assert.Equal(t, "null", c.Value)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	base := NewMapping()
	inner := NewMapping()
	inner.Set("x", NewScalar("1"))
	base.Set("inner", inner)
	base.Set("keep", NewScalar("k"))

	over := NewMapping()
	overInner := NewMapping()
	overInner.Set("y", NewScalar("2"))
	over.Set("inner", overInner)

	merged := Merge(base, over)
	assert.Equal(t, "1", scalar(t, merged, "inner", "x"))
	assert.Equal(t, "2", scalar(t, merged, "inner", "y"))
	assert.Equal(t, "k", scalar(t, merged, "keep"))

	_, hasY := inner.Get("y")
	assert.False(t, hasY)
	assert.Equal(t, []string{"inner", "keep"}, merged.Keys())
}

func TestNodeStrings(t *testing.T) {
	t.Parallel()

	s, err := NewScalar("one").Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, s)

	s, err = NewSequence(NewScalar("a"), NewScalar("b")).Strings()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, s)

	_, err = NewMapping().Strings()
	require.Error(t, err)
}
