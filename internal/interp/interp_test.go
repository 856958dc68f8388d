package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcikit/hcilog/internal/errors"
)

func TestResolveDefaultFallsBackWhenUnset(t *testing.T) {
	t.Parallel()

	in := New(NewEnvironment(nil))
	got, err := in.Resolve("${LOG_DIR:./logs}", nil)
	require.NoError(t, err)
	assert.Equal(t, "./logs", got)
}

func TestResolveEnvironmentWins(t *testing.T) {
	t.Parallel()

	in := New(NewEnvironment(map[string]string{"LOG_DIR": "/var/log/hci"}))
	scope := NewScope(nil, "global", map[string]string{"LOG_DIR": "/ignored"})

	got, err := in.Resolve("${LOG_DIR:./logs}/hci.log", scope)
	require.NoError(t, err)
	assert.Equal(t, "/var/log/hci/hci.log", got)
}

func TestResolveChainedScopeVariables(t *testing.T) {
	t.Parallel()

	in := New(NewEnvironment(map[string]string{"BASE_DIR": "/opt/hci"}))
	global := NewScope(nil, "global", map[string]string{
		"LOG_DIR":  "${BASE_DIR}/logs",
		"base_dir": "/srv",
		"log_dir":  "${base_dir}/logs",
	})

	got, err := in.Resolve("${LOG_DIR}/foo", global)
	require.NoError(t, err)
	assert.Equal(t, "/opt/hci/logs/foo", got)

	got, err = in.Resolve("${log_dir}/bar.log", global)
	require.NoError(t, err)
	assert.Equal(t, "/srv/logs/bar.log", got)
}

func TestResolveLoggerScopeShadowsGlobal(t *testing.T) {
	t.Parallel()

	in := New(NewEnvironment(nil))
	global := NewScope(nil, "global", map[string]string{"name": "global", "dir": "/logs"})
	local := NewScope(global, "loggers.hci", map[string]string{"name": "hci"})

	got, err := in.Resolve("${dir}/${name}.log", local)
	require.NoError(t, err)
	assert.Equal(t, "/logs/hci.log", got)

	got, err = in.Resolve("${dir}/${name}.log", global)
	require.NoError(t, err)
	assert.Equal(t, "/logs/global.log", got)
}

func TestResolveNestedDefault(t *testing.T) {
	t.Parallel()

	in := New(NewEnvironment(map[string]string{"FALLBACK": "fb"}))
	got, err := in.Resolve("${PRIMARY:${FALLBACK:none}}-${EMPTY:}", nil)
	require.NoError(t, err)
	assert.Equal(t, "fb-", got)
}

func TestResolveEscape(t *testing.T) {
	t.Parallel()

	in := New(NewEnvironment(nil))
	got, err := in.Resolve("cost $5 and $${literal}", nil)
	require.NoError(t, err)
	assert.Equal(t, "cost $5 and ${literal}", got)
}

func TestResolveUnresolved(t *testing.T) {
	t.Parallel()

	in := New(NewEnvironment(nil))
	got, err := in.Resolve("prefix-${MISSING}", nil)
	assert.Empty(t, got)

	var unresolved *errors.UnresolvedVariableError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, "MISSING", unresolved.Name)
}

func TestResolveCycle(t *testing.T) {
	t.Parallel()

	in := New(NewEnvironment(nil))
	scope := NewScope(nil, "global", map[string]string{
		"A": "${B}/a",
		"B": "${C}/b",
		"C": "${A}/c",
	})

	_, err := in.Resolve("${A}", scope)
	var cyclic *errors.CyclicReferenceError
	require.ErrorAs(t, err, &cyclic)
	assert.Equal(t, []string{"A", "B", "C", "A"}, cyclic.Chain)
}

func TestResolveUnterminated(t *testing.T) {
	t.Parallel()

	in := New(NewEnvironment(nil))
	_, err := in.Resolve("${OPEN", nil)
	var parseErr *errors.ConfigParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestEnvironmentFallbacks(t *testing.T) {
	t.Parallel()

	env := NewEnvironment(map[string]string{"A": "process"}).
		WithFallbacks(map[string]string{"A": "doc", "B": "doc"})

	v, ok := env.Lookup("A")
	assert.True(t, ok)
	assert.Equal(t, "process", v)

	v, ok = env.Lookup("B")
	assert.True(t, ok)
	assert.Equal(t, "doc", v)

	assert.Equal(t, []string{"A", "B"}, env.Names())
}

func TestParse(t *testing.T) {
	t.Parallel()

	refs, err := Parse("${A}/${B:x}/$${C}")
	require.NoError(t, err)
	assert.Equal(t, []VariableRef{
		{Name: "A"},
		{Name: "B", Default: "x", HasDefault: true},
	}, refs)
}
