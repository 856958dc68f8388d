package resolve

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcikit/hcilog/internal/conf"
)

func run(t *testing.T, doc string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "logging.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(doc, dir)), 0o600))

	cmd := Command(&conf.Settings{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{path}, args...))
	err := cmd.Execute()
	return out.String(), err
}

const btDoc = `
loggers:
  bluetooth:
    level: DEBUG
    handlers:
      bt_file:
        type: file
        filename: %s/bt.log
        rotation:
          kind: size
          max_size: 2MB
          backup_count: 3
`

func TestResolvePrintsCanonicalConfig(t *testing.T) {
	t.Parallel()
	out, err := run(t, btDoc)
	require.NoError(t, err)
	assert.Contains(t, out, "default_logger:")
	assert.Contains(t, out, "name: bluetooth")
	assert.Contains(t, out, "level: DEBUG")
}

func TestResolveDescribesName(t *testing.T) {
	t.Parallel()
	out, err := run(t, btDoc, "--name", "bluetooth.hci.cmd", "--name", "audio")
	require.NoError(t, err)

	assert.Contains(t, out, "bluetooth.hci.cmd\n  matched:   bluetooth\n  level:     DEBUG\n")
	assert.Contains(t, out, "  ancestors: default\n")
	assert.Contains(t, out, "/bt.log >= TRACE, rotate at 2MiB keep 3\n")
	assert.Contains(t, out, "audio\n  matched:   (default_logger)\n")
}

func TestResolveMissingDocument(t *testing.T) {
	t.Parallel()
	cmd := Command(&conf.Settings{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, cmd.Execute())
}
