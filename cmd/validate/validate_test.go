package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcikit/hcilog/internal/buildinfo"
	"github.com/hcikit/hcilog/internal/conf"
	"github.com/hcikit/hcilog/internal/logger"
)

func writeDoc(t *testing.T, doc string) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "logging.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return dir, path
}

func TestValidateReportsWarnings(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_, path := writeDoc(t, fmt.Sprintf(`
loggers:
  bluetooth.hci:
    handlers:
      hci_file:
        type: file
        filename: %[1]s/hci.log
        colour: never
  bluetooth.l2cap:
    handlers:
      l2cap_file:
        type: file
        filename: %[1]s/hci.log
        rotation:
          kind: size
          max_size: 1KB
`, dir))

	result := Validate(logger.Config{Paths: []string{path}})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Warnings, 3)
	all := strings.Join(result.Warnings, "\n")
	assert.Contains(t, all, "bluetooth.l2cap: handler l2cap_file rotates every 1KiB")
	assert.Contains(t, all, "handlers hci_file and l2cap_file share file:")
	assert.Contains(t, all, `unknown handler key "colour"`)
}

func TestValidateReportsInheritanceCycle(t *testing.T) {
	t.Parallel()
	_, path := writeDoc(t, `
loggers:
  a:
    inherits: b
  b:
    inherits: a
`)

	result := Validate(logger.Config{Paths: []string{path}})
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "inheritance-cycle")
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		asJSON  bool
		wantErr bool
		check   func(t *testing.T, out string)
	}{
		{
			name: "valid document",
			doc:  "loggers:\n  bluetooth:\n    level: DEBUG\n",
			check: func(t *testing.T, out string) {
				t.Helper()
				assert.Equal(t, "ok (0 warning(s))\n", out)
			},
		},
		{
			name:   "json report",
			doc:    "loggers:\n  bluetooth:\n    level: DEBUG\n",
			asJSON: true,
			check: func(t *testing.T, out string) {
				t.Helper()
				var r buildinfo.ValidationResult
				require.NoError(t, json.Unmarshal([]byte(out), &r))
				assert.True(t, r.Valid)
			},
		},
		{
			name:    "unknown level",
			doc:     "loggers:\n  bluetooth:\n    level: LOUD\n",
			wantErr: true,
			check: func(t *testing.T, out string) {
				t.Helper()
				assert.Contains(t, out, "error: ")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, path := writeDoc(t, tt.doc)

			cmd := Command(&conf.Settings{})
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&bytes.Buffer{})
			args := []string{path}
			if tt.asJSON {
				args = append(args, "--json")
			}
			cmd.SetArgs(args)

			err := cmd.Execute()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			tt.check(t, out.String())
		})
	}
}
