package version

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcikit/hcilog/internal/buildinfo"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	cmd := Command(buildinfo.NewContext("1.4.0", "2026-10-01", "0123456789abcdef"))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "hcilog 1.4.0 (commit 0123456789ab, built 2026-10-01")
}
