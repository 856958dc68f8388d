package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hcilog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
debug: true
logging:
  paths: [base.yaml, site.toml]
  reload_interval: 30s
  watch_files: true
metrics:
  enabled: true
  listen: 127.0.0.1:9999
`)
	settings, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.True(t, settings.Debug)
	assert.Equal(t, []string{"base.yaml", "site.toml"}, settings.Logging.Paths)
	assert.Equal(t, 30*time.Second, settings.Logging.ReloadInterval)
	assert.True(t, settings.Logging.WatchFiles)
	assert.Equal(t, 250*time.Millisecond, settings.Logging.WatchDebounce, "unset keys keep defaults")
	assert.Equal(t, 32, settings.Logging.MaxIncludeDepth)
	assert.Equal(t, "127.0.0.1:9999", settings.Metrics.Listen)

	cfg := settings.LoggerConfig()
	assert.Equal(t, settings.Logging.Paths, cfg.Paths)
	assert.Equal(t, 30*time.Second, cfg.ReloadInterval)
	assert.True(t, cfg.WatchFiles)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
logging:
  max_include_depth: -1
metrics:
  enabled: true
  listen: nowhere
`)
	_, err := Load(viper.New(), path)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "logging:\n  paths: [file.yaml]\n")
	t.Setenv("HCILOG_CONFIG", "one.yaml,two.yaml")
	t.Setenv("HCILOG_WATCH", "true")
	t.Setenv("HCILOG_RELOAD_INTERVAL", "-1s")

	settings, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"one.yaml", "two.yaml"}, settings.Logging.Paths)
	assert.True(t, settings.Logging.WatchFiles)
	assert.Equal(t, -time.Second, settings.Logging.ReloadInterval)
}

func TestLoadReportsInvalidEnvironment(t *testing.T) {
	path := writeConfig(t, "debug: false\n")
	t.Setenv("HCILOG_DEBUG", "maybe")
	t.Setenv("HCILOG_METRICS_LISTEN", "9464")

	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HCILOG_DEBUG")
	assert.Contains(t, err.Error(), "HCILOG_METRICS_LISTEN")
}

func TestValidateEnvBool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value   string
		wantErr bool
	}{
		{"true", false},
		{"0", false},
		{" false ", false},
		{"maybe", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()
			err := validateEnvBool(tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid boolean value")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
