// Package conf provides process settings for the hcilog command: which
// logging documents to load, how they are watched, and where metrics and
// error reports go. The logging documents themselves are read by
// internal/loader, not here.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/hcikit/hcilog/internal/logger"
)

// Settings contains all process settings.
type Settings struct {
	Debug   bool            // log engine internals at debug level
	Logging LoggingSettings // logging documents and reload behaviour
	Metrics MetricsSettings // Prometheus endpoint
	Sentry  SentrySettings  // optional error reporting
}

// LoggingSettings selects the logging documents and how they are reloaded.
type LoggingSettings struct {
	Paths           []string      `mapstructure:"paths"`            // documents merged in order
	ReloadInterval  time.Duration `mapstructure:"reload_interval"`  // 0 uses the document's global.reload_interval, negative disables
	WatchFiles      bool          `mapstructure:"watch_files"`      // reload when a document changes on disk
	WatchDebounce   time.Duration `mapstructure:"watch_debounce"`   // quiet period after a file event
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // drain deadline when none is given
	MaxIncludeDepth int           `mapstructure:"max_include_depth"`
}

// MetricsSettings contains settings for the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"` // host:port
}

// SentrySettings contains settings for Sentry error reporting.
type SentrySettings struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// ConfigName is the base name searched for when no file is given.
const ConfigName = "hcilog"

// Load reads settings from configFile, or from hcilog.yaml in the default
// search paths when configFile is empty, then applies HCILOG_* environment
// variables. A missing default file is not an error; a missing explicit
// file is.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	setDefaultConfig(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// GetDefaultConfigPaths returns the directories searched for hcilog.yaml,
// most specific first.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ConfigName))
	}
	return append(paths, filepath.Join("/etc", ConfigName))
}

// LoggerConfig converts the logging settings for logger.NewManager.
func (s *Settings) LoggerConfig() logger.Config {
	return logger.Config{
		Paths:           s.Logging.Paths,
		ReloadInterval:  s.Logging.ReloadInterval,
		WatchFiles:      s.Logging.WatchFiles,
		WatchDebounce:   s.Logging.WatchDebounce,
		ShutdownTimeout: s.Logging.ShutdownTimeout,
		MaxIncludeDepth: s.Logging.MaxIncludeDepth,
	}
}
