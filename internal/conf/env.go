// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HCILOG"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "HCILOG_DEBUG", validateEnvBool},

		// Logging documents
		{"logging.paths", "HCILOG_CONFIG", nil},
		{"logging.reload_interval", "HCILOG_RELOAD_INTERVAL", validateEnvDuration},
		{"logging.watch_files", "HCILOG_WATCH", validateEnvBool},
		{"logging.watch_debounce", "HCILOG_WATCH_DEBOUNCE", validateEnvDuration},
		{"logging.shutdown_timeout", "HCILOG_SHUTDOWN_TIMEOUT", validateEnvDuration},
		{"logging.max_include_depth", "HCILOG_MAX_INCLUDE_DEPTH", validateEnvInt},

		// Metrics and error reporting
		{"metrics.enabled", "HCILOG_METRICS_ENABLED", validateEnvBool},
		{"metrics.listen", "HCILOG_METRICS_LISTEN", validateEnvListen},
		{"sentry.dsn", "HCILOG_SENTRY_DSN", nil},
		{"sentry.environment", "HCILOG_SENTRY_ENVIRONMENT", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

// Environment variable validation functions

func validateEnvBool(value string) error {
	if _, err := cast.ToBoolE(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvInt(value string) error {
	n, err := cast.ToIntE(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid integer value '%s'", value)
	}
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	return nil
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("listen address must be host:port: %w", err)
	}
	return nil
}
