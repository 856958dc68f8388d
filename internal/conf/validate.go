// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateLoggingSettings(&settings.Logging); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateMetricsSettings(&settings.Metrics); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateLoggingSettings(settings *LoggingSettings) error {
	var errs []string
	for i, p := range settings.Paths {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Sprintf("logging.paths[%d] is empty", i))
		}
	}
	if settings.WatchDebounce < 0 {
		errs = append(errs, "logging.watch_debounce must not be negative")
	}
	if settings.ShutdownTimeout < 0 {
		errs = append(errs, "logging.shutdown_timeout must not be negative")
	}
	if settings.MaxIncludeDepth < 0 {
		errs = append(errs, "logging.max_include_depth must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("logging settings: %s", strings.Join(errs, ", "))
	}
	return nil
}

func validateMetricsSettings(settings *MetricsSettings) error {
	if !settings.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("metrics.listen %q: %w", settings.Listen, err)
	}
	return nil
}
