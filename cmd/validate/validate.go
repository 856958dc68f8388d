// Package validate implements the validate command.
package validate

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/hcikit/hcilog/internal/buildinfo"
	"github.com/hcikit/hcilog/internal/conf"
	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logger"
	"github.com/hcikit/hcilog/internal/logspec"
	"github.com/hcikit/hcilog/internal/matcher"
	"github.com/hcikit/hcilog/internal/sink"
)

// minRotateSize is the smallest max_size that does not draw a warning.
const minRotateSize = 64 * units.KiB

// Command creates the validate command. It loads and resolves the logging
// documents without opening any sink and reports every problem found.
func Command(settings *conf.Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "validate [documents...]",
		Short: "Check logging documents for errors and unknown keys",
		Long: "Load, merge and resolve the logging documents, compile logger patterns and check " +
			"that every handler has a usable target. Unknown keys are reported as warnings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := settings.LoggerConfig()
			if len(args) > 0 {
				cfg.Paths = args
			}
			result := Validate(cfg)
			if err := report(cmd.OutOrStdout(), result, asJSON); err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("%d error(s) found", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

// Validate resolves cfg and collects the issues of the result.
func Validate(cfg logger.Config) *buildinfo.ValidationResult {
	result := buildinfo.NewValidationResult()

	resolved, _, err := logger.Resolve(cfg)
	if err != nil {
		result.AddError(describe(err))
		return result
	}
	for _, w := range resolved.Warnings {
		result.AddWarning(w)
	}
	if _, err := matcher.New(resolved); err != nil {
		result.AddError(describe(err))
	}

	targets := make(map[string]string)
	for _, spec := range resolved.Specs() {
		for i := range spec.Handlers {
			h := &spec.Handlers[i]
			if !h.Enabled {
				continue
			}
			key, err := sink.CanonicalKey(h)
			if err != nil {
				result.AddError(fmt.Sprintf("%s: handler %s: %v", spec.Name, h.Name, err))
				continue
			}
			if _, err := logger.NewFormatter(formatOf(spec, h), spec.DateFormat); err != nil {
				result.AddError(fmt.Sprintf("%s: handler %s: %v", spec.Name, h.Name, err))
			}
			if h.Type == logspec.HandlerFile && h.Rotation.Kind == logspec.RotateSize && h.Rotation.MaxSize < minRotateSize {
				result.AddWarning(fmt.Sprintf("%s: handler %s rotates every %s",
					spec.Name, h.Name, units.BytesSize(float64(h.Rotation.MaxSize))))
			}
			if owner, ok := targets[key]; ok && owner != h.Name {
				result.AddWarning(fmt.Sprintf("handlers %s and %s share %s; the first one opened sets its options", owner, h.Name, key))
				continue
			}
			targets[key] = h.Name
		}
	}
	sort.Strings(result.Warnings)
	return result
}

func formatOf(spec *logspec.LoggerSpec, h *logspec.HandlerSpec) string {
	if h.Format != "" {
		return h.Format
	}
	return spec.Format
}

func describe(err error) string {
	var catErr errors.CategorizedError
	if errors.As(err, &catErr) {
		return fmt.Sprintf("%s: %v", catErr.ErrorCategory(), err)
	}
	return err.Error()
}

func report(w io.Writer, r *buildinfo.ValidationResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	for _, e := range r.Errors {
		if _, err := fmt.Fprintf(w, "error: %s\n", e); err != nil {
			return err
		}
	}
	for _, warning := range r.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	if r.Valid {
		_, err := fmt.Fprintf(w, "ok (%d warning(s))\n", len(r.Warnings))
		return err
	}
	return nil
}
