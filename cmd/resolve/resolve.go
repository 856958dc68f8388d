// Package resolve implements the resolve command.
package resolve

import (
	"fmt"
	"io"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/hcikit/hcilog/internal/conf"
	"github.com/hcikit/hcilog/internal/logger"
	"github.com/hcikit/hcilog/internal/logspec"
	"github.com/hcikit/hcilog/internal/matcher"
	"github.com/hcikit/hcilog/internal/sink"
)

// Command creates the resolve command.
func Command(settings *conf.Settings) *cobra.Command {
	var names []string

	cmd := &cobra.Command{
		Use:   "resolve [documents...]",
		Short: "Print the resolved logging configuration",
		Long: "Print the fully merged configuration as canonical YAML, or with --name show " +
			"which logger spec a module name binds to and where its events go.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := settings.LoggerConfig()
			if len(args) > 0 {
				cfg.Paths = args
			}
			resolved, _, err := logger.Resolve(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				data, err := resolved.Canonical()
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			m, err := matcher.New(resolved)
			if err != nil {
				return err
			}
			for i, name := range names {
				if i > 0 {
					fmt.Fprintln(out)
				}
				describe(out, name, m.Resolve(name))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&names, "name", "n", nil, "Module name to match (repeatable)")
	return cmd
}

func describe(w io.Writer, name string, r *matcher.Result) {
	key := r.Key
	if key == "" {
		key = "(default_logger)"
	}
	spec := r.Spec
	fmt.Fprintf(w, "%s\n", name)
	fmt.Fprintf(w, "  matched:   %s\n", key)
	fmt.Fprintf(w, "  level:     %s\n", spec.Level)
	fmt.Fprintf(w, "  state:     %s\n", spec.State)
	fmt.Fprintf(w, "  propagate: %t\n", spec.Propagate)
	if len(spec.Chain) > 0 {
		fmt.Fprintf(w, "  chain:     %s\n", strings.Join(spec.Chain, " -> "))
	}
	if len(r.Ancestors) > 0 {
		keys := make([]string, 0, len(r.Ancestors))
		for _, a := range r.Ancestors {
			keys = append(keys, a.Name)
		}
		fmt.Fprintf(w, "  ancestors: %s\n", strings.Join(keys, ", "))
	}
	for i := range spec.Handlers {
		describeHandler(w, &spec.Handlers[i])
	}
}

func describeHandler(w io.Writer, h *logspec.HandlerSpec) {
	target, err := sink.CanonicalKey(h)
	if err != nil {
		target = "invalid: " + err.Error()
	}
	state := ""
	if !h.Enabled {
		state = " (disabled)"
	}
	fmt.Fprintf(w, "  handler %s%s: %s >= %s", h.Name, state, target, h.Level)
	if h.Type == logspec.HandlerFile {
		switch h.Rotation.Kind {
		case logspec.RotateSize:
			fmt.Fprintf(w, ", rotate at %s keep %d", units.BytesSize(float64(h.Rotation.MaxSize)), h.Rotation.BackupCount)
		case logspec.RotateTime:
			fmt.Fprintf(w, ", rotate every %d%s keep %d", h.Rotation.Interval, h.Rotation.When, h.Rotation.BackupCount)
		}
	}
	fmt.Fprintln(w)
}
