// Package run implements the run command: it starts the logging engine and
// dispatches events read from standard input until the input ends or the
// process is signalled.
package run

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hcikit/hcilog/internal/buildinfo"
	"github.com/hcikit/hcilog/internal/conf"
	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logger"
	"github.com/hcikit/hcilog/internal/logspec"
	"github.com/hcikit/hcilog/internal/observability"
)

// engineLogger is the module name the command logs its own events under.
const engineLogger = "hcilog"

// Command creates the run command.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the logging engine on events read from stdin",
		Long: "Start the logging engine and dispatch one event per input line in the form\n" +
			"\"<module> <LEVEL> <message>\". SIGHUP reloads the logging documents; SIGINT\n" +
			"and SIGTERM drain every sink and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			opts.Reload = hup
			return Run(ctx, settings, build, cmd.InOrStdin(), cmd.ErrOrStderr(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.DefaultModule, "module", "hcitool", "Module for lines that name no module")
	cmd.Flags().BoolVar(&opts.PrintStats, "stats", false, "Print engine statistics as JSON on exit")
	return cmd
}

// Options tunes Run.
type Options struct {
	DefaultModule string
	PrintStats    bool
	// Reload triggers Manager.Reload on every receive.
	Reload <-chan os.Signal
	// ManagerOptions are appended to the options Run builds itself.
	ManagerOptions []logger.Option
}

// Run starts the engine, dispatches lines from in until it is exhausted or
// ctx is done, then shuts the engine down.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, in io.Reader, errOut io.Writer, opts Options) error {
	if opts.DefaultModule == "" {
		opts.DefaultModule = "hcitool"
	}

	if settings.Sentry.DSN != "" {
		reporter, err := errors.NewSentryReporter(settings.Sentry.DSN, settings.Sentry.Environment)
		if err != nil {
			return err
		}
		errors.SetReporter(reporter)
		defer func() {
			reporter.Flush(settings.Logging.ShutdownTimeout)
			errors.SetReporter(nil)
		}()
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	managerOpts := append([]logger.Option{
		logger.WithMetrics(metrics.Logging),
		logger.WithFallback(logger.NewFallback(logger.WithFallbackWriter(errOut))),
	}, opts.ManagerOptions...)
	mgr, err := logger.NewManager(settings.LoggerConfig(), managerOpts...)
	if err != nil {
		return err
	}

	self := mgr.GetLogger(engineLogger)
	self.Info("engine started",
		logger.String("version", build.GetVersion()),
		logger.String("generation", mgr.Generation()),
		logger.Int("documents", len(mgr.Files())))
	if settings.Debug {
		for _, initErr := range mgr.InitErrors() {
			fmt.Fprintf(errOut, "handler init: %v\n", initErr)
		}
	}

	var wg sync.WaitGroup
	quit := make(chan struct{})
	if settings.Metrics.Enabled {
		endpoint, err := observability.NewEndpoint(&settings.Metrics, metrics, self.Module("metrics"))
		if err != nil {
			return shutdown(mgr, err)
		}
		if err := endpoint.Start(&wg, quit); err != nil {
			return shutdown(mgr, err)
		}
	}

	// not tracked by wg: a Scan blocked on a terminal cannot be interrupted
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-quit:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			self.Error("reading input failed", logger.Error(err))
		}
	}()

	dispatched := 0
loop:
	for {
		select {
		case <-ctx.Done():
			self.Info("signal received, shutting down")
			break loop
		case <-opts.Reload:
			if err := mgr.Reload(ctx); err != nil {
				self.Warn("reload failed, keeping current configuration", logger.Error(err))
				continue
			}
			self.Info("configuration reloaded", logger.String("generation", mgr.Generation()))
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if dispatchLine(mgr, self, opts.DefaultModule, line) {
				dispatched++
			}
		}
	}

	self.Info("engine stopping", logger.Int("dispatched", dispatched))
	close(quit)
	wg.Wait()

	err = mgr.Shutdown(context.Background())
	if opts.PrintStats {
		enc := json.NewEncoder(errOut)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(mgr.Stats()); encErr != nil && err == nil {
			err = encErr
		}
	}
	return err
}

func shutdown(mgr *logger.Manager, cause error) error {
	return errors.Join(cause, mgr.Shutdown(context.Background()))
}

// dispatchLine logs one input line. It reports whether an event was logged
// from the line's content.
func dispatchLine(mgr *logger.Manager, self logger.Logger, defaultModule, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false
	}
	module, level, msg, err := ParseLine(line, defaultModule)
	if err != nil {
		self.Warn("unparsable input line", logger.String("line", line), logger.Error(err))
		return false
	}
	if err := mgr.GetLogger(module).Log(level, msg); err != nil {
		self.Warn("event rejected", logger.String("module", module), logger.Error(err))
		return false
	}
	return true
}

// ParseLine splits "<module> <LEVEL> <message>". A line whose first word is
// a level name logs under defaultModule.
func ParseLine(line, defaultModule string) (module string, level logspec.Level, msg string, err error) {
	first, rest, _ := strings.Cut(line, " ")
	if lvl, lerr := logspec.ParseLevel(first); lerr == nil {
		return defaultModule, lvl, strings.TrimSpace(rest), nil
	}

	second, msg, _ := strings.Cut(strings.TrimSpace(rest), " ")
	level, err = logspec.ParseLevel(second)
	if err != nil {
		return "", 0, "", fmt.Errorf("line %q: %w", line, err)
	}
	return first, level, strings.TrimSpace(msg), nil
}
