// Package cmd wires the hcilog command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hcikit/hcilog/cmd/resolve"
	"github.com/hcikit/hcilog/cmd/run"
	"github.com/hcikit/hcilog/cmd/validate"
	"github.com/hcikit/hcilog/cmd/version"
	"github.com/hcikit/hcilog/internal/buildinfo"
	"github.com/hcikit/hcilog/internal/conf"
)

// RootCommand creates and returns the root command. Settings are loaded
// into settings before any subcommand runs.
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	v := viper.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "hcilog",
		Short:         "Logging configuration engine for the HCI tool",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Settings file (default: hcilog.yaml in ., the user config dir, /etc/hcilog)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().StringSlice("logging-config", nil, "Logging documents to load, merged in order")

	versionCmd := version.Command(build)
	rootCmd.AddCommand(
		validate.Command(settings),
		resolve.Command(settings),
		run.Command(settings, build),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(cmd, v, configFile, settings)
	}

	return rootCmd
}

// initialize loads settings with flag values taking precedence over the
// settings file and the environment.
func initialize(cmd *cobra.Command, v *viper.Viper, configFile string, settings *conf.Settings) error {
	flags := cmd.Flags()
	if err := v.BindPFlag("debug", flags.Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	if flags.Changed("logging-config") {
		paths, err := flags.GetStringSlice("logging-config")
		if err != nil {
			return err
		}
		v.Set("logging.paths", paths)
	}

	loaded, err := conf.Load(v, configFile)
	if err != nil {
		return err
	}
	*settings = *loaded
	return nil
}
