// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.paths", []string{"logging.yaml"})
	v.SetDefault("logging.reload_interval", time.Duration(0))
	v.SetDefault("logging.watch_files", false)
	v.SetDefault("logging.watch_debounce", 250*time.Millisecond)
	v.SetDefault("logging.shutdown_timeout", 5*time.Second)
	v.SetDefault("logging.max_include_depth", 32)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
}
