//go:build windows || plan9

package sink

import (
	"fmt"
	"runtime"

	"github.com/hcikit/hcilog/internal/logspec"
)

func newSyslogSink(key string, _ *logspec.HandlerSpec, _ *Factory) (Sink, error) {
	return nil, fmt.Errorf("syslog %s: not supported on %s", key, runtime.GOOS)
}
