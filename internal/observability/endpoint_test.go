package observability

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcikit/hcilog/internal/conf"
	"github.com/hcikit/hcilog/internal/logger"
	"github.com/hcikit/hcilog/internal/logspec"
)

func TestEndpointServesMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Logging.ObserveDispatch(logspec.LevelError)

	mgr, err := logger.NewManager(logger.Config{ReloadInterval: -1},
		logger.WithFallback(logger.NewFallback(logger.WithFallbackWriter(io.Discard))))
	require.NoError(t, err)
	defer func() { _ = mgr.Shutdown(context.Background()) }()

	e, err := NewEndpoint(&conf.MetricsSettings{Enabled: true, Listen: "127.0.0.1:0"}, m, mgr.GetLogger("metrics"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	quit := make(chan struct{})
	require.NoError(t, e.Start(&wg, quit))
	defer func() {
		close(quit)
		wg.Wait()
	}()

	resp, err := http.Get("http://" + e.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `hcilog_events_dispatched_total{level="ERROR"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNewEndpointDisabled(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	_, err = NewEndpoint(&conf.MetricsSettings{}, m, nil)
	require.Error(t, err)
}
