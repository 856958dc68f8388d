package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hcikit/hcilog/internal/conf"
	"github.com/hcikit/hcilog/internal/logger"
	metricspkg "github.com/hcikit/hcilog/internal/observability/metrics"
)

// Endpoint serves /metrics for a running engine.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	log           logger.Logger
	addr          chan net.Addr
}

// NewEndpoint creates an endpoint from the metrics settings. It fails when
// the endpoint is disabled.
func NewEndpoint(settings *conf.MetricsSettings, metrics *Metrics, log logger.Logger) (*Endpoint, error) {
	if !settings.Enabled {
		return nil, fmt.Errorf("metrics endpoint not enabled in settings")
	}
	return &Endpoint{
		listenAddress: settings.Listen,
		metrics:       metrics,
		log:           log,
		addr:          make(chan net.Addr, 1),
	}, nil
}

// Start listens on the configured address and serves until quitChan is
// closed. The listener is bound before Start returns.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) error {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("metrics endpoint: %w", err)
	}
	e.addr <- ln.Addr()
	e.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	wg.Go(func() {
		e.log.Info("metrics endpoint starting", logger.String("address", ln.Addr().String()))
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("metrics HTTP server error", logger.Error(err))
		}
	})
	wg.Go(func() { e.gracefulShutdown(quitChan) })
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (e *Endpoint) Addr() net.Addr {
	a := <-e.addr
	e.addr <- a
	return a
}

// gracefulShutdown waits for the quit signal and shuts down the server gracefully.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	e.log.Info("stopping metrics endpoint")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		e.log.Error("metrics server shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
