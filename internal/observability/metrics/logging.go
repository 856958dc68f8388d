// Package metrics provides Prometheus metrics for the hcilog engine.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hcikit/hcilog/internal/errors"
	"github.com/hcikit/hcilog/internal/logspec"
)

// LoggingMetrics contains all Prometheus metrics of the dispatch engine and
// its sinks. It satisfies logger.Metrics.
type LoggingMetrics struct {
	Dispatched     *prometheus.CounterVec
	SinkLines      *prometheus.CounterVec
	SinkBytes      *prometheus.CounterVec
	SinkBatchLines *prometheus.HistogramVec
	Rotations      *prometheus.CounterVec
	SinkErrors     *prometheus.CounterVec
	Backpressure   *prometheus.CounterVec
	Suppressed     *prometheus.CounterVec
	Reloads        *prometheus.CounterVec
	ReloadDuration prometheus.Histogram
	LastReload     prometheus.Gauge
	FallbackErrors *prometheus.CounterVec
	registry       *prometheus.Registry
}

// NewLoggingMetrics creates a new instance of LoggingMetrics and registers
// it with registry.
func NewLoggingMetrics(registry *prometheus.Registry) (*LoggingMetrics, error) {
	m := &LoggingMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register logging metrics: %w", err)
	}
	return m, nil
}

func (m *LoggingMetrics) initMetrics() {
	m.Dispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hcilog_events_dispatched_total",
		Help: "Events that passed level and filter checks, by level",
	}, []string{"level"})

	m.SinkLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hcilog_sink_lines_total",
		Help: "Lines written by each sink",
	}, []string{"sink", "type"})

	m.SinkBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hcilog_sink_bytes_total",
		Help: "Bytes written by each sink",
	}, []string{"sink", "type"})

	m.SinkBatchLines = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hcilog_sink_batch_lines",
		Help:    "Lines per physical write",
		Buckets: prometheus.ExponentialBuckets(1, BucketFactor4, BucketCount8),
	}, []string{"type"})

	m.Rotations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hcilog_file_rotations_total",
		Help: "File rotations performed by each file sink",
	}, []string{"sink"})

	m.SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hcilog_sink_errors_total",
		Help: "Write failures of each sink",
	}, []string{"sink", "type"})

	m.Backpressure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hcilog_sink_backpressure_total",
		Help: "Writes rejected because a sink queue stayed full",
	}, []string{"sink"})

	m.Suppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hcilog_window_suppressed_total",
		Help: "Window events dropped by the rate limiter",
	}, []string{"sink"})

	m.Reloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hcilog_reloads_total",
		Help: "Configuration reloads by result",
	}, []string{"result"})

	m.ReloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hcilog_reload_duration_seconds",
		Help:    "Time to load, resolve and compile a configuration",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
	})

	m.LastReload = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hcilog_last_reload_timestamp_seconds",
		Help: "Unix time of the last successful reload",
	})

	m.FallbackErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hcilog_fallback_errors_total",
		Help: "Errors sent to the fallback channel, by category",
	}, []string{"category"})
}

// ObserveDispatch counts one dispatched event.
func (m *LoggingMetrics) ObserveDispatch(level logspec.Level) {
	m.Dispatched.WithLabelValues(level.String()).Inc()
}

// ObserveWrite records one physical write of lines totalling n bytes.
func (m *LoggingMetrics) ObserveWrite(key string, kind logspec.HandlerType, lines, n int) {
	m.SinkLines.WithLabelValues(key, string(kind)).Add(float64(lines))
	m.SinkBytes.WithLabelValues(key, string(kind)).Add(float64(n))
	m.SinkBatchLines.WithLabelValues(string(kind)).Observe(float64(lines))
}

// ObserveRotation counts a file rotation.
func (m *LoggingMetrics) ObserveRotation(key string) {
	m.Rotations.WithLabelValues(key).Inc()
}

// ObserveError counts a failed sink write.
func (m *LoggingMetrics) ObserveError(key string, kind logspec.HandlerType) {
	m.SinkErrors.WithLabelValues(key, string(kind)).Inc()
}

// ObserveBackpressure counts a write rejected by a full queue.
func (m *LoggingMetrics) ObserveBackpressure(key string) {
	m.Backpressure.WithLabelValues(key).Inc()
}

// ObserveSuppressed counts events the window rate limiter dropped.
func (m *LoggingMetrics) ObserveSuppressed(key string, n int) {
	m.Suppressed.WithLabelValues(key).Add(float64(n))
}

// ObserveReload records the outcome and duration of a reload.
func (m *LoggingMetrics) ObserveReload(ok bool, elapsed time.Duration) {
	result := ResultFailure
	if ok {
		result = ResultSuccess
		m.LastReload.SetToCurrentTime()
	}
	m.Reloads.WithLabelValues(result).Inc()
	m.ReloadDuration.Observe(elapsed.Seconds())
}

// ObserveFallback counts an error reported on the fallback channel.
func (m *LoggingMetrics) ObserveFallback(category errors.ErrorCategory) {
	label := string(category)
	if label == "" {
		label = UnknownCategory
	}
	m.FallbackErrors.WithLabelValues(label).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *LoggingMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Dispatched.Collect(ch)
	m.SinkLines.Collect(ch)
	m.SinkBytes.Collect(ch)
	m.SinkBatchLines.Collect(ch)
	m.Rotations.Collect(ch)
	m.SinkErrors.Collect(ch)
	m.Backpressure.Collect(ch)
	m.Suppressed.Collect(ch)
	m.Reloads.Collect(ch)
	ch <- m.ReloadDuration
	ch <- m.LastReload
	m.FallbackErrors.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *LoggingMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Dispatched.Describe(ch)
	m.SinkLines.Describe(ch)
	m.SinkBytes.Describe(ch)
	m.SinkBatchLines.Describe(ch)
	m.Rotations.Describe(ch)
	m.SinkErrors.Describe(ch)
	m.Backpressure.Describe(ch)
	m.Suppressed.Describe(ch)
	m.Reloads.Describe(ch)
	ch <- m.ReloadDuration.Desc()
	ch <- m.LastReload.Desc()
	m.FallbackErrors.Describe(ch)
}
