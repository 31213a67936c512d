package core

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "praiafinder"

// PrometheusMetrics implements MetricsCollector and exposes the API and
// dataset metrics on its own registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rankedEntries   *prometheus.CounterVec

	datasetGeneration prometheus.Gauge
	datasetLocations  prometheus.Gauge
	datasetRecords    prometheus.Gauge
	dataHorizon       prometheus.Gauge
}

// NewPrometheusMetrics creates the collectors and registers them, together
// with the Go runtime and process collectors, on a fresh registry.
func NewPrometheusMetrics() (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time taken for HTTP requests",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "endpoint"}),
		rankedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ranked_entries_total",
			Help:      "Ranked entries served, by mode and score source",
		}, []string{"mode", "source"}),
		datasetGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "dataset_generation",
			Help:      "Generation of the dataset being served",
		}),
		datasetLocations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "dataset_locations",
			Help:      "Locations in the served catalog",
		}),
		datasetRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "dataset_score_records",
			Help:      "Score records in the served snapshot",
		}),
		dataHorizon: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "dataset_data_horizon_timestamp_seconds",
			Help:      "Latest timestamp with precomputed scores, as a Unix time (0 when none)",
		}),
	}

	for _, c := range []prometheus.Collector{
		m,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) all() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.rankedEntries,
		m.datasetGeneration,
		m.datasetLocations,
		m.datasetRecords,
		m.dataHorizon,
	}
}

// Describe implements prometheus.Collector.
func (m *PrometheusMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.all() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *PrometheusMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.all() {
		c.Collect(ch)
	}
}

// RecordRequest implements MetricsCollector.
func (m *PrometheusMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRanked counts entries served for mode from source.
func (m *PrometheusMetrics) RecordRanked(mode, source string, n int) {
	if n > 0 {
		m.rankedEntries.WithLabelValues(mode, source).Add(float64(n))
	}
}

// RecordDataset publishes the state of a freshly installed dataset.
func (m *PrometheusMetrics) RecordDataset(generation uint64, locations, records int, horizon *time.Time) {
	m.datasetGeneration.Set(float64(generation))
	m.datasetLocations.Set(float64(locations))
	m.datasetRecords.Set(float64(records))
	if horizon != nil {
		m.dataHorizon.Set(float64(horizon.Unix()))
	} else {
		m.dataHorizon.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler(logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(logger.Handler(), slog.LevelError),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
