package providers

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cloutdash/internal/structures"
)

type MetricsProviderInterface interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncCacheHits()
	IncCacheMisses()
	ObservePersistenceDuration(op string, duration time.Duration)
	IncStorageErrors(op string)
	IncMigrations(from string)
	AddEventsIngested(count int)
	SetEventsTotal(count int)
	SetClearProgress(done, total int)
}

type MetricsProvider struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	persistenceDuration *prometheus.HistogramVec
	storageErrors       *prometheus.CounterVec
	migrations          *prometheus.CounterVec
	eventsIngested      prometheus.Counter
	eventsTotal         prometheus.Gauge
	clearDone           prometheus.Gauge
	clearTotal          prometheus.Gauge
}

func (m *MetricsProvider) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *MetricsProvider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *MetricsProvider) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *MetricsProvider) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func (m *MetricsProvider) ObservePersistenceDuration(op string, duration time.Duration) {
	m.persistenceDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *MetricsProvider) IncStorageErrors(op string) {
	m.storageErrors.WithLabelValues(op).Inc()
}

func (m *MetricsProvider) IncMigrations(from string) {
	m.migrations.WithLabelValues(from).Inc()
}

func (m *MetricsProvider) AddEventsIngested(count int) {
	m.eventsIngested.Add(float64(count))
}

func (m *MetricsProvider) SetEventsTotal(count int) {
	m.eventsTotal.Set(float64(count))
}

func (m *MetricsProvider) SetClearProgress(done, total int) {
	m.clearDone.Set(float64(done))
	m.clearTotal.Set(float64(total))
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func NewMetricsProvider(conf *structures.Config) MetricsProviderInterface {
	if !conf.Metrics.Enabled {
		return &noopMetrics{}
	}

	return &MetricsProvider{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloutdash_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloutdash_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cloutdash_cache_hits_total",
			Help: "Total number of dashboard cache hits",
		}),

		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cloutdash_cache_misses_total",
			Help: "Total number of dashboard cache misses",
		}),

		persistenceDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloutdash_persistence_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		storageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloutdash_storage_errors_total",
			Help: "Total number of failed store operations",
		}, []string{"op"}),

		migrations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cloutdash_migrations_total",
			Help: "Completed migrations by source shape",
		}, []string{"from"}),

		eventsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cloutdash_events_ingested_total",
			Help: "Events accepted from pastes",
		}),

		eventsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cloutdash_events",
			Help: "Events in the in-memory log",
		}),

		clearDone: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cloutdash_clear_buckets_done",
			Help: "Buckets deleted by the running or last bulk delete",
		}),

		clearTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cloutdash_clear_buckets_total",
			Help: "Buckets targeted by the running or last bulk delete",
		}),
	}
}

// noopMetrics is a no-op implementation for when metrics are disabled.
type noopMetrics struct{}

func (n *noopMetrics) IncRequestsTotal(_ string, _ int)                     {}
func (n *noopMetrics) ObserveRequestDuration(_ string, _ time.Duration)     {}
func (n *noopMetrics) IncCacheHits()                                        {}
func (n *noopMetrics) IncCacheMisses()                                      {}
func (n *noopMetrics) ObservePersistenceDuration(_ string, _ time.Duration) {}
func (n *noopMetrics) IncStorageErrors(_ string)                            {}
func (n *noopMetrics) IncMigrations(_ string)                               {}
func (n *noopMetrics) AddEventsIngested(_ int)                              {}
func (n *noopMetrics) SetEventsTotal(_ int)                                 {}
func (n *noopMetrics) SetClearProgress(_, _ int)                            {}
