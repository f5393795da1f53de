// Package metrics provides Prometheus metrics for the SpeedSync server and client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Latency buckets in milliseconds for store and HTTP timings.
var defaultLatencyBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500} //nolint:gochecknoglobals // immutable bucket layout

// Manager manages all Prometheus metrics for SpeedSync.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Result store metrics
	resultsInserted  prometheus.Counter
	resultsDuplicate prometheus.Counter
	resultsDeleted   prometheus.Counter
	totalResults     prometheus.Gauge
	storeLatency     *prometheus.HistogramVec
	storeErrors      *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorRateByEndpoint *prometheus.CounterVec

	// Sync engine metrics (client side)
	syncAttempts   *prometheus.CounterVec
	recordsPushed  prometheus.Counter
	pendingRecords prometheus.Gauge
	pushLatency    prometheus.Histogram

	// Recording and connectivity metrics (client side)
	recordsCaptured         prometheus.Counter
	connectivityOnline      prometheus.Gauge
	connectivityTransitions *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "speedsync",
		subsystem:        "",
		histogramBuckets: defaultLatencyBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	return m.metricPrefix + n
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	constLabels := prometheus.Labels(m.customLabels)

	m.resultsInserted = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("results_inserted_total"),
		Help:        "Total number of finish results newly stored",
		ConstLabels: constLabels,
	})

	m.resultsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("results_duplicate_total"),
		Help:        "Total number of pushed results ignored as duplicates",
		ConstLabels: constLabels,
	})

	m.resultsDeleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("results_deleted_total"),
		Help:        "Total number of results removed by id",
		ConstLabels: constLabels,
	})

	m.totalResults = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("results_stored"),
		Help:        "Number of results currently in the store",
		ConstLabels: constLabels,
	})

	m.storeLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("store_operation_duration_milliseconds"),
			Help:        "Result store operation latency in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	m.storeErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("store_errors_total"),
			Help:        "Result store errors by operation",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_requests_total"),
			Help:        "Total number of HTTP requests by endpoint and method",
			ConstLabels: constLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_request_duration_milliseconds"),
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: constLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByEndpoint = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_errors_total"),
			Help:        "HTTP error responses by endpoint and error type",
			ConstLabels: constLabels,
		},
		[]string{"endpoint", "method", "error_type"},
	)

	m.syncAttempts = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("sync_attempts_total"),
			Help:        "Sync attempts by trigger and outcome",
			ConstLabels: constLabels,
		},
		[]string{"trigger", "outcome"},
	)

	m.recordsPushed = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("records_pushed_total"),
		Help:        "Pending records confirmed delivered by a successful push",
		ConstLabels: constLabels,
	})

	m.pendingRecords = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("pending_records"),
		Help:        "Records in the local cache awaiting a successful push",
		ConstLabels: constLabels,
	})

	m.pushLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("push_duration_milliseconds"),
		Help:        "Duration of bulk push requests in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: constLabels,
	})

	m.recordsCaptured = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("records_captured_total"),
		Help:        "Finish records captured by the recording API",
		ConstLabels: constLabels,
	})

	m.connectivityOnline = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("connectivity_online"),
		Help:        "1 when the result server is reachable, 0 otherwise",
		ConstLabels: constLabels,
	})

	m.connectivityTransitions = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("connectivity_transitions_total"),
			Help:        "Connectivity state changes by direction",
			ConstLabels: constLabels,
		},
		[]string{"to"},
	)
}

// Result store metrics

func RecordResultsInserted(n int) {
	if n > 0 && globalManager.enabled {
		globalManager.resultsInserted.Add(float64(n))
	}
}

func RecordResultsDuplicate(n int) {
	if n > 0 && globalManager.enabled {
		globalManager.resultsDuplicate.Add(float64(n))
	}
}

func RecordResultDeleted() {
	if globalManager.enabled {
		globalManager.resultsDeleted.Inc()
	}
}

func UpdateTotalResults(count int) {
	if globalManager.enabled {
		globalManager.totalResults.Set(float64(count))
	}
}

func RecordStoreLatency(operation string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
	}
}

func RecordStoreError(operation string) {
	if globalManager.enabled {
		globalManager.storeErrors.WithLabelValues(operation).Inc()
	}
}

// HTTP metrics

func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if globalManager.enabled {
		globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// Sync engine metrics

func RecordSyncAttempt(trigger, outcome string) {
	if globalManager.enabled {
		globalManager.syncAttempts.WithLabelValues(trigger, outcome).Inc()
	}
}

func RecordRecordsPushed(n int) {
	if n > 0 && globalManager.enabled {
		globalManager.recordsPushed.Add(float64(n))
	}
}

func UpdatePendingRecords(n int) {
	if globalManager.enabled {
		globalManager.pendingRecords.Set(float64(n))
	}
}

func RecordPushLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.pushLatency.Observe(latencyMs)
	}
}

// Recording and connectivity metrics

func RecordRecordCaptured() {
	if globalManager.enabled {
		globalManager.recordsCaptured.Inc()
	}
}

func UpdateConnectivity(online bool) {
	if !globalManager.enabled {
		return
	}
	if online {
		globalManager.connectivityOnline.Set(1)
		return
	}
	globalManager.connectivityOnline.Set(0)
}

func RecordConnectivityTransition(toOnline bool) {
	if !globalManager.enabled {
		return
	}
	to := "offline"
	if toOnline {
		to = "online"
	}
	globalManager.connectivityTransitions.WithLabelValues(to).Inc()
}

// GetRegistry returns the custom registry all package-level metrics are registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RefreshInterval reports how often the global manager's gauges should be refreshed.
func RefreshInterval() time.Duration {
	return globalManager.RefreshInterval()
}
