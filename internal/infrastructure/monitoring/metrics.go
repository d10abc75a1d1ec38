package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the broker.
type Metrics struct {
	// Decision metrics
	Decisions        *prometheus.CounterVec
	DecisionDuration prometheus.Histogram

	// Cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheExpired   prometheus.Counter
	CacheSize      prometheus.Gauge
	CacheFlushes   *prometheus.CounterVec

	// Arbitration metrics
	Arbitrations        *prometheus.CounterVec
	ArbitrationDuration prometheus.Histogram
	PendingArbitrations prometheus.Gauge

	// Protocol metrics
	ProtocolMessages  *prometheus.CounterVec
	ProtocolFallbacks *prometheus.CounterVec
	DuplicateChecks   prometheus.Counter

	// Bridge metrics
	BridgeConnections prometheus.Gauge

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		Decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navguard_decisions_total",
				Help: "Navigation decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		DecisionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "navguard_decision_duration_seconds",
				Help:    "Quick decision layer latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .003, .005, .01, .025},
			},
		),

		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "navguard_cache_hits_total",
				Help: "Permission cache hits",
			},
		),
		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "navguard_cache_misses_total",
				Help: "Permission cache misses",
			},
		),
		CacheEvictions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "navguard_cache_evictions_total",
				Help: "LRU evictions from the permission cache",
			},
		),
		CacheExpired: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "navguard_cache_expired_total",
				Help: "Expired entries purged from the permission cache",
			},
		),
		CacheSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "navguard_cache_size",
				Help: "Current permission cache entry count",
			},
		),
		CacheFlushes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navguard_cache_flushes_total",
				Help: "Durable cache flushes by status",
			},
			[]string{"status"},
		),

		Arbitrations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navguard_arbitrations_total",
				Help: "Arbitration results by resolution",
			},
			[]string{"resolution"},
		),
		ArbitrationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "navguard_arbitration_duration_seconds",
				Help:    "Arbitration latency including user confirmation",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30},
			},
		),
		PendingArbitrations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "navguard_pending_arbitrations",
				Help: "Arbitrations currently awaiting resolution",
			},
		),

		ProtocolMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navguard_protocol_messages_total",
				Help: "Cross-context protocol messages by direction and type",
			},
			[]string{"direction", "type"},
		),
		ProtocolFallbacks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navguard_protocol_fallbacks_total",
				Help: "Risk-aware fallback decisions by navigation method and outcome",
			},
			[]string{"method", "outcome"},
		),
		DuplicateChecks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "navguard_duplicate_checks_total",
				Help: "CHECK messages suppressed as duplicates",
			},
		),

		BridgeConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "navguard_bridge_connections",
				Help: "Active page-context bridge connections",
			},
		),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "navguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "navguard_uptime_seconds",
				Help: "Broker uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordDecision records a quick-layer decision
func (m *Metrics) RecordDecision(outcome, reason string, duration time.Duration) {
	m.Decisions.WithLabelValues(outcome, reason).Inc()
	m.DecisionDuration.Observe(duration.Seconds())
}

// RecordArbitration records a completed arbitration
func (m *Metrics) RecordArbitration(resolution string, duration time.Duration) {
	m.Arbitrations.WithLabelValues(resolution).Inc()
	m.ArbitrationDuration.Observe(duration.Seconds())
}

// RecordProtocolMessage records one protocol message
func (m *Metrics) RecordProtocolMessage(direction, msgType string) {
	m.ProtocolMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordFallback records a risk-aware fallback decision
func (m *Metrics) RecordFallback(method, outcome string) {
	m.ProtocolFallbacks.WithLabelValues(method, outcome).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
