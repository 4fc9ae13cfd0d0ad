// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// RPC metrics
	RPCCalls        *prometheus.CounterVec
	RPCCallLatency  *prometheus.HistogramVec
	RPCRetries      prometheus.Counter
	RateLimitWait   *prometheus.HistogramVec
	EndpointHealth  *prometheus.GaugeVec
	EndpointParked  *prometheus.GaugeVec
	AccountsFetched prometheus.Counter

	// Chain view metrics
	HighestSlotSeen prometheus.Gauge
	OracleDegraded  prometheus.Gauge

	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	MeasurementsTotal  *prometheus.CounterVec
	OutliersDiscarded  prometheus.Counter
	ConfidenceScore    *prometheus.HistogramVec

	// Sampling metrics
	SignaturesScanned   prometheus.Counter
	TransactionsSampled prometheus.Counter

	// Journal metrics
	JournalWrites        *prometheus.CounterVec
	JournalWriteDuration *prometheus.HistogramVec

	// Health metrics
	LastSuccessfulResolution prometheus.Gauge
	UptimeSeconds            prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "metrics_oracle"
	}

	return &Metrics{
		// RPC metrics
		RPCCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_calls_total",
			Help:      "Total number of RPC calls by method, endpoint and status",
		}, []string{"method", "endpoint", "status"}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_retries_total",
			Help:      "Total number of RPC retry attempts",
		}),
		RateLimitWait: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting on the rate limiter by op class",
			Buckets:   []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"class"}),
		EndpointHealth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "endpoint_health",
			Help:      "Exponential moving average of endpoint success, 0 to 1",
		}, []string{"endpoint"}),
		EndpointParked: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "endpoint_parked",
			Help:      "Whether the endpoint circuit is open (1) or serving (0)",
		}, []string{"endpoint"}),
		AccountsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "accounts_fetched_total",
			Help:      "Total number of accounts fetched in batches",
		}),

		// Chain view metrics
		HighestSlotSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),
		OracleDegraded: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "oracle_degraded",
			Help:      "Whether the oracle breaker is degraded (1) or healthy (0)",
		}),

		// Resolution metrics
		ResolutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "resolutions_total",
			Help:      "Total number of resolutions by metric kind and recommendation",
		}, []string{"kind", "recommendation"}),
		ResolutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "resolution_duration_seconds",
			Help:      "End to end resolution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
		}, []string{"kind"}),
		MeasurementsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "measurements_total",
			Help:      "Total number of measurements by metric kind and status",
		}, []string{"kind", "status"}),
		OutliersDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "outliers_discarded_total",
			Help:      "Total number of measurements discarded as outliers",
		}),
		ConfidenceScore: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "confidence_score",
			Help:      "Confidence score distribution by metric kind",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		}, []string{"kind"}),

		// Sampling metrics
		SignaturesScanned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "signatures_scanned_total",
			Help:      "Total number of signatures scanned from history pages",
		}),
		TransactionsSampled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampling",
			Name:      "transactions_sampled_total",
			Help:      "Total number of transactions fetched for sampling",
		}),

		// Journal metrics
		JournalWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "writes_total",
			Help:      "Total number of journal writes by backend and status",
		}, []string{"backend", "status"}),
		JournalWriteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "write_duration_seconds",
			Help:      "Journal write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),

		// Health metrics
		LastSuccessfulResolution: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_resolution_timestamp",
			Help:      "Unix timestamp of last successful resolution",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordRPCCall increments the RPC call counter.
func RecordRPCCall(method, endpoint, status string) {
	DefaultMetrics.RPCCalls.WithLabelValues(method, endpoint, status).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordRPCRetry increments the retry counter.
func RecordRPCRetry() {
	DefaultMetrics.RPCRetries.Inc()
}

// RecordRateLimitWait records time spent waiting on a rate bucket.
func RecordRateLimitWait(class string, seconds float64) {
	DefaultMetrics.RateLimitWait.WithLabelValues(class).Observe(seconds)
}

// SetEndpointHealth updates the endpoint health gauge.
func SetEndpointHealth(endpoint string, health float64) {
	DefaultMetrics.EndpointHealth.WithLabelValues(endpoint).Set(health)
}

// SetEndpointParked updates the endpoint parked gauge.
func SetEndpointParked(endpoint string, parked bool) {
	v := 0.0
	if parked {
		v = 1.0
	}
	DefaultMetrics.EndpointParked.WithLabelValues(endpoint).Set(v)
}

// RecordAccountsFetched adds to the fetched accounts counter.
func RecordAccountsFetched(n int) {
	DefaultMetrics.AccountsFetched.Add(float64(n))
}

// UpdateHighestSlot updates the highest slot seen gauge.
func UpdateHighestSlot(slot uint64) {
	DefaultMetrics.HighestSlotSeen.Set(float64(slot))
}

// SetOracleDegraded updates the breaker state gauge.
func SetOracleDegraded(degraded bool) {
	v := 0.0
	if degraded {
		v = 1.0
	}
	DefaultMetrics.OracleDegraded.Set(v)
}

// RecordResolution increments the resolution counter.
func RecordResolution(kind, recommendation string) {
	DefaultMetrics.ResolutionsTotal.WithLabelValues(kind, recommendation).Inc()
}

// ObserveResolutionDuration records end to end resolution time.
func ObserveResolutionDuration(kind string, seconds float64) {
	DefaultMetrics.ResolutionDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordMeasurement increments the measurement counter.
func RecordMeasurement(kind, status string) {
	DefaultMetrics.MeasurementsTotal.WithLabelValues(kind, status).Inc()
}

// RecordOutlierDiscarded increments the discarded outlier counter.
func RecordOutlierDiscarded() {
	DefaultMetrics.OutliersDiscarded.Inc()
}

// ObserveConfidence records a confidence score.
func ObserveConfidence(kind string, score float64) {
	DefaultMetrics.ConfidenceScore.WithLabelValues(kind).Observe(score)
}

// RecordSignaturesScanned adds to the scanned signatures counter.
func RecordSignaturesScanned(n int) {
	DefaultMetrics.SignaturesScanned.Add(float64(n))
}

// RecordTransactionSampled increments the sampled transactions counter.
func RecordTransactionSampled() {
	DefaultMetrics.TransactionsSampled.Inc()
}

// RecordJournalWrite increments the journal write counter.
func RecordJournalWrite(backend, status string) {
	DefaultMetrics.JournalWrites.WithLabelValues(backend, status).Inc()
}

// ObserveJournalWriteDuration records a journal write duration.
func ObserveJournalWriteDuration(backend string, seconds float64) {
	DefaultMetrics.JournalWriteDuration.WithLabelValues(backend).Observe(seconds)
}

// RecordLastResolution updates the last successful resolution timestamp.
func RecordLastResolution(unixSeconds float64) {
	DefaultMetrics.LastSuccessfulResolution.Set(unixSeconds)
}
