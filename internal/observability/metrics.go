// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indexer.
type Metrics struct {
	// Ingestion metrics
	EventsReceived      *prometheus.CounterVec
	EventsRecorded      *prometheus.CounterVec
	EventsDuplicate     prometheus.Counter
	NormalizationErrors *prometheus.CounterVec
	EventsReconciled    *prometheus.CounterVec
	ReconcileRetries    prometheus.Counter
	EventsDeadLettered  prometheus.Counter

	// Buffer metrics
	SlotBufferSize  prometheus.Gauge
	HighestSlotSeen prometheus.Gauge

	// Latency metrics
	EventProcessingLatency *prometheus.HistogramVec
	WSMessageLatency       prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lending_indexer"
	}

	return &Metrics{
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_received_total",
			Help:      "Total number of raw event deliveries received by kind",
		}, []string{"kind"}),
		EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_recorded_total",
			Help:      "Total number of events newly appended to the event log by kind",
		}, []string{"kind"}),
		EventsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_duplicate_total",
			Help:      "Total number of redelivered signatures rejected by the event log",
		}),
		NormalizationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "normalization_errors_total",
			Help:      "Total number of malformed payloads rejected by the normalizer by kind",
		}, []string{"kind"}),
		EventsReconciled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_reconciled_total",
			Help:      "Total number of events applied to materialized state by kind",
		}, []string{"kind"}),
		ReconcileRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "reconcile_retries_total",
			Help:      "Total number of reconcile attempts retried after a storage error",
		}),
		EventsDeadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_dead_lettered_total",
			Help:      "Total number of events dropped after exhausting reconcile retries",
		}),

		SlotBufferSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "slot_buffer_size",
			Help:      "Current number of slots held in the ordering buffer",
		}),
		HighestSlotSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),

		EventProcessingLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_processing_latency_seconds",
			Help:      "End-to-end event processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		WSMessageLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_message_latency_seconds",
			Help:      "WebSocket message processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulIngestion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of the last successfully processed event",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordReceived increments the received counter for one delivery.
func RecordReceived(kind string) {
	DefaultMetrics.EventsReceived.WithLabelValues(kind).Inc()
}

// RecordRecorded increments the recorded counter for a fresh append.
func RecordRecorded(kind string) {
	DefaultMetrics.EventsRecorded.WithLabelValues(kind).Inc()
}

// RecordDuplicate increments the redelivery counter.
func RecordDuplicate() {
	DefaultMetrics.EventsDuplicate.Inc()
}

// RecordNormalizationError increments the malformed-payload counter.
func RecordNormalizationError(kind string) {
	DefaultMetrics.NormalizationErrors.WithLabelValues(kind).Inc()
}

// RecordReconciled increments the reconciled counter.
func RecordReconciled(kind string) {
	DefaultMetrics.EventsReconciled.WithLabelValues(kind).Inc()
}

// RecordReconcileRetry increments the retry counter.
func RecordReconcileRetry() {
	DefaultMetrics.ReconcileRetries.Inc()
}

// RecordDeadLetter increments the dead-letter counter.
func RecordDeadLetter() {
	DefaultMetrics.EventsDeadLettered.Inc()
}

// UpdateBufferSize updates the ordering buffer gauge.
func UpdateBufferSize(slots int) {
	DefaultMetrics.SlotBufferSize.Set(float64(slots))
}

// UpdateHighestSlot updates the highest slot seen gauge.
func UpdateHighestSlot(slot int64) {
	DefaultMetrics.HighestSlotSeen.Set(float64(slot))
}

// RecordProcessingLatency records end-to-end processing latency.
func RecordProcessingLatency(kind string, seconds float64) {
	DefaultMetrics.EventProcessingLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// MarkIngestionSuccess updates the last successful ingestion timestamp.
func MarkIngestionSuccess(unixSeconds int64) {
	DefaultMetrics.LastSuccessfulIngestion.Set(float64(unixSeconds))
}
