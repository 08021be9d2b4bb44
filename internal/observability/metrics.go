package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sync engine. Components
// accept a nil *Metrics and skip recording, which also keeps unit tests
// away from the global registry.
type Metrics struct {
	// --- Event stream ---
	EventsApplied       *prometheus.CounterVec
	EventsDiscarded     *prometheus.CounterVec
	LastProcessedHeight prometheus.Gauge
	StreamInterruptions prometheus.Counter

	// --- Submissions ---
	Submissions     *prometheus.CounterVec
	GasEstimateDur  prometheus.Histogram
	SubmitDur       prometheus.Histogram

	// --- Bootstrap ---
	SnapshotDur      prometheus.Histogram
	SnapshotFailures prometheus.Counter

	// --- Observable state API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	rpcBuckets := []float64{
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
	}

	return &Metrics{
		EventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dbank_events_applied_total",
			Help: "Confirmed ledger events folded into facet state",
		}, []string{"topic"}),

		EventsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dbank_events_discarded_total",
			Help: "Events discarded by the demultiplexer (stale, foreign, undecodable, superseded)",
		}, []string{"reason"}),

		LastProcessedHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dbank_last_processed_height",
			Help: "Highest ledger height folded into local state",
		}),

		StreamInterruptions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dbank_stream_interruptions_total",
			Help: "Event subscription failures (engine degrades, no auto-resubscribe)",
		}),

		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dbank_submissions_total",
			Help: "Submission attempts by facet and terminal outcome",
		}, []string{"facet", "outcome"}),

		GasEstimateDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbank_gas_estimate_duration_seconds",
			Help:    "Node gas estimation latency",
			Buckets: rpcBuckets,
		}),

		SubmitDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbank_submit_duration_seconds",
			Help:    "Signed call submission latency (send only, not confirmation)",
			Buckets: rpcBuckets,
		}),

		SnapshotDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "dbank_snapshot_duration_seconds",
			Help:    "Bootstrap snapshot duration",
			Buckets: rpcBuckets,
		}),

		SnapshotFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "dbank_snapshot_failures_total",
			Help: "Incomplete bootstrap snapshots",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dbank_api_requests_total",
			Help: "Observable state API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbank_api_request_duration_seconds",
			Help:    "Observable state API latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// RecordDiscard counts one demux discard by reason.
func (m *Metrics) RecordDiscard(reason string) {
	if m == nil {
		return
	}
	m.EventsDiscarded.WithLabelValues(reason).Inc()
}

// RecordSubmission counts one submission attempt outcome.
func (m *Metrics) RecordSubmission(facet, outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(facet, outcome).Inc()
}
