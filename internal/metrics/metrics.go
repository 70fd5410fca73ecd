// Package metrics exposes Prometheus instrumentation for sync runs.
//
// All methods are nil-safe so components can be built without metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the sync engine.
type Metrics struct {
	// Runs by outcome: "completed", "aborted"
	Runs *prometheus.CounterVec

	// Run wall time
	RunDuration prometheus.Histogram

	// Documents by stage ("planned", "amendment", "promotion", "merge") and
	// result ("staged", "unchanged", "failed", "vanished", "merged")
	Documents *prometheus.CounterVec

	// Remote call latency by operation ("list", "fetch", "fingerprint")
	FetchLatency *prometheus.HistogramVec

	// Remote call retries by operation
	Retries *prometheus.CounterVec

	// Current draft registry size
	Drafts prometheus.Gauge

	// Unix time of the last completed run
	LastSuccess prometheus.Gauge
}

// New registers all metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corpussync_runs_total",
			Help: "Total sync runs by outcome",
		}, []string{"outcome"}),

		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpussync_run_duration_seconds",
			Help:    "Duration of complete sync runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		Documents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corpussync_documents_total",
			Help: "Documents processed by stage and result",
		}, []string{"stage", "result"}),

		FetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corpussync_remote_call_duration_seconds",
			Help:    "Duration of registry calls by operation",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),

		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corpussync_remote_call_retries_total",
			Help: "Registry call retries after transient failures",
		}, []string{"op"}),

		Drafts: f.NewGauge(prometheus.GaugeOpts{
			Name: "corpussync_draft_registry_size",
			Help: "Number of documents tracked as drafts",
		}),

		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "corpussync_last_success_timestamp_seconds",
			Help: "Unix time of the last completed run",
		}),
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(outcome string, d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
	if outcome == "completed" {
		m.LastSuccess.Set(float64(finished.Unix()))
	}
}

// IncDocument counts one document outcome.
func (m *Metrics) IncDocument(stage, result string) {
	if m != nil {
		m.Documents.WithLabelValues(stage, result).Inc()
	}
}

// ObserveRemoteCall records the duration of one registry call attempt.
func (m *Metrics) ObserveRemoteCall(op string, d time.Duration) {
	if m != nil {
		m.FetchLatency.WithLabelValues(op).Observe(d.Seconds())
	}
}

// IncRetry counts a retry of op.
func (m *Metrics) IncRetry(op string) {
	if m != nil {
		m.Retries.WithLabelValues(op).Inc()
	}
}

// SetDrafts records the registry size.
func (m *Metrics) SetDrafts(n int) {
	if m != nil {
		m.Drafts.Set(float64(n))
	}
}
