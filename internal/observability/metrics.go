package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_dq"

// Metrics holds the Prometheus collectors for the quality pipeline.
type Metrics struct {
	BatchRunning  prometheus.Gauge
	BatchRuns     *prometheus.CounterVec // labels: overall={completed,failed}
	BatchDuration prometheus.Histogram

	// Fetch metrics. One observation per attempt, not per location.
	FetchAttempts        *prometheus.CounterVec   // labels: outcome
	FetchAttemptDuration *prometheus.HistogramVec // labels: outcome
	LocationsFailed      *prometheus.CounterVec   // labels: reason

	RecordsEvaluated prometheus.Counter
	Findings         *prometheus.CounterVec // labels: severity={critical,warning,info,anomaly}
	QualityScore     prometheus.Histogram

	StatsSeries prometheus.Gauge
	SinkErrors  *prometheus.CounterVec // labels: sink={raw,staging,mart,report,stats,alert}
}

func newMetrics() *Metrics {
	return &Metrics{
		BatchRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_running",
			Help:      "1 while a batch is being evaluated.",
		}),
		BatchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Completed batch runs by overall outcome.",
		}, []string{"overall"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a full batch run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Provider fetch attempts by outcome.",
		}, []string{"outcome"}),
		FetchAttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_attempt_duration_seconds",
			Help:      "Duration of a single provider fetch attempt.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),
		LocationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locations_failed_total",
			Help:      "Locations that produced no records, by reason.",
		}, []string{"reason"}),
		RecordsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_evaluated_total",
			Help:      "Canonical records scored.",
		}),
		Findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Distinct flags attached to records, by severity.",
		}, []string{"severity"}),
		QualityScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quality_score",
			Help:      "Distribution of per-record quality scores.",
			Buckets:   []float64{0, 20, 40, 60, 70, 80, 85, 90, 95, 100},
		}),
		StatsSeries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stats_series",
			Help:      "Number of (location, field) series in the rolling statistics store.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed writes to outbound sinks.",
		}, []string{"sink"}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.BatchRunning,
		m.BatchRuns,
		m.BatchDuration,
		m.FetchAttempts,
		m.FetchAttemptDuration,
		m.LocationsFailed,
		m.RecordsEvaluated,
		m.Findings,
		m.QualityScore,
		m.StatsSeries,
		m.SinkErrors,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
