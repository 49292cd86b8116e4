package validation

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "triagegarden"

var (
	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "probes_total",
			Help:      "Total probe calls by method and result status",
		},
		[]string{"method", "status"},
	)

	probeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "probe_duration_seconds",
			Help:      "Time to obtain a probe outcome, including retries",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	probeRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "probe_retries_total",
			Help:      "Total probe retries after a probe error",
		},
		[]string{"method"},
	)

	probePanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "probe_panics_total",
			Help:      "Total prober calls that panicked",
		},
		[]string{"method"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "runs_total",
			Help:      "Total system validation runs by outcome",
		},
		[]string{"outcome"},
	)

	activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "active_runs",
			Help:      "Number of system validation runs in flight",
		},
	)

	discrepanciesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "discrepancies_total",
			Help:      "Total discrepancies detected by category and severity",
		},
		[]string{"category", "severity"},
	)

	aggregationAnomalies = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "aggregation_anomalies_total",
			Help:      "Times a system aggregated to the unknown status",
		},
	)
)

func recordProbe(method, status string, duration time.Duration) {
	probesTotal.WithLabelValues(method, status).Inc()
	probeDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func recordProbeRetry(method string) {
	probeRetries.WithLabelValues(method).Inc()
}

func recordProbePanic(method string) {
	probePanics.WithLabelValues(method).Inc()
}

func recordRunStarted() {
	activeRuns.Inc()
}

func recordRunFinished(outcome string) {
	activeRuns.Dec()
	runsTotal.WithLabelValues(outcome).Inc()
}

func recordDiscrepancy(category, severity string) {
	discrepanciesTotal.WithLabelValues(category, severity).Inc()
}

func recordAggregationAnomaly() {
	aggregationAnomalies.Inc()
}
