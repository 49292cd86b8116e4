package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "triagegarden"

var (
	sessionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "sessions_created_total",
			Help:      "Total sessions created by scenario",
		},
		[]string{"scenario"},
	)

	sessionsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "sessions_deleted_total",
			Help:      "Total sessions removed from the recent list (deleted, cleared or evicted)",
		},
	)

	stepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "step_transitions_total",
			Help:      "Total step changes by target step",
		},
		[]string{"step"},
	)

	persistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "persist_failures_total",
			Help:      "Total failed writes of the session state",
		},
	)
)

func recordSessionCreated(tag string) {
	sessionsCreated.WithLabelValues(tag).Inc()
}

func recordSessionsDeleted(n int) {
	sessionsDeleted.Add(float64(n))
}

func recordStepTransition(step string) {
	stepTransitions.WithLabelValues(step).Inc()
}

func recordPersistFailure() {
	persistFailures.Inc()
}
