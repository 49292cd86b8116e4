package alerting

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "triagegarden"

var (
	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "alerts_total",
			Help:      "Total discrepancies seen by the notifier by outcome",
		},
		[]string{"outcome"},
	)

	alertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "sent_total",
			Help:      "Total alert delivery attempts by sender and status",
		},
		[]string{"sender", "status"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver an alert, including retries",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"sender"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "queue_depth",
			Help:      "Number of alerts waiting for delivery by queue",
		},
		[]string{"queue"},
	)
)

func recordAlert(outcome string) {
	alertsTotal.WithLabelValues(outcome).Inc()
}

func recordAlertSent(sender, status string) {
	alertsSent.WithLabelValues(sender, status).Inc()
}

func recordSendDuration(sender string, d time.Duration) {
	sendDuration.WithLabelValues(sender).Observe(d.Seconds())
}

func recordQueueDepth(queue string, n int) {
	queueDepth.WithLabelValues(queue).Set(float64(n))
}
