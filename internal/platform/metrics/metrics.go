package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	TransitionsValidated *prometheus.CounterVec
	NotificationsCreated prometheus.Counter
	DeliveriesSent       *prometheus.CounterVec
	DeliveriesFailed     *prometheus.CounterVec
	DeliveriesRetried    prometheus.Counter
	QueueDepth           prometheus.Gauge
	QueueLagMinutes      prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		TransitionsValidated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mgc_audits_transitions_validated_total",
			Help: "Status transition validations by outcome (accepted, rejected).",
		}, []string{"outcome"}),
		NotificationsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mgc_audits_notifications_created_total",
			Help: "Total notifications persisted by the factory.",
		}),
		DeliveriesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mgc_audits_deliveries_sent_total",
			Help: "Successful channel deliveries by channel.",
		}, []string{"channel"}),
		DeliveriesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mgc_audits_deliveries_failed_total",
			Help: "Failed channel delivery attempts by channel.",
		}, []string{"channel"}),
		DeliveriesRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mgc_audits_deliveries_retried_total",
			Help: "Queue rows rescheduled by the retry sweep.",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mgc_audits_queue_depth",
			Help: "Pending delivery queue rows at the last stats read.",
		}),
		QueueLagMinutes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "mgc_audits_queue_lag_minutes",
			Help: "Minutes since the oldest pending queue row became due.",
		}),
	}
}
