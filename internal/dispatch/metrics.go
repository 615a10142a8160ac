package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for notification delivery.
type Metrics struct {
	SendsTotal     *prometheus.CounterVec
	EmergencyTotal *prometheus.CounterVec
	RetriesTotal   prometheus.Counter
	SendDuration   prometheus.Histogram
	InFlight       prometheus.Gauge
}

// NewMetrics registers and returns dispatch metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripguard_notifications_total",
			Help: "Contact notifications by notice kind and final result.",
		}, []string{"kind", "result"}),
		EmergencyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripguard_emergency_notifications_total",
			Help: "Emergency-service notifications by notice kind and final result.",
		}, []string{"kind", "result"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripguard_notification_retries_total",
			Help: "Notification attempts that failed and were rescheduled.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tripguard_notification_attempt_duration_seconds",
			Help:    "Duration of individual delivery attempts in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 9), // 50ms .. ~12.8s
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tripguard_notifications_in_flight",
			Help: "Delivery attempts currently holding a send slot.",
		}),
	}

	reg.MustRegister(
		m.SendsTotal,
		m.EmergencyTotal,
		m.RetriesTotal,
		m.SendDuration,
		m.InFlight,
	)

	return m
}
