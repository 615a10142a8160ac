package alert

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the alert lifecycle.
type Metrics struct {
	TriggersTotal      *prometheus.CounterVec
	TransitionsTotal   *prometheus.CounterVec
	EscalationsTotal   *prometheus.CounterVec
	ContactsAdded      *prometheus.CounterVec
	OutsideRegionTotal prometheus.Counter
	GeocodeFailures    prometheus.Counter
	CASRetriesTotal    prometheus.Counter
	ResolutionDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns alert metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripguard_alert_triggers_total",
			Help: "Alert trigger attempts by category and result.",
		}, []string{"category", "result"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripguard_alert_transitions_total",
			Help: "Status transitions by target status and result.",
		}, []string{"to", "result"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripguard_alert_escalations_total",
			Help: "Escalation requests by resulting severity.",
		}, []string{"severity"}),
		ContactsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tripguard_alert_contacts_added_total",
			Help: "Contacts appended after creation by result.",
		}, []string{"result"}),
		OutsideRegionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripguard_alert_outside_region_total",
			Help: "Alerts triggered outside the operating region.",
		}),
		GeocodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripguard_alert_geocode_failures_total",
			Help: "Reverse geocoding lookups that failed or timed out.",
		}),
		CASRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tripguard_alert_cas_retries_total",
			Help: "Optimistic concurrency retries after a stale version.",
		}),
		ResolutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tripguard_alert_resolution_seconds",
			Help:    "Time from trigger to terminal status in seconds.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s .. ~4h
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.TriggersTotal,
		m.TransitionsTotal,
		m.EscalationsTotal,
		m.ContactsAdded,
		m.OutsideRegionTotal,
		m.GeocodeFailures,
		m.CASRetriesTotal,
		m.ResolutionDuration,
	)

	return m
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if c := CodeOf(err); c != "" {
		return string(c)
	}
	return "error"
}
