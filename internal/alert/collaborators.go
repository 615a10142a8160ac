package alert

import (
	"context"
	"time"
)

// NoticeKind says why recipients are being notified.
type NoticeKind string

const (
	NoticeTriggered  NoticeKind = "triggered"
	NoticeEscalated  NoticeKind = "escalated"
	NoticeResolved   NoticeKind = "resolved"
	NoticeNewContact NoticeKind = "contact_added"
)

// Notifier fans notices out to contacts and emergency services. Both
// methods return immediately; delivery outcomes are written back through
// Store.SetDelivery and never reported to the caller.
type Notifier interface {
	NotifyContacts(ctx context.Context, a *Alert, indexes []int, kind NoticeKind)
	NotifyEmergencyServices(ctx context.Context, a *Alert, kind NoticeKind)
}

// Geocoder resolves a position to a human-readable address.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (Address, error)
}

// EventType names a lifecycle event.
type EventType string

const (
	EventTriggered     EventType = "alerts.triggered"
	EventEscalated     EventType = "alerts.escalated"
	EventStatusChanged EventType = "alerts.statusChanged"
	EventContactAdded  EventType = "alerts.contactAdded"
)

// Event is a lifecycle change published for external consumers.
type Event struct {
	Type       EventType `json:"type"`
	AlertID    string    `json:"alertId"`
	TripRef    string    `json:"tripReference"`
	Actor      string    `json:"actor,omitempty"`
	Status     Status    `json:"status"`
	Severity   Severity  `json:"severity"`
	Priority   int       `json:"priority"`
	PrevStatus Status    `json:"previousStatus,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// EventPublisher emits lifecycle events. Publish failures are logged by the
// service and never fail the operation.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

type nopNotifier struct{}

func (nopNotifier) NotifyContacts(context.Context, *Alert, []int, NoticeKind)   {}
func (nopNotifier) NotifyEmergencyServices(context.Context, *Alert, NoticeKind) {}

func newEvent(t EventType, a *Alert, actor string, now time.Time) Event {
	return Event{
		Type:       t,
		AlertID:    a.ID,
		TripRef:    a.TripReference,
		Actor:      actor,
		Status:     a.Status,
		Severity:   a.Severity,
		Priority:   a.Priority,
		OccurredAt: now,
	}
}
