package alert

import (
	"time"

	"github.com/linnemanlabs/tripguard/internal/geo"
)

// Status tracks where an alert is in its lifecycle.
type Status string

const (
	// StatusActive means raised and awaiting handling
	StatusActive Status = "ACTIVE"

	// StatusInProgress means an operator or responder is handling it
	StatusInProgress Status = "IN_PROGRESS"

	// StatusResolved means handled; terminal
	StatusResolved Status = "RESOLVED"

	// StatusFalseAlarm means dismissed as not a real emergency; terminal
	StatusFalseAlarm Status = "FALSE_ALARM"
)

// Category is the kind of emergency. Immutable after creation.
type Category string

const (
	CategorySOS        Category = "SOS"
	CategoryAccident   Category = "ACCIDENT"
	CategoryAggression Category = "AGGRESSION"
	CategoryBreakdown  Category = "BREAKDOWN"
	CategoryMedical    Category = "MEDICAL"
	CategoryOther      Category = "OTHER"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategorySOS, CategoryAccident, CategoryAggression,
	CategoryBreakdown, CategoryMedical, CategoryOther,
}

// Severity is the danger tier. It only ever moves upward.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists every severity from lowest to highest.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityCritical}

// DeliveryStatus is the per-contact notification outcome.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "PENDING"
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
)

// Bounds on the collections carried by an alert.
const (
	MaxOccupants = 8
	MaxContacts  = 20
)

// Actor is the already-authenticated identity performing an operation.
type Actor struct {
	ID string `json:"id"`
}

// Occupant is a person in the vehicle when the alert was raised.
type Occupant struct {
	Identity string `json:"identity,omitempty"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

// Contact is someone notified about the alert.
type Contact struct {
	Name           string         `json:"name"`
	Phone          string         `json:"phone"`
	Relation       string         `json:"relation,omitempty"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus"`
	NotifiedAt     *time.Time     `json:"notifiedAt,omitempty"`
	Attempts       int            `json:"attempts,omitempty"`
}

// Address is best-effort reverse-geocoding output for the alert position.
type Address struct {
	Address  string `json:"address,omitempty"`
	Locality string `json:"locality,omitempty"`
}

// Alert is a single emergency report bound to one trip.
type Alert struct {
	ID                string     `json:"id"`
	TripReference     string     `json:"tripReference"`
	TriggeredBy       string     `json:"triggeredBy"`
	Position          geo.Point  `json:"position"`
	OutsideRegion     bool       `json:"outsideRegion,omitempty"`
	Address           *Address   `json:"address,omitempty"`
	Category          Category   `json:"category"`
	Description       string     `json:"description"`
	Severity          Severity   `json:"severity"`
	Priority          int        `json:"priority"`
	Occupants         []Occupant `json:"occupants"`
	NotifiedContacts  []Contact  `json:"notifiedContacts"`
	Status            Status     `json:"status"`
	ResolutionComment string     `json:"resolutionComment,omitempty"`
	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	Version           int        `json:"version"`
}

// Clone returns a deep copy so stores and callers never share slices.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Occupants = append([]Occupant(nil), a.Occupants...)
	cp.NotifiedContacts = make([]Contact, len(a.NotifiedContacts))
	for i, c := range a.NotifiedContacts {
		if c.NotifiedAt != nil {
			t := *c.NotifiedAt
			c.NotifiedAt = &t
		}
		cp.NotifiedContacts[i] = c
	}
	if a.Address != nil {
		addr := *a.Address
		cp.Address = &addr
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// IsOpen reports whether the alert still counts against its trip's
// one-open-alert limit.
func (a *Alert) IsOpen() bool {
	return a.Status.Open()
}

// IsCritical gates emergency-service notification.
func (a *Alert) IsCritical() bool {
	return IsCritical(a.Severity, a.Priority)
}

// Age is the time elapsed since creation.
func (a *Alert) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}

// ResponseTime is the time from creation to resolution. ok is false while
// the alert is still open.
func (a *Alert) ResponseTime() (d time.Duration, ok bool) {
	if a.ResolvedAt == nil {
		return 0, false
	}
	return a.ResolvedAt.Sub(a.CreatedAt), true
}
