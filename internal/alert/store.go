package alert

import (
	"context"
	"time"

	"github.com/linnemanlabs/tripguard/internal/geo"
)

// Store is the persistence interface for alerts.
//
// Create must be atomic with respect to the one-open-alert-per-trip rule:
// when another alert for the same TripReference is ACTIVE or IN_PROGRESS it
// returns an error matching ErrConflict and stores nothing.
//
// Update is a compare-and-swap on Version. It writes the mutable lifecycle
// fields only (status, severity, priority, resolution, updatedAt), bumps
// a.Version on success, and returns ErrStale when the stored version moved.
type Store interface {
	Get(ctx context.Context, id string) (*Alert, bool, error)
	Create(ctx context.Context, a *Alert) error
	Update(ctx context.Context, a *Alert) error

	// AppendContact adds c to the alert's contact list unless it already
	// holds limit entries, returning the new entry's index.
	AppendContact(ctx context.Context, id string, c Contact, limit int) (index int, err error)

	// SetDelivery updates the delivery fields of a single contact entry.
	SetDelivery(ctx context.Context, id string, index int, status DeliveryStatus, at time.Time, attempts int) error

	// Within returns alerts whose position falls inside box and whose
	// status is one of statuses.
	Within(ctx context.Context, box geo.Box, statuses []Status) ([]*Alert, error)

	// CreatedBetween returns alerts created in [from, to).
	CreatedBetween(ctx context.Context, from, to time.Time) ([]*Alert, error)

	// ListByStatusBefore returns alerts with the given status created
	// before cutoff, oldest first.
	ListByStatusBefore(ctx context.Context, status Status, cutoff time.Time) ([]*Alert, error)
}
