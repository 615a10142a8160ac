// Package memstore provides an in-memory implementation of alert.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/tripguard/internal/alert"
	"github.com/linnemanlabs/tripguard/internal/geo"
)

// Store holds alerts in memory. Suitable for dev/testing.
type Store struct {
	mu     sync.RWMutex
	alerts map[string]*alert.Alert // alert ID -> alert
	open   map[string]string       // trip reference -> ID of its open alert
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		alerts: make(map[string]*alert.Alert),
		open:   make(map[string]string),
	}
}

// Get retrieves an alert by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*alert.Alert, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

// Create stores a copy of a unless its trip already has an open alert.
func (s *Store) Create(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; ok {
		return &alert.Error{Code: alert.CodeConflict, Message: "alert id already exists"}
	}
	if existing, ok := s.open[a.TripReference]; ok {
		return &alert.Error{Code: alert.CodeConflict, Message: "trip already has an open alert " + existing}
	}
	s.alerts[a.ID] = a.Clone()
	if a.IsOpen() {
		s.open[a.TripReference] = a.ID
	}
	return nil
}

// Update writes the lifecycle fields of a if its version is current.
func (s *Store) Update(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.alerts[a.ID]
	if !ok {
		return &alert.Error{Code: alert.CodeNotFound, Message: "alert not found"}
	}
	if cur.Version != a.Version {
		return alert.ErrStale
	}

	cur.Status = a.Status
	cur.Severity = a.Severity
	cur.Priority = a.Priority
	cur.ResolutionComment = a.ResolutionComment
	cur.ResolvedAt = nil
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cur.ResolvedAt = &t
	}
	cur.UpdatedAt = a.UpdatedAt
	cur.Version++
	a.Version = cur.Version

	if !cur.IsOpen() && s.open[cur.TripReference] == cur.ID {
		delete(s.open, cur.TripReference)
	}
	return nil
}

// AppendContact adds c to the alert's contact list if it holds fewer than
// limit entries.
func (s *Store) AppendContact(_ context.Context, id string, c alert.Contact, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.alerts[id]
	if !ok {
		return 0, &alert.Error{Code: alert.CodeNotFound, Message: "alert not found"}
	}
	if len(cur.NotifiedContacts) >= limit {
		return 0, &alert.Error{Code: alert.CodeLimitExceeded, Message: "contact limit reached"}
	}
	cur.NotifiedContacts = append(cur.NotifiedContacts, c)
	return len(cur.NotifiedContacts) - 1, nil
}

// SetDelivery updates the delivery fields of one contact entry.
func (s *Store) SetDelivery(_ context.Context, id string, index int, status alert.DeliveryStatus, at time.Time, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.alerts[id]
	if !ok {
		return &alert.Error{Code: alert.CodeNotFound, Message: "alert not found"}
	}
	if index < 0 || index >= len(cur.NotifiedContacts) {
		return &alert.Error{Code: alert.CodeNotFound, Message: "contact not found"}
	}
	c := &cur.NotifiedContacts[index]
	c.DeliveryStatus = status
	c.NotifiedAt = &at
	c.Attempts = attempts
	return nil
}

// Within returns alerts inside box with one of the given statuses.
func (s *Store) Within(_ context.Context, box geo.Box, statuses []alert.Status) ([]*alert.Alert, error) {
	return s.filter(func(a *alert.Alert) bool {
		return box.Contains(a.Position) && hasStatus(statuses, a.Status)
	}), nil
}

// CreatedBetween returns alerts created in [from, to).
func (s *Store) CreatedBetween(_ context.Context, from, to time.Time) ([]*alert.Alert, error) {
	return s.filter(func(a *alert.Alert) bool {
		return !a.CreatedAt.Before(from) && a.CreatedAt.Before(to)
	}), nil
}

// ListByStatusBefore returns alerts with status created before cutoff.
func (s *Store) ListByStatusBefore(_ context.Context, status alert.Status, cutoff time.Time) ([]*alert.Alert, error) {
	return s.filter(func(a *alert.Alert) bool {
		return a.Status == status && a.CreatedAt.Before(cutoff)
	}), nil
}

// filter returns copies of matching alerts ordered by creation time.
func (s *Store) filter(keep func(*alert.Alert) bool) []*alert.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*alert.Alert
	for _, a := range s.alerts {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func hasStatus(statuses []alert.Status, s alert.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
