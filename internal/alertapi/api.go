// Package alertapi exposes the emergency-alert operations over HTTP.
package alertapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/tripguard/internal/alert"
	"github.com/linnemanlabs/tripguard/internal/alertquery"
	"github.com/linnemanlabs/tripguard/internal/geo"
)

// AlertService defines the lifecycle operations alertapi needs.
type AlertService interface {
	Trigger(ctx context.Context, in alert.TriggerInput, actor alert.Actor) (*alert.Alert, error)
	Get(ctx context.Context, id string) (*alert.Alert, error)
	Transition(ctx context.Context, id string, to alert.Status, actor alert.Actor, extra alert.TransitionExtra) (*alert.Alert, error)
	Escalate(ctx context.Context, id string, actor alert.Actor) (*alert.Alert, error)
	AddContact(ctx context.Context, id string, in alert.ContactInput) (*alert.Alert, error)
}

// QueryService defines the read-side operations alertapi needs.
type QueryService interface {
	FindNearby(ctx context.Context, center geo.Point, radiusKm float64, statuses []alert.Status) ([]alertquery.NearbyAlert, error)
	Statistics(ctx context.Context, from, to time.Time) (*alertquery.Stats, error)
	Stale(ctx context.Context, thresholdMinutes int) ([]alertquery.StaleAlert, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger     log.Logger
	alerts     AlertService
	queries    QueryService
	middleware []func(http.Handler) http.Handler
	now        func() time.Time
}

// Option configures an API.
type Option func(*API)

// WithMiddleware wraps every API route, typically with authmw.BearerToken
// and authmw.Actor.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(a *API) { a.middleware = append(a.middleware, mw...) }
}

// WithClock overrides the clock used for default statistics windows.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

// New creates a new API handler.
func New(logger log.Logger, alerts AlertService, queries QueryService, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if alerts == nil {
		panic(xerrors.New("alert service is required"))
	}
	if queries == nil {
		panic(xerrors.New("query service is required"))
	}
	a := &API{
		logger:  logger,
		alerts:  alerts,
		queries: queries,
		now:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/alerts", func(r chi.Router) {
		r.Use(a.middleware...)

		r.Post("/", a.handleTrigger)
		r.Get("/nearby", a.handleNearby)
		r.Get("/stats", a.handleStats)
		r.Get("/stale", a.handleStale)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.handleGet)
			r.Post("/status", a.handleTransition)
			r.Post("/escalate", a.handleEscalate)
			r.Post("/contacts", a.handleAddContact)
		})
	})
}
