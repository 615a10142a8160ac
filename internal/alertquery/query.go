// Package alertquery is the read side of the alert subsystem: proximity
// search over open alerts, windowed statistics and stale-alert listing.
// Nothing here mutates an alert.
package alertquery

import (
	"context"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/tripguard/internal/alert"
	"github.com/linnemanlabs/tripguard/internal/geo"
)

const tracerName = "github.com/linnemanlabs/tripguard/internal/alertquery"

const (
	// MaxRadiusKm bounds FindNearby.
	MaxRadiusKm = 500.0

	// DefaultStaleMinutes is used when Stale is called with 0 and no
	// WithStaleThreshold option was given.
	DefaultStaleMinutes = 120

	maxWindow = 366 * 24 * time.Hour
)

// Store is the subset of alert.Store the query layer reads from.
type Store interface {
	Within(ctx context.Context, box geo.Box, statuses []alert.Status) ([]*alert.Alert, error)
	CreatedBetween(ctx context.Context, from, to time.Time) ([]*alert.Alert, error)
	ListByStatusBefore(ctx context.Context, status alert.Status, cutoff time.Time) ([]*alert.Alert, error)
}

// Service answers read-only alert queries.
type Service struct {
	store        Store
	logger       log.Logger
	now          func() time.Time
	staleMinutes int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStaleThreshold sets the threshold Stale uses when called with 0.
func WithStaleThreshold(minutes int) Option {
	return func(s *Service) {
		if minutes > 0 {
			s.staleMinutes = minutes
		}
	}
}

// New creates a query Service.
func New(store Store, logger log.Logger, opts ...Option) *Service {
	if store == nil {
		panic(xerrors.New("alert store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{store: store, logger: logger, now: time.Now, staleMinutes: DefaultStaleMinutes}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NearbyAlert is an alert annotated with its distance from the query point.
type NearbyAlert struct {
	*alert.Alert
	DistanceKm float64 `json:"distanceKm"`
}

// FindNearby returns alerts within radiusKm of center whose status is one of
// statuses (ACTIVE and IN_PROGRESS when empty), highest priority first and
// oldest first within a priority.
func (s *Service) FindNearby(ctx context.Context, center geo.Point, radiusKm float64, statuses []alert.Status) (out []NearbyAlert, err error) {
	ctx, span := startSpan(ctx, "alertquery.FindNearby",
		attribute.Float64("tripguard.query.radius_km", radiusKm),
	)
	defer func() { finishSpan(span, err) }()

	var fields []string
	if center.Validate() != nil {
		fields = append(fields, "position")
	}
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) || radiusKm < 0 || radiusKm > MaxRadiusKm {
		fields = append(fields, "radiusKm")
	}
	if len(statuses) == 0 {
		statuses = alert.OpenStatuses
	}
	for _, st := range statuses {
		if !st.Valid() {
			fields = append(fields, "status")
			break
		}
	}
	if len(fields) > 0 {
		return nil, &alert.Error{Code: alert.CodeInvalidInput, Message: "invalid proximity query", Fields: fields}
	}

	candidates, err := s.store.Within(ctx, geo.BoundingBox(center, radiusKm), statuses)
	if err != nil {
		return nil, dependency("query alerts near position", err)
	}

	out = make([]NearbyAlert, 0, len(candidates))
	for _, a := range candidates {
		d := geo.DistanceKm(center, a.Position)
		if d > radiusKm {
			continue
		}
		out = append(out, NearbyAlert{Alert: a, DistanceKm: geo.Round2(d)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	span.SetAttributes(
		attribute.Int("tripguard.query.candidates", len(candidates)),
		attribute.Int("tripguard.query.results", len(out)),
	)
	return out, nil
}

// StaleAlert is an ACTIVE alert annotated with its age.
type StaleAlert struct {
	*alert.Alert
	AgeMinutes int `json:"ageMinutes"`
}

// Stale lists ACTIVE alerts older than thresholdMinutes, oldest first.
// Zero means the configured default. It never changes an alert's status.
func (s *Service) Stale(ctx context.Context, thresholdMinutes int) (out []StaleAlert, err error) {
	ctx, span := startSpan(ctx, "alertquery.Stale")
	defer func() { finishSpan(span, err) }()

	if thresholdMinutes < 0 {
		return nil, &alert.Error{Code: alert.CodeInvalidInput, Message: "threshold must not be negative", Fields: []string{"thresholdMinutes"}}
	}
	if thresholdMinutes == 0 {
		thresholdMinutes = s.staleMinutes
	}
	span.SetAttributes(attribute.Int("tripguard.query.threshold_minutes", thresholdMinutes))

	now := s.now()
	cutoff := now.Add(-time.Duration(thresholdMinutes) * time.Minute)
	list, err := s.store.ListByStatusBefore(ctx, alert.StatusActive, cutoff)
	if err != nil {
		return nil, dependency("list stale alerts", err)
	}

	out = make([]StaleAlert, 0, len(list))
	for _, a := range list {
		out = append(out, StaleAlert{Alert: a, AgeMinutes: int(a.Age(now) / time.Minute)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if len(out) > 0 {
		s.logger.Info(ctx, "stale alerts found", "count", len(out), "threshold_minutes", thresholdMinutes)
	}
	return out, nil
}

func dependency(op string, err error) error {
	if alert.CodeOf(err) != "" {
		return err
	}
	return &alert.Error{Code: alert.CodeDependencyFailure, Message: op, Err: err}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
