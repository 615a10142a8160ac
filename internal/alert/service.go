package alert

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/tripguard/internal/geo"
)

const (
	tracerName = "github.com/linnemanlabs/tripguard/internal/alert"

	maxCASAttempts        = 3
	defaultGeocodeTimeout = 3 * time.Second
)

// TransitionPolicy decides whether actor may move a to status to.
type TransitionPolicy func(a *Alert, actor Actor, to Status) bool

// OwnerOnly admits only the actor who triggered the alert.
func OwnerOnly(a *Alert, actor Actor, _ Status) bool {
	return actor.ID != "" && actor.ID == a.TriggeredBy
}

// Option configures a Service.
type Option func(*Service)

// WithGeocoder enables best-effort reverse geocoding at trigger time.
// A non-positive timeout uses the default of 3s.
func WithGeocoder(g Geocoder, timeout time.Duration) Option {
	return func(s *Service) {
		s.geocoder = g
		if timeout > 0 {
			s.geocodeTimeout = timeout
		}
	}
}

// WithPublisher sets the lifecycle event sink.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRegion sets the operating region used for the soft position check.
func WithRegion(r geo.Region) Option {
	return func(s *Service) { s.region = r }
}

// WithTransitionPolicy replaces OwnerOnly.
func WithTransitionPolicy(p TransitionPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the business boundary for alert operations.
type Service struct {
	store          Store
	notifier       Notifier
	logger         log.Logger
	geocoder       Geocoder
	geocodeTimeout time.Duration
	publisher      EventPublisher
	metrics        *Metrics
	region         geo.Region
	policy         TransitionPolicy
	now            func() time.Time
}

// NewService creates a new alert service. A nil notifier drops all notices.
func NewService(store Store, notifier Notifier, logger log.Logger, opts ...Option) *Service {
	if store == nil {
		panic(xerrors.New("alert store is required"))
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		store:          store,
		notifier:       notifier,
		logger:         logger,
		geocodeTimeout: defaultGeocodeTimeout,
		region:         geo.DefaultRegion,
		policy:         OwnerOnly,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Trigger validates in, creates an ACTIVE alert for the trip and schedules
// contact and emergency-service notification. It fails with ErrConflict
// when the trip already has an open alert.
func (s *Service) Trigger(ctx context.Context, in TriggerInput, actor Actor) (a *Alert, err error) {
	ctx, span := startSpan(ctx, "alert.Trigger",
		attribute.String("tripguard.trip.reference", in.TripReference),
	)
	defer func() {
		finishSpan(span, err)
		if s.metrics != nil {
			cat := in.Category
			if !cat.Valid() {
				cat = "unknown"
			}
			s.metrics.TriggersTotal.WithLabelValues(string(cat), resultLabel(err)).Inc()
		}
	}()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := ValidateTrigger(&in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a = &Alert{
		ID:            ulid.Make().String(),
		TripReference: in.TripReference,
		TriggeredBy:   actor.ID,
		Position:      *in.Position,
		Category:      in.Category,
		Description:   in.Description,
		Severity:      in.Severity,
		Priority:      ComputePriority(in.Category, in.Severity),
		Occupants:     in.Occupants,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	for _, c := range in.Contacts {
		a.NotifiedContacts = append(a.NotifiedContacts, Contact{
			Name:           c.Name,
			Phone:          c.Phone,
			Relation:       c.Relation,
			DeliveryStatus: DeliveryPending,
		})
	}

	L := s.logger.With("alert_id", a.ID, "trip", a.TripReference)

	if !s.region.Contains(a.Position) {
		a.OutsideRegion = true
		L.Warn(ctx, "alert position outside operating region",
			"region", s.region.Name, "lat", a.Position.Lat, "lon", a.Position.Lon)
		if s.metrics != nil {
			s.metrics.OutsideRegionTotal.Inc()
		}
	}

	a.Address = s.reverseGeocode(ctx, L, a.Position)

	if err := s.store.Create(ctx, a); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, dependency("create alert", err)
	}

	span.SetAttributes(
		attribute.String("tripguard.alert.id", a.ID),
		attribute.String("tripguard.alert.severity", string(a.Severity)),
		attribute.Int("tripguard.alert.priority", a.Priority),
	)
	L.Info(ctx, "alert triggered",
		"category", a.Category,
		"severity", a.Severity,
		"priority", a.Priority,
		"contacts", len(a.NotifiedContacts),
	)

	s.publish(ctx, L, newEvent(EventTriggered, a, actor.ID, now))
	s.notifyContacts(ctx, a, allIndexes(a), NoticeTriggered)
	if a.IsCritical() {
		s.notifyEmergency(ctx, a, NoticeTriggered)
	}

	return a.Clone(), nil
}

// Transition moves an alert to status to, matched case-insensitively.
// Terminal targets require a resolution comment in extra.
func (s *Service) Transition(ctx context.Context, id string, to Status, actor Actor, extra TransitionExtra) (a *Alert, err error) {
	to = Status(strings.ToUpper(strings.TrimSpace(string(to))))
	ctx, span := startSpan(ctx, "alert.Transition",
		attribute.String("tripguard.alert.id", id),
		attribute.String("tripguard.alert.to", string(to)),
	)
	defer func() {
		finishSpan(span, err)
		if s.metrics != nil {
			s.metrics.TransitionsTotal.WithLabelValues(string(to), resultLabel(err)).Inc()
		}
	}()

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if !to.Valid() {
		to = "unknown"
		return nil, invalidInput("unknown status", "status")
	}

	var prev Status
	a, _, err = s.mutate(ctx, id, func(cur *Alert) (bool, error) {
		if !s.policy(cur, actor, to) {
			return false, newError(CodeForbidden, "actor may not change this alert")
		}
		if !CanTransition(cur.Status, to) {
			return false, newError(CodeInvalidTransition, string(cur.Status)+" -> "+string(to)+" is not allowed")
		}
		x := extra
		if err := ValidateResolution(to, &x); err != nil {
			return false, err
		}
		prev = cur.Status
		cur.Status = to
		if to.Terminal() {
			at := s.now().UTC()
			cur.ResolutionComment = x.Comment
			cur.ResolvedAt = &at
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	L := s.logger.With("alert_id", a.ID, "trip", a.TripReference)
	L.Info(ctx, "alert status changed", "from", prev, "to", a.Status, "actor", actor.ID)

	if rt, ok := a.ResponseTime(); ok && s.metrics != nil {
		s.metrics.ResolutionDuration.WithLabelValues(string(a.Status)).Observe(rt.Seconds())
	}

	ev := newEvent(EventStatusChanged, a, actor.ID, a.UpdatedAt)
	ev.PrevStatus = prev
	s.publish(ctx, L, ev)

	if a.Status == StatusResolved {
		s.notifyContacts(ctx, a, allIndexes(a), NoticeResolved)
	}
	return a.Clone(), nil
}

// Escalate raises severity one step and recomputes priority. Escalating a
// CRITICAL alert returns it unchanged without writing or notifying.
func (s *Service) Escalate(ctx context.Context, id string, actor Actor) (a *Alert, err error) {
	ctx, span := startSpan(ctx, "alert.Escalate", attribute.String("tripguard.alert.id", id))
	defer func() { finishSpan(span, err) }()

	if err := requireActor(actor); err != nil {
		return nil, err
	}

	a, changed, err := s.mutate(ctx, id, func(cur *Alert) (bool, error) {
		if cur.Status.Terminal() {
			return false, newError(CodeInvalidTransition, "cannot escalate a "+string(cur.Status)+" alert")
		}
		next := cur.Severity.Next()
		if next == cur.Severity {
			return false, nil
		}
		cur.Severity = next
		cur.Priority = ComputePriority(cur.Category, next)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return a, nil
	}

	if s.metrics != nil {
		s.metrics.EscalationsTotal.WithLabelValues(string(a.Severity)).Inc()
	}
	L := s.logger.With("alert_id", a.ID, "trip", a.TripReference)
	L.Info(ctx, "alert escalated", "severity", a.Severity, "priority", a.Priority, "actor", actor.ID)

	s.publish(ctx, L, newEvent(EventEscalated, a, actor.ID, a.UpdatedAt))
	s.notifyContacts(ctx, a, allIndexes(a), NoticeEscalated)
	if a.IsCritical() {
		s.notifyEmergency(ctx, a, NoticeEscalated)
	}
	return a.Clone(), nil
}

// AddContact appends a PENDING contact to an open alert and schedules a
// send to that contact only.
func (s *Service) AddContact(ctx context.Context, id string, in ContactInput) (a *Alert, err error) {
	ctx, span := startSpan(ctx, "alert.AddContact", attribute.String("tripguard.alert.id", id))
	defer func() {
		finishSpan(span, err)
		if s.metrics != nil {
			s.metrics.ContactsAdded.WithLabelValues(resultLabel(err)).Inc()
		}
	}()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status.Terminal() {
		return nil, newError(CodeInvalidTransition, "cannot add contacts to a "+string(cur.Status)+" alert")
	}
	if len(cur.NotifiedContacts) >= MaxContacts {
		return nil, newError(CodeLimitExceeded, "contact limit reached")
	}
	if err := ValidateContact(&in); err != nil {
		return nil, err
	}

	// the store re-checks the limit atomically against concurrent appends

	idx, err := s.store.AppendContact(ctx, id, Contact{
		Name:           in.Name,
		Phone:          in.Phone,
		Relation:       in.Relation,
		DeliveryStatus: DeliveryPending,
	}, MaxContacts)
	if err != nil {
		return nil, dependency("append contact", err)
	}

	a, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, dependency("load alert", err)
	}
	if !ok {
		return nil, newError(CodeNotFound, "alert not found")
	}

	L := s.logger.With("alert_id", a.ID, "trip", a.TripReference)
	L.Info(ctx, "contact added", "index", idx, "contacts", len(a.NotifiedContacts))

	s.publish(ctx, L, newEvent(EventContactAdded, a, "", s.now().UTC()))
	s.notifyContacts(ctx, a, []int{idx}, NoticeNewContact)
	return a, nil
}

// Get returns the alert with the given ID or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Alert, error) {
	a, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, dependency("load alert", err)
	}
	if !ok {
		return nil, newError(CodeNotFound, "alert not found")
	}
	return a, nil
}

// mutate loads the alert, applies fn and writes it back with a version
// check, reloading on ErrStale. fn returning false means no write.
func (s *Service) mutate(ctx context.Context, id string, fn func(*Alert) (bool, error)) (*Alert, bool, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		a, err := s.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		changed, err := fn(a)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return a, false, nil
		}
		a.UpdatedAt = s.now().UTC()

		err = s.store.Update(ctx, a)
		if err == nil {
			return a, true, nil
		}
		if !errors.Is(err, ErrStale) {
			return nil, false, dependency("update alert", err)
		}
		if s.metrics != nil {
			s.metrics.CASRetriesTotal.Inc()
		}
		s.logger.Warn(ctx, "stale alert version, retrying", "alert_id", id, "attempt", attempt)
	}
	return nil, false, &Error{Code: CodeConflict, Message: "alert was modified concurrently", Err: ErrStale}
}

func (s *Service) reverseGeocode(ctx context.Context, L log.Logger, p geo.Point) *Address {
	if s.geocoder == nil {
		return nil
	}
	gctx, cancel := context.WithTimeout(ctx, s.geocodeTimeout)
	defer cancel()

	addr, err := s.geocoder.Reverse(gctx, p.Lat, p.Lon)
	if err != nil {
		L.Warn(ctx, "reverse geocoding failed", "err", err)
		if s.metrics != nil {
			s.metrics.GeocodeFailures.Inc()
		}
		return nil
	}
	if addr.Address == "" && addr.Locality == "" {
		return nil
	}
	return &addr
}

func (s *Service) publish(ctx context.Context, L log.Logger, e Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), e); err != nil {
		L.Error(ctx, err, "failed to publish alert event", "type", e.Type)
	}
}

// notifyContacts and notifyEmergency hand a private copy to the notifier so
// delivery goroutines never share the caller's alert.
func (s *Service) notifyContacts(ctx context.Context, a *Alert, indexes []int, kind NoticeKind) {
	if len(indexes) == 0 {
		return
	}
	s.notifier.NotifyContacts(context.WithoutCancel(ctx), a.Clone(), indexes, kind)
}

func (s *Service) notifyEmergency(ctx context.Context, a *Alert, kind NoticeKind) {
	s.notifier.NotifyEmergencyServices(context.WithoutCancel(ctx), a.Clone(), kind)
}

func allIndexes(a *Alert) []int {
	idx := make([]int, len(a.NotifiedContacts))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func requireActor(actor Actor) error {
	if actor.ID == "" {
		return newError(CodeForbidden, "actor identity is required")
	}
	return nil
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
