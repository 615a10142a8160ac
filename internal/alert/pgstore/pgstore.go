// Package pgstore provides a PostgreSQL implementation of alert.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/tripguard/internal/alert"
	"github.com/linnemanlabs/tripguard/internal/geo"
)

const tracerName = "github.com/linnemanlabs/tripguard/internal/alert/pgstore"

// pgUniqueViolation is SQLSTATE unique_violation.
const pgUniqueViolation = "23505"

//go:embed schema.sql
var schema string

// Store persists alerts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The caller owns pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const alertColumns = `id, trip_reference, triggered_by, lon, lat, outside_region, address,
	category, description, severity, priority, occupants, notified_contacts, status,
	resolution_comment, resolved_at, created_at, updated_at, version`

// Get retrieves an alert by ID.
func (s *Store) Get(ctx context.Context, id string) (a *alert.Alert, ok bool, err error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer func() { finishSpan(span, err) }()

	a, err = scanAlert(s.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// Create inserts a. The partial unique index on open alerts per trip turns
// a concurrent duplicate into a Conflict.
func (s *Store) Create(ctx context.Context, a *alert.Alert) (err error) {
	ctx, span := startSpan(ctx, "pgstore.Create", "INSERT")
	defer func() { finishSpan(span, err) }()

	occupants, err := json.Marshal(a.Occupants)
	if err != nil {
		return fmt.Errorf("marshal occupants: %w", err)
	}
	contacts := a.NotifiedContacts
	if contacts == nil {
		contacts = []alert.Contact{}
	}
	contactsJSON, err := json.Marshal(contacts)
	if err != nil {
		return fmt.Errorf("marshal contacts: %w", err)
	}
	var address []byte
	if a.Address != nil {
		if address, err = json.Marshal(a.Address); err != nil {
			return fmt.Errorf("marshal address: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		a.ID, a.TripReference, a.TriggeredBy, a.Position.Lon, a.Position.Lat, a.OutsideRegion, address,
		string(a.Category), a.Description, string(a.Severity), a.Priority, occupants, contactsJSON, string(a.Status),
		a.ResolutionComment, a.ResolvedAt, a.CreatedAt, a.UpdatedAt, a.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &alert.Error{Code: alert.CodeConflict, Message: "trip already has an open alert", Err: err}
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Update writes the lifecycle fields of a when its version is current.
func (s *Store) Update(ctx context.Context, a *alert.Alert) (err error) {
	ctx, span := startSpan(ctx, "pgstore.Update", "UPDATE")
	defer func() { finishSpan(span, err) }()

	var version int
	err = s.pool.QueryRow(ctx, `UPDATE alerts SET
			status = $3,
			severity = $4,
			priority = $5,
			resolution_comment = $6,
			resolved_at = $7,
			updated_at = $8,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`,
		a.ID, a.Version, string(a.Status), string(a.Severity), a.Priority,
		a.ResolutionComment, a.ResolvedAt, a.UpdatedAt,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missingOrStale(ctx, a.ID)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &alert.Error{Code: alert.CodeConflict, Message: "trip already has an open alert", Err: err}
		}
		return fmt.Errorf("update alert: %w", err)
	}
	a.Version = version
	return nil
}

// AppendContact appends c in a single statement guarded by the list length.
func (s *Store) AppendContact(ctx context.Context, id string, c alert.Contact, limit int) (idx int, err error) {
	ctx, span := startSpan(ctx, "pgstore.AppendContact", "UPDATE")
	defer func() { finishSpan(span, err) }()

	entry, err := json.Marshal([]alert.Contact{c})
	if err != nil {
		return 0, fmt.Errorf("marshal contact: %w", err)
	}

	var n int
	err = s.pool.QueryRow(ctx, `UPDATE alerts
		SET notified_contacts = notified_contacts || $2::jsonb
		WHERE id = $1 AND jsonb_array_length(notified_contacts) < $3
		RETURNING jsonb_array_length(notified_contacts)`,
		id, entry, limit,
	).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		exists, xerr := s.exists(ctx, id)
		if xerr != nil {
			return 0, xerr
		}
		if !exists {
			return 0, &alert.Error{Code: alert.CodeNotFound, Message: "alert not found"}
		}
		return 0, &alert.Error{Code: alert.CodeLimitExceeded, Message: "contact limit reached"}
	}
	if err != nil {
		return 0, fmt.Errorf("append contact: %w", err)
	}
	return n - 1, nil
}

// SetDelivery updates the delivery fields of one contact entry in place.
func (s *Store) SetDelivery(ctx context.Context, id string, index int, status alert.DeliveryStatus, at time.Time, attempts int) (err error) {
	ctx, span := startSpan(ctx, "pgstore.SetDelivery", "UPDATE")
	defer func() { finishSpan(span, err) }()

	patch, err := json.Marshal(struct {
		DeliveryStatus alert.DeliveryStatus `json:"deliveryStatus"`
		NotifiedAt     time.Time            `json:"notifiedAt"`
		Attempts       int                  `json:"attempts"`
	}{status, at.UTC(), attempts})
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `UPDATE alerts
		SET notified_contacts = jsonb_set(
			notified_contacts,
			ARRAY[$2::int::text],
			notified_contacts -> $2::int || $3::jsonb)
		WHERE id = $1 AND $2::int >= 0 AND $2::int < jsonb_array_length(notified_contacts)`,
		id, index, patch,
	)
	if err != nil {
		return fmt.Errorf("set delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &alert.Error{Code: alert.CodeNotFound, Message: "alert or contact not found"}
	}
	return nil
}

// Within returns alerts inside box with one of the given statuses. Boxes
// that wrap the antimeridian arrive already widened to the full longitude
// span.
func (s *Store) Within(ctx context.Context, box geo.Box, statuses []alert.Status) (out []*alert.Alert, err error) {
	ctx, span := startSpan(ctx, "pgstore.Within", "SELECT")
	defer func() { finishSpan(span, err) }()

	return s.query(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE status = ANY($1)
		  AND lat BETWEEN $2 AND $3
		  AND lon BETWEEN $4 AND $5
		ORDER BY created_at, id`,
		statusStrings(statuses), box.MinLat, box.MaxLat, box.MinLon, box.MaxLon,
	)
}

// CreatedBetween returns alerts created in [from, to).
func (s *Store) CreatedBetween(ctx context.Context, from, to time.Time) (out []*alert.Alert, err error) {
	ctx, span := startSpan(ctx, "pgstore.CreatedBetween", "SELECT")
	defer func() { finishSpan(span, err) }()

	return s.query(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id`,
		from, to,
	)
}

// ListByStatusBefore returns alerts with status created before cutoff, oldest first.
func (s *Store) ListByStatusBefore(ctx context.Context, status alert.Status, cutoff time.Time) (out []*alert.Alert, err error) {
	ctx, span := startSpan(ctx, "pgstore.ListByStatusBefore", "SELECT")
	defer func() { finishSpan(span, err) }()

	return s.query(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at, id`,
		string(status), cutoff,
	)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]*alert.Alert, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("check alert exists: %w", err)
	}
	return ok, nil
}

func (s *Store) missingOrStale(ctx context.Context, id string) error {
	ok, err := s.exists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return &alert.Error{Code: alert.CodeNotFound, Message: "alert not found"}
	}
	return alert.ErrStale
}

// scanAlert scans one row. pgx.ErrNoRows is returned unwrapped.
func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a                            alert.Alert
		address, occupants, contacts []byte
		category, severity, status   string
	)
	err := row.Scan(
		&a.ID, &a.TripReference, &a.TriggeredBy, &a.Position.Lon, &a.Position.Lat, &a.OutsideRegion, &address,
		&category, &a.Description, &severity, &a.Priority, &occupants, &contacts, &status,
		&a.ResolutionComment, &a.ResolvedAt, &a.CreatedAt, &a.UpdatedAt, &a.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	a.Category = alert.Category(category)
	a.Severity = alert.Severity(severity)
	a.Status = alert.Status(status)

	if len(address) > 0 {
		a.Address = &alert.Address{}
		if err := json.Unmarshal(address, a.Address); err != nil {
			return nil, fmt.Errorf("unmarshal address: %w", err)
		}
	}
	if err := json.Unmarshal(occupants, &a.Occupants); err != nil {
		return nil, fmt.Errorf("unmarshal occupants: %w", err)
	}
	if err := json.Unmarshal(contacts, &a.NotifiedContacts); err != nil {
		return nil, fmt.Errorf("unmarshal contacts: %w", err)
	}
	return &a, nil
}

func statusStrings(statuses []alert.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func finishSpan(span trace.Span, err error) {
	if err != nil && alert.CodeOf(err) == "" && !errors.Is(err, alert.ErrStale) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
