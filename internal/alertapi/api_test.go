package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/tripguard/internal/alert"
	"github.com/linnemanlabs/tripguard/internal/alert/memstore"
	"github.com/linnemanlabs/tripguard/internal/alertquery"
	"github.com/linnemanlabs/tripguard/internal/authmw"
	"github.com/linnemanlabs/tripguard/internal/geo"
)

var fixedNow = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

const triggerBody = `{
	"tripReference": "trip-1",
	"position": {"lon": -4.0, "lat": 5.3},
	"category": "SOS",
	"severity": "CRITICAL",
	"description": "driver is threatening the passenger",
	"occupants": [{"name": "Awa", "phone": "+225 07 00 00 00 01"}],
	"contacts": [{"name": "Kofi", "phone": "+2250700000002", "relation": "brother"}]
}`

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	store := memstore.New()
	clock := func() time.Time { return fixedNow }
	svc := alert.NewService(store, nil, log.Nop(), alert.WithClock(clock))
	qs := alertquery.New(store, log.Nop(), alertquery.WithClock(clock))

	api := New(nil, svc, qs, WithMiddleware(authmw.Actor("")), WithClock(clock))
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body, actor string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor != "" {
		req.Header.Set(authmw.DefaultActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAlert(t *testing.T, rec *httptest.ResponseRecorder) alert.Alert {
	t.Helper()
	var a alert.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode alert: %v (body %s)", err, rec.Body.String())
	}
	return a
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var env struct {
		Error errorBody `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error: %v (body %s)", err, rec.Body.String())
	}
	return env.Error
}

// New / constructor

type stubAlerts struct{ err error }

func (s stubAlerts) Trigger(context.Context, alert.TriggerInput, alert.Actor) (*alert.Alert, error) {
	return nil, s.err
}
func (s stubAlerts) Get(context.Context, string) (*alert.Alert, error) { return nil, s.err }
func (s stubAlerts) Transition(context.Context, string, alert.Status, alert.Actor, alert.TransitionExtra) (*alert.Alert, error) {
	return nil, s.err
}
func (s stubAlerts) Escalate(context.Context, string, alert.Actor) (*alert.Alert, error) {
	return nil, s.err
}
func (s stubAlerts) AddContact(context.Context, string, alert.ContactInput) (*alert.Alert, error) {
	return nil, s.err
}

type stubQueries struct{}

func (stubQueries) FindNearby(context.Context, geo.Point, float64, []alert.Status) ([]alertquery.NearbyAlert, error) {
	return nil, nil
}
func (stubQueries) Statistics(context.Context, time.Time, time.Time) (*alertquery.Stats, error) {
	return &alertquery.Stats{}, nil
}
func (stubQueries) Stale(context.Context, int) ([]alertquery.StaleAlert, error) { return nil, nil }

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, stubAlerts{}, stubQueries{})
	if api.logger == nil {
		t.Fatal("New(nil, ...) left logger nil; expected Nop logger")
	}
}

func TestNew_NilServices_Panics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		alerts  AlertService
		queries QueryService
	}{
		{"nil alerts", nil, stubQueries{}},
		{"nil queries", stubAlerts{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if r := recover(); r == nil {
					t.Fatal("New did not panic")
				}
			}()
			New(nil, tt.alerts, tt.queries)
		})
	}
}

// Lifecycle over HTTP

func TestTriggerAndGet(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/alerts", triggerBody, "rider-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	created := decodeAlert(t, rec)
	if created.Priority != 5 || created.Status != alert.StatusActive {
		t.Errorf("created = priority %d status %q, want 5 ACTIVE", created.Priority, created.Status)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/v1/alerts/"+created.ID {
		t.Errorf("Location = %q", loc)
	}
	if created.Occupants[0].Phone != "+2250700000001" {
		t.Errorf("phone not normalized: %q", created.Occupants[0].Phone)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/alerts/"+created.ID, "", "operator-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}
	if got := decodeAlert(t, rec); got.ID != created.ID {
		t.Errorf("GET id = %q, want %q", got.ID, created.ID)
	}

	rec = do(t, r, http.MethodPost, "/api/v1/alerts", triggerBody, "rider-1")
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate trigger status = %d, want 409", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != string(alert.CodeConflict) {
		t.Errorf("error code = %q, want CONFLICT", e.Code)
	}
}

func TestTrigger_RequiresActor(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/alerts", triggerBody, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestTrigger_InvalidInput(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	tests := []struct {
		name       string
		body       string
		wantFields []string
	}{
		{"malformed JSON", `{bad`, nil},
		{"unknown field", `{"tripReference":"t","bogus":1}`, nil},
		{"missing everything", `{}`, []string{"tripReference", "position", "category", "description", "occupants"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodPost, "/api/v1/alerts", tt.body, "rider-1")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			e := decodeError(t, rec)
			if e.Code != string(alert.CodeInvalidInput) {
				t.Errorf("code = %q, want INVALID_INPUT", e.Code)
			}
			for _, f := range tt.wantFields {
				if !containsString(e.Fields, f) {
					t.Errorf("fields = %v, missing %q", e.Fields, f)
				}
			}
		})
	}
}

func TestTransitionEscalateAndContacts(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	body := strings.Replace(triggerBody, `"CRITICAL"`, `"LOW"`, 1)
	created := decodeAlert(t, do(t, r, http.MethodPost, "/api/v1/alerts", body, "rider-1"))
	base := "/api/v1/alerts/" + created.ID

	rec := do(t, r, http.MethodPost, base+"/escalate", "", "operator-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("escalate status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if got := decodeAlert(t, rec); got.Severity != alert.SeverityMedium {
		t.Errorf("severity = %q, want MEDIUM", got.Severity)
	}

	rec = do(t, r, http.MethodPost, base+"/contacts", `{"name":"Ama","phone":"+2250700000009"}`, "rider-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("contacts status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if got := decodeAlert(t, rec); len(got.NotifiedContacts) != 2 {
		t.Errorf("contacts = %d, want 2", len(got.NotifiedContacts))
	}

	rec = do(t, r, http.MethodPost, base+"/status", `{"status":"IN_PROGRESS"}`, "operator-1")
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-owner transition status = %d, want 403", rec.Code)
	}

	rec = do(t, r, http.MethodPost, base+"/status", `{"status":"RESOLVED"}`, "rider-1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("resolve without comment status = %d, want 400", rec.Code)
	}

	rec = do(t, r, http.MethodPost, base+"/status", `{"status":"RESOLVED","comment":"handled by dispatch"}`, "rider-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d (body %s)", rec.Code, rec.Body.String())
	}

	rec = do(t, r, http.MethodPost, base+"/status", `{"status":"ACTIVE"}`, "rider-1")
	if rec.Code != http.StatusConflict {
		t.Errorf("reopen status = %d, want 409", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != string(alert.CodeInvalidTransition) {
		t.Errorf("code = %q, want INVALID_TRANSITION", e.Code)
	}
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/api/v1/alerts/nope", "", "rider-1")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// Queries over HTTP

func TestNearby(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	do(t, r, http.MethodPost, "/api/v1/alerts", triggerBody, "rider-1")

	rec := do(t, r, http.MethodGet, "/api/v1/alerts/nearby?lat=5.31&lon=-4.0&radius_km=5&status=active", "", "operator-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Count  int `json:"count"`
		Alerts []struct {
			ID         string  `json:"id"`
			DistanceKm float64 `json:"distanceKm"`
		} `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Alerts[0].DistanceKm <= 0 {
		t.Errorf("resp = %+v, want one alert with a distance", resp)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/alerts/nearby?lat=x&lon=-4.0", "", "operator-1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad lat status = %d, want 400", rec.Code)
	}
	if e := decodeError(t, rec); !containsString(e.Fields, "lat") {
		t.Errorf("fields = %v, want lat", e.Fields)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/alerts/nearby?lat=5.3&lon=-4.0&radius_km=501", "", "operator-1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversize radius status = %d, want 400", rec.Code)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	do(t, r, http.MethodPost, "/api/v1/alerts", triggerBody, "rider-1")

	rec := do(t, r, http.MethodGet, "/api/v1/alerts/stats?from=2026-04-09&to=2026-04-11", "", "operator-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var st alertquery.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Total != 1 || st.Critical != 1 || len(st.Daily) != 2 {
		t.Errorf("stats = %+v", st)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/alerts/stats?from=yesterday", "", "operator-1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad from status = %d, want 400", rec.Code)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/alerts/stats?from=2026-04-11&to=2026-04-09", "", "operator-1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted window status = %d, want 400", rec.Code)
	}
}

func TestStale(t *testing.T) {
	t.Parallel()
	r := newTestRouter(t)

	do(t, r, http.MethodPost, "/api/v1/alerts", triggerBody, "rider-1")

	rec := do(t, r, http.MethodGet, "/api/v1/alerts/stale?threshold_minutes=30", "", "operator-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"count":0`) {
		t.Errorf("body = %s, want no stale alerts at creation time", rec.Body.String())
	}

	for _, q := range []string{"abc", "-5"} {
		rec = do(t, r, http.MethodGet, "/api/v1/alerts/stale?threshold_minutes="+q, "", "operator-1")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("threshold %q status = %d, want 400", q, rec.Code)
		}
	}
}

// Error mapping

func TestWriteError_Mapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"invalid input", &alert.Error{Code: alert.CodeInvalidInput}, http.StatusBadRequest, "INVALID_INPUT"},
		{"not found", &alert.Error{Code: alert.CodeNotFound}, http.StatusNotFound, "NOT_FOUND"},
		{"forbidden", &alert.Error{Code: alert.CodeForbidden}, http.StatusForbidden, "FORBIDDEN"},
		{"conflict", &alert.Error{Code: alert.CodeConflict}, http.StatusConflict, "CONFLICT"},
		{"transition", &alert.Error{Code: alert.CodeInvalidTransition}, http.StatusConflict, "INVALID_TRANSITION"},
		{"limit", &alert.Error{Code: alert.CodeLimitExceeded}, http.StatusUnprocessableEntity, "LIMIT_EXCEEDED"},
		{"dependency", &alert.Error{Code: alert.CodeDependencyFailure, Err: errors.New("db down")}, http.StatusServiceUnavailable, "DEPENDENCY_FAILURE"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := New(nil, stubAlerts{err: tt.err}, stubQueries{})
			r := chi.NewRouter()
			api.RegisterRoutes(r)

			rec := do(t, r, http.MethodGet, "/api/v1/alerts/x", "", "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			e := decodeError(t, rec)
			if e.Code != tt.code {
				t.Errorf("code = %q, want %q", e.Code, tt.code)
			}
			if strings.Contains(rec.Body.String(), "db down") || strings.Contains(rec.Body.String(), "boom") {
				t.Errorf("body leaks cause: %s", rec.Body.String())
			}
		})
	}
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-04-10", time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), true},
		{"2026-04-10T08:30:00Z", time.Date(2026, 4, 10, 8, 30, 0, 0, time.UTC), true},
		{"10/04/2026", time.Time{}, false},
		{"", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parseTime(tt.in)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("parseTime(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
