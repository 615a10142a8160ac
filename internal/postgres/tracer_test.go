package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/go-core/log"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/tripguard/internal/alert/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Get", "(*Store).Get"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSkipFrame(t *testing.T) {
	t.Parallel()

	skipped := []string{
		"",
		"runtime.goexit",
		"github.com/jackc/pgx/v5.(*Conn).Query",
		"github.com/exaring/otelpgx.(*Tracer).TraceQueryStart",
		"github.com/linnemanlabs/tripguard/internal/postgres.(*queryTracer).TraceQueryStart",
	}
	for _, fn := range skipped {
		if !skipFrame(fn) {
			t.Errorf("skipFrame(%q) = false, want true", fn)
		}
	}
	if skipFrame("github.com/linnemanlabs/tripguard/internal/alert/pgstore.(*Store).Create") {
		t.Error("store frames must not be skipped")
	}
}

func TestWithHTTPMethod(t *testing.T) {
	t.Parallel()

	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "POST")); got != "POST" {
		t.Errorf("httpMethodFromContext = %q, want %q", got, "POST")
	}
	if got := httpMethodFromContext(WithHTTPMethod(context.Background(), "")); got != "" {
		t.Errorf("httpMethodFromContext = %q, want empty", got)
	}
}

type observation struct {
	method, route, outcome string
}

func TestQueryTracer_Observes(t *testing.T) {
	t.Parallel()

	var got []observation
	tr := &queryTracer{
		observer: QueryObserverFunc(func(_ context.Context, method, route, outcome string, _ time.Duration) {
			got = append(got, observation{method, route, outcome})
		}),
		slow: time.Hour,
	}

	rctx := chi.NewRouteContext()
	rctx.RoutePatterns = []string{"/api/v1/alerts/{id}"}
	ctx := context.WithValue(context.Background(), chi.RouteCtxKey, rctx)
	ctx = WithHTTPMethod(ctx, "GET")

	qctx := tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{})

	bg := tr.TraceQueryStart(log.WithContext(context.Background(), log.Nop()), nil, pgx.TraceQueryStartData{SQL: "UPDATE alerts"})
	tr.TraceQueryEnd(bg, nil, pgx.TraceQueryEndData{Err: &pgconn.PgError{Code: "23505"}})

	want := []observation{
		{"GET", "/api/v1/alerts/{id}", "ok"},
		{"BACKGROUND", "none", "error"},
	}
	if len(got) != len(want) {
		t.Fatalf("observations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("observation[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestQueryTracer_EndWithoutStart(t *testing.T) {
	t.Parallel()

	called := false
	tr := &queryTracer{observer: QueryObserverFunc(func(context.Context, string, string, string, time.Duration) {
		called = true
	})}
	tr.TraceQueryEnd(log.WithContext(context.Background(), log.Nop()), nil, pgx.TraceQueryEndData{Err: errors.New("boom")})
	if called {
		t.Error("observer called without a matching start")
	}
}

// captureLogger keeps the key/value pairs of every Info and Error call.
type captureLogger struct {
	kv [][]any
}

func (c *captureLogger) With(...any) log.Logger                      { return c }
func (c *captureLogger) Debug(context.Context, string, ...any)       {}
func (c *captureLogger) Info(_ context.Context, _ string, kv ...any) { c.kv = append(c.kv, kv) }
func (c *captureLogger) Warn(context.Context, string, ...any)        {}
func (c *captureLogger) Error(_ context.Context, _ error, _ string, kv ...any) {
	c.kv = append(c.kv, kv)
}
func (c *captureLogger) Sync() error { return nil }

func (c *captureLogger) has(key string) bool {
	for _, kv := range c.kv {
		for i := 0; i+1 < len(kv); i += 2 {
			if kv[i] == key {
				return true
			}
		}
	}
	return false
}

func TestQueryTracer_ArgumentLogging(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		logArgs bool
		want    string
		absent  string
	}{
		{"hidden by default", false, "db.arg_count", "db.args"},
		{"enabled", true, "db.args", "db.arg_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var opts poolOptions
			WithQueryArgs(tt.logArgs)(&opts)
			tr := &opts.tracer

			L := &captureLogger{}
			ctx := log.WithContext(context.Background(), L)
			qctx := tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{
				SQL:  "UPDATE alerts SET contacts = $1",
				Args: []any{"+2250700000001"},
			})
			tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{})

			if len(L.kv) != 1 {
				t.Fatalf("log lines = %d, want 1", len(L.kv))
			}
			if !L.has(tt.want) {
				t.Errorf("log fields %v missing %q", L.kv[0], tt.want)
			}
			if L.has(tt.absent) {
				t.Errorf("log fields %v unexpectedly contain %q", L.kv[0], tt.absent)
			}
		})
	}
}
