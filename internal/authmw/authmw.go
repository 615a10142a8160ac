// Package authmw authenticates API callers. A shared bearer token gates the
// API as a whole; the actor header carries the identity of the rider,
// driver or operator the upstream gateway already authenticated.
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/tripguard/internal/alert"
)

// DefaultActorHeader is the header the gateway uses to forward the caller's identity.
const DefaultActorHeader = "X-Actor-Id"

const maxActorLen = 128

type ctxKey struct{}

// BearerToken returns middleware that validates the Authorization header
// contains a Bearer token matching the expected value. Comparison uses
// constant-time equality.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			if subtle.ConstantTimeCompare([]byte(auth[len("Bearer "):]), expected) != 1 {
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Actor returns middleware that reads the caller identity from header and
// stores it on the request context. Requests without one are rejected.
func Actor(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultActorHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(header))
			if id == "" || len(id) > maxActorLen {
				unauthorized(w, "missing or invalid "+header+" header")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), alert.Actor{ID: id})))
		})
	}
}

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a alert.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// ActorFromContext returns the actor stored by Actor, or the zero Actor.
func ActorFromContext(ctx context.Context) alert.Actor {
	a, _ := ctx.Value(ctxKey{}).(alert.Actor)
	return a
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHENTICATED","message":"` + msg + `"}}`))
}
