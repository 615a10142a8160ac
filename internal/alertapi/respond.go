package alertapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/tripguard/internal/alert"
)

type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// statusFor maps an error code to its HTTP status.
func statusFor(code alert.Code) int {
	switch code {
	case alert.CodeInvalidInput:
		return http.StatusBadRequest
	case alert.CodeNotFound:
		return http.StatusNotFound
	case alert.CodeForbidden:
		return http.StatusForbidden
	case alert.CodeConflict, alert.CodeInvalidTransition:
		return http.StatusConflict
	case alert.CodeLimitExceeded:
		return http.StatusUnprocessableEntity
	case alert.CodeDependencyFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err in the standard error envelope. Dependency and
// unclassified failures are logged with their cause and reported without it.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *alert.Error
	if !errors.As(err, &e) {
		e = &alert.Error{Message: "internal error"}
	}
	status := statusFor(e.Code)

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("tripguard.error.code", string(e.Code)))

	body := errorBody{Code: string(e.Code), Message: e.Message, Fields: e.Fields}
	if status >= http.StatusInternalServerError {
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path, "code", e.Code)
		if body.Code == "" {
			body.Code = "INTERNAL"
		}
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func badRequest(msg string, fields ...string) error {
	return &alert.Error{Code: alert.CodeInvalidInput, Message: msg, Fields: fields}
}
