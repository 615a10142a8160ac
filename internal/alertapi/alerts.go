package alertapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/tripguard/internal/alert"
	"github.com/linnemanlabs/tripguard/internal/authmw"
)

type transitionRequest struct {
	Status  alert.Status `json:"status"`
	Comment string       `json:"comment"`
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func alertID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("tripguard.alert.id", id))
	return id
}

func (a *API) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var in alert.TriggerInput
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}

	al, err := a.alerts.Trigger(r.Context(), in, authmw.ActorFromContext(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/alerts/"+al.ID)
	writeJSON(w, http.StatusCreated, al)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	al, err := a.alerts.Get(r.Context(), alertID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, al)
}

func (a *API) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := alertID(r)
	var req transitionRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	al, err := a.alerts.Transition(r.Context(), id, req.Status, authmw.ActorFromContext(r.Context()),
		alert.TransitionExtra{Comment: req.Comment})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, al)
}

func (a *API) handleEscalate(w http.ResponseWriter, r *http.Request) {
	al, err := a.alerts.Escalate(r.Context(), alertID(r), authmw.ActorFromContext(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, al)
}

func (a *API) handleAddContact(w http.ResponseWriter, r *http.Request) {
	id := alertID(r)
	var in alert.ContactInput
	if err := decode(r, &in); err != nil {
		a.writeError(w, r, err)
		return
	}

	al, err := a.alerts.AddContact(r.Context(), id, in)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, al)
}
