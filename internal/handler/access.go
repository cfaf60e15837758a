package handler

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/guestgate/access-server-go/internal/errors"
	"github.com/guestgate/access-server-go/internal/eventlog"
	"github.com/guestgate/access-server-go/internal/httputil"
	"github.com/guestgate/access-server-go/internal/jobs"
	"github.com/guestgate/access-server-go/internal/service"
)

type AccessHandler struct {
	orchestrator *jobs.Orchestrator
	generator    *service.CodeGenerator
	validator    *service.AccessValidator
	events       *eventlog.Log
	presentLimit func(http.Handler) http.Handler
}

// NewAccessHandler builds the door-facing API handler. presentLimit is the
// rate-limit middleware applied to presentment only; nil disables it.
func NewAccessHandler(
	orchestrator *jobs.Orchestrator,
	generator *service.CodeGenerator,
	validator *service.AccessValidator,
	events *eventlog.Log,
	presentLimit func(http.Handler) http.Handler,
) *AccessHandler {
	return &AccessHandler{
		orchestrator: orchestrator,
		generator:    generator,
		validator:    validator,
		events:       events,
		presentLimit: presentLimit,
	}
}

func (h *AccessHandler) Routes() chi.Router {
	r := chi.NewRouter()

	if h.presentLimit != nil {
		r.With(h.presentLimit).Post("/present", h.Present)
	} else {
		r.Post("/present", h.Present)
	}
	r.Get("/credentials", h.Credentials)
	r.Get("/stats", h.Stats)
	r.Get("/events", h.Events)

	return r
}

// POST /v1/access/present
// A keypad or door bridge presents a code or token. A grant burns the
// credential and unlocks the door; every denial carries its stable reason.
func (h *AccessHandler) Present(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("request body must be valid JSON"))
		return
	}

	if req.Code == "" {
		httputil.WriteError(w, apperrors.MissingRequired("code"))
		return
	}

	result := h.orchestrator.Present(r.Context(), req.Code)

	if !result.Granted {
		httputil.WriteError(w, result.Err)
		return
	}

	if result.UnlockErr != nil {
		// The credential is burned but the door did not open; the caller
		// must see the failure, not a success.
		httputil.WriteError(w, result.UnlockErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"granted":     true,
		"reservation": formatReservation(*result.Reservation),
	})
}

// GET /v1/access/credentials
// Live credentials with masked codes. Raw codes never leave the
// issue-and-notify path.
func (h *AccessHandler) Credentials(w http.ResponseWriter, r *http.Request) {
	active := h.validator.ListActive()

	sort.Slice(active, func(i, j int) bool {
		return active[i].ValidFrom.Before(active[j].ValidFrom)
	})

	formatted := make([]map[string]any, len(active))
	for i, cred := range active {
		formatted[i] = formatCredential(cred)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"credentials": formatted,
		"total":       len(formatted),
	})
}

// GET /v1/access/stats
func (h *AccessHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"generator":    h.generator.Stats(),
		"validator":    h.validator.Stats(),
		"orchestrator": h.orchestrator.Stats(r.Context()),
	})
}

// GET /v1/access/events?limit=50
// Recent event-log entries, newest first. 404 when the event log is
// disabled.
func (h *AccessHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		httputil.WriteError(w, apperrors.NotFound("Event log"))
		return
	}

	entries, err := h.events.Recent(r.Context(), ParseLimit(r))
	if err != nil {
		log.Error().Err(err).Msg("failed to read event log")
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"total":  len(entries),
	})
}
