package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/guestgate/access-server-go/internal/errors"
	"github.com/guestgate/access-server-go/internal/httputil"
	"github.com/guestgate/access-server-go/internal/jobs"
	"github.com/guestgate/access-server-go/internal/model"
	"github.com/guestgate/access-server-go/internal/util"
)

type BookingsHandler struct {
	orchestrator *jobs.Orchestrator
}

func NewBookingsHandler(orchestrator *jobs.Orchestrator) *BookingsHandler {
	return &BookingsHandler{orchestrator: orchestrator}
}

// POST /v1/bookings/push
// Booking-system webhook: a reservation was created, updated, or cancelled.
// Approved reservations go through the same issue pipeline as the poll;
// cancellations are recorded but never disarm a pending relock.
func (h *BookingsHandler) Push(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type        string             `json:"type"`
		Reservation *model.Reservation `json:"reservation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("request body must be valid JSON"))
		return
	}

	// A typoed status would otherwise be treated as not-approved and come
	// back processed:false, hiding the integration bug.
	if req.Reservation != nil && !util.IsValidEnum(string(req.Reservation.Status), []string{
		string(model.ReservationStatusApproved),
		string(model.ReservationStatusPending),
		string(model.ReservationStatusCancelled),
	}) {
		httputil.WriteError(w, apperrors.InvalidInput("status",
			"must be approved, pending or cancelled"))
		return
	}

	processed, err := h.orchestrator.ProcessPush(r.Context(), req.Type, req.Reservation)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	log.Info().
		Str("pushType", req.Type).
		Bool("processed", processed).
		Msg("booking push handled")

	writeJSON(w, http.StatusOK, map[string]any{
		"processed": processed,
	})
}
