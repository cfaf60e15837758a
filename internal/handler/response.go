package handler

import (
	"net/http"
	"time"

	"github.com/guestgate/access-server-go/internal/httputil"
	"github.com/guestgate/access-server-go/internal/model"
	"github.com/guestgate/access-server-go/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func formatReservation(res model.Reservation) map[string]any {
	return map[string]any{
		"id":          res.ID,
		"serviceName": res.ServiceName,
		"startTime":   res.StartTime.Format(time.RFC3339),
		"endTime":     res.EndTime.Format(time.RFC3339),
	}
}

func formatCredential(cred model.AccessCredential) map[string]any {
	return map[string]any{
		"reservationId": cred.ReservationID,
		"codeMasked":    util.MaskCode(cred.Code),
		"contact":       cred.Contact,
		"issuedAt":      cred.IssuedAt.Format(time.RFC3339),
		"validFrom":     cred.ValidFrom.Format(time.RFC3339),
		"validUntil":    cred.ValidUntil.Format(time.RFC3339),
	}
}
