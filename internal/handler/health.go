package handler

import (
	"net/http"

	"github.com/guestgate/access-server-go/internal/health"
)

type HealthHandler struct {
	manager *health.Manager
}

func NewHealthHandler(manager *health.Manager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

// GET /health
// Always 200 while the process is up; the body carries the latest recorded
// component snapshot.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Last())
}

// GET /ready
// Readiness gate for the load balancer. Degraded still serves; unhealthy
// returns 503 and takes the instance out of rotation.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	snapshot := h.manager.Last()

	status := http.StatusOK
	if !snapshot.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, snapshot)
}
