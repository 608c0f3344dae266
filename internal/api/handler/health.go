package handler

import (
	"net/http"

	"github.com/remiblancher/capolicy/internal/api/dto"
	"github.com/remiblancher/capolicy/internal/service"
)

// HealthHandler handles health and readiness endpoints.
type HealthHandler struct {
	version string
	svc     *service.Service
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(version string, svc *service.Service) *HealthHandler {
	return &HealthHandler{version: version, svc: svc}
}

// Health handles GET /health. A CA whose CRL state is halted makes the
// server "degraded".
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := dto.HealthResponse{
		Status:  "ok",
		Version: h.version,
		CAs:     make(map[string]string),
	}
	for _, name := range h.svc.CANames() {
		c, err := h.svc.CA(name)
		if err != nil {
			continue
		}
		if c.Tracker().Halted() {
			resp.CAs[name] = "halted"
			resp.Status = "degraded"
		} else {
			resp.CAs[name] = "ok"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// Ready handles GET /ready.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"server": true,
		"cas":    len(h.svc.CANames()) > 0,
	}
	ready := true
	for _, ok := range checks {
		ready = ready && ok
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, dto.ReadyResponse{Ready: ready, Checks: checks})
}
