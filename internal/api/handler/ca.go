package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/capolicy/internal/api/dto"
	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/service"
)

// CAHandler handles CA listing and profile management.
type CAHandler struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewCAHandler creates a new CAHandler.
func NewCAHandler(svc *service.Service, logger *slog.Logger) *CAHandler {
	return &CAHandler{svc: svc, logger: logger}
}

func caInfo(c *ca.Config) dto.CAInfo {
	_, delegated := c.OCSPIdentity()
	return dto.CAInfo{
		Name:                 c.Name(),
		Subject:              c.Identity().Certificate.Subject.String(),
		CDPLocation:          c.CDPLocation(),
		OCSPLocation:         c.OCSPLocation(),
		OCSPDelegated:        delegated,
		OCSPStartSkewSeconds: int(c.OCSPStartSkew().Seconds()),
		OCSPValidityHours:    int(c.OCSPValidity().Hours()),
		CRLValidityHours:     int(c.CRLValidity().Hours()),
		Profiles:             c.ProfileNames(),
		Halted:               c.Tracker().Halted(),
	}
}

// List handles GET /api/v1/cas
func (h *CAHandler) List(w http.ResponseWriter, r *http.Request) {
	resp := dto.CAListResponse{CAs: []dto.CAInfo{}}
	for _, name := range h.svc.CANames() {
		c, err := h.svc.CA(name)
		if err != nil {
			continue
		}
		resp.CAs = append(resp.CAs, caInfo(c))
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/cas/{ca}
func (h *CAHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.CA(chi.URLParam(r, "ca"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, caInfo(c))
}
