package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/capolicy/internal/api/dto"
	apierrors "github.com/remiblancher/capolicy/internal/api/errors"
	"github.com/remiblancher/capolicy/internal/profile"
	"github.com/remiblancher/capolicy/internal/service"
)

// ProfileHandler handles profile-related HTTP requests.
type ProfileHandler struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(svc *service.Service, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, logger: logger}
}

// List handles GET /api/v1/cas/{ca}/profiles
func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	caName := chi.URLParam(r, "ca")
	c, err := h.svc.CA(caName)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.ProfileListResponse{CA: caName, Profiles: c.ProfileNames()})
}

// Get handles GET /api/v1/cas/{ca}/profiles/{name}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.CA(chi.URLParam(r, "ca"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	name := chi.URLParam(r, "name")
	p, err := c.Profile(name)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewProfileResponse(name, p))
}

// Put handles PUT /api/v1/cas/{ca}/profiles/{name}. The body is a profile
// in the configuration file's YAML form; JSON is accepted as a subset.
func (h *ProfileHandler) Put(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("failed to read request body"))
		return
	}
	p, err := profile.LoadFromBytes(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}

	name := chi.URLParam(r, "name")
	replaced, err := h.svc.SetProfile(r.Context(), chi.URLParam(r, "ca"), name, p)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if replaced {
		status = http.StatusOK
	}
	respondJSON(w, status, dto.ProfileSetResponse{Profile: dto.NewProfileResponse(name, p), Replaced: replaced})
}
