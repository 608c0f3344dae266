package handler

import (
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/capolicy/internal/api/dto"
	apierrors "github.com/remiblancher/capolicy/internal/api/errors"
	"github.com/remiblancher/capolicy/internal/crl"
	"github.com/remiblancher/capolicy/internal/service"
)

// CRLHandler handles revocation and CRL requests.
type CRLHandler struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewCRLHandler creates a new CRLHandler.
func NewCRLHandler(svc *service.Service, logger *slog.Logger) *CRLHandler {
	return &CRLHandler{svc: svc, logger: logger}
}

// Revoke handles POST /api/v1/cas/{ca}/revoke
func (h *CRLHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req dto.RevokeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}
	serial, err := crl.ParseSerial(req.Serial)
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}
	reason, err := crl.ParseReason(req.Reason)
	if err != nil || !reason.Valid() {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(fmt.Sprintf("invalid reason %q", req.Reason)))
		return
	}
	var at time.Time
	if req.RevokedAt != "" {
		if at, err = time.Parse(time.RFC3339, req.RevokedAt); err != nil {
			respondError(w, http.StatusBadRequest, apierrors.NewBadRequest("revoked_at must be RFC3339"))
			return
		}
	}

	caName := chi.URLParam(r, "ca")
	if err := h.svc.Revoke(r.Context(), caName, serial, reason, at, req.Override); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.RevocationResponse{
		CA:      caName,
		Serial:  fmt.Sprintf("0x%X", serial),
		Revoked: true,
		Reason:  reason.String(),
	})
}

// Unrevoke handles POST /api/v1/cas/{ca}/unrevoke
func (h *CRLHandler) Unrevoke(w http.ResponseWriter, r *http.Request) {
	var req dto.UnrevokeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}
	serial, err := crl.ParseSerial(req.Serial)
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}

	caName := chi.URLParam(r, "ca")
	if err := h.svc.Unrevoke(r.Context(), caName, serial); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.RevocationResponse{
		CA:      caName,
		Serial:  fmt.Sprintf("0x%X", serial),
		Revoked: false,
	})
}

// Generate handles POST /api/v1/cas/{ca}/crl
func (h *CRLHandler) Generate(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.GenerateCRL(r.Context(), chi.URLParam(r, "ca"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, dto.CRLGenerateResponse{
		CRL:          string(pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: res.DER})),
		Number:       res.Number,
		ThisUpdate:   res.ThisUpdate.UTC().Format(time.RFC3339),
		NextUpdate:   res.NextUpdate.UTC().Format(time.RFC3339),
		RevokedCount: res.Revoked,
	})
}

// State handles GET /api/v1/cas/{ca}/crl. The CRL number is not advanced.
func (h *CRLHandler) State(w http.ResponseWriter, r *http.Request) {
	caName := chi.URLParam(r, "ca")
	c, err := h.svc.CA(caName)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	snap, err := c.CRLSnapshot(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	resp := dto.CRLStateResponse{CA: caName, Number: snap.Number, Entries: []dto.CRLEntry{}}
	for _, rev := range snap.Revocations {
		resp.Entries = append(resp.Entries, dto.CRLEntry{
			Serial:    fmt.Sprintf("0x%X", rev.Serial),
			RevokedAt: rev.RevokedAt.UTC().Format(time.RFC3339),
			Reason:    rev.Reason.String(),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
