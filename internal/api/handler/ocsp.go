package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/ocsp"

	"github.com/remiblancher/capolicy/internal/api/dto"
	apierrors "github.com/remiblancher/capolicy/internal/api/errors"
	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/crl"
	"github.com/remiblancher/capolicy/internal/service"
)

const (
	ocspRequestType  = "application/ocsp-request"
	ocspResponseType = "application/ocsp-response"
)

// OCSPHandler serves OCSP, both as a REST query and as an RFC 6960
// responder.
type OCSPHandler struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewOCSPHandler creates a new OCSPHandler.
func NewOCSPHandler(svc *service.Service, logger *slog.Logger) *OCSPHandler {
	return &OCSPHandler{svc: svc, logger: logger}
}

// Query handles POST /api/v1/cas/{ca}/ocsp
func (h *OCSPHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req dto.OCSPQueryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}
	serial, err := crl.ParseSerial(req.Serial)
	if err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}
	res, err := h.svc.OCSP(r.Context(), chi.URLParam(r, "ca"), serial)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.OCSPQueryResponse{
		Response:   base64.StdEncoding.EncodeToString(res.DER),
		Status:     res.Status.String(),
		ThisUpdate: res.ThisUpdate.UTC().Format(time.RFC3339),
		NextUpdate: res.NextUpdate.UTC().Format(time.RFC3339),
	})
}

// Post handles POST /ocsp with a DER request body. Protocol errors are
// reported as OCSP error responses, not HTTP errors.
func (h *OCSPHandler) Post(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, ocspRequestType) {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}
	der, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}
	h.respond(w, r, der)
}

// Get handles GET /ocsp/{request}, the base64 request in the path.
func (h *OCSPHandler) Get(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	der, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		http.Error(w, "malformed OCSP request", http.StatusBadRequest)
		return
	}
	h.respond(w, r, der)
}

func (h *OCSPHandler) respond(w http.ResponseWriter, r *http.Request, der []byte) {
	resp, err := h.svc.RespondOCSP(r.Context(), der)
	switch {
	case err == nil:
	case errors.Is(err, ca.ErrInvalidRequest):
		resp = ocsp.MalformedRequestErrorResponse
	case errors.Is(err, ca.ErrPersistenceTimeout):
		resp = ocsp.TryLaterErrorResponse
	default:
		h.logger.Error("ocsp request failed", "error", err)
		resp = ocsp.InternalErrorErrorResponse
	}
	w.Header().Set("Content-Type", ocspResponseType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}
