package handler

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/capolicy/internal/api/dto"
	apierrors "github.com/remiblancher/capolicy/internal/api/errors"
	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/profile"
	"github.com/remiblancher/capolicy/internal/service"
	"github.com/remiblancher/capolicy/internal/subject"
)

// CertHandler handles issuance requests.
type CertHandler struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewCertHandler creates a new CertHandler.
func NewCertHandler(svc *service.Service, logger *slog.Logger) *CertHandler {
	return &CertHandler{svc: svc, logger: logger}
}

// Resolve handles POST /api/v1/cas/{ca}/resolve. It applies the profile
// without signing anything.
func (h *CertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var body dto.IssueRequest
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}
	req, err := buildRequest(&body)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	spec, err := h.svc.Resolve(r.Context(), chi.URLParam(r, "ca"), body.Profile, req)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, resolveResponse(spec))
}

// Issue handles POST /api/v1/cas/{ca}/issue
func (h *CertHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var body dto.IssueRequest
	if err := decodeJSON(r, &body); err != nil {
		respondError(w, http.StatusBadRequest, apierrors.NewBadRequest(err.Error()))
		return
	}
	req, err := buildRequest(&body)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	res, err := h.svc.Issue(r.Context(), chi.URLParam(r, "ca"), body.Profile, req)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.IssueResponse{
		ResolveResponse: resolveResponse(res.Spec),
		Serial:          fmt.Sprintf("0x%X", res.Certificate.SerialNumber),
		Certificate:     string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: res.Certificate.Raw})),
		NotBefore:       res.Certificate.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:        res.Certificate.NotAfter.UTC().Format(time.RFC3339),
	})
}

// buildRequest turns the wire form into a ca.Request. Parse failures are
// ca.ErrInvalidRequest.
func buildRequest(body *dto.IssueRequest) (ca.Request, error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ca.ErrInvalidRequest, fmt.Sprintf(format, args...))
	}

	var req ca.Request
	switch {
	case body.CSR != "":
		block, _ := pem.Decode([]byte(body.CSR))
		if block == nil || block.Type != "CERTIFICATE REQUEST" {
			return req, invalid("csr must be a PEM CERTIFICATE REQUEST")
		}
		csr, err := x509.ParseCertificateRequest(block.Bytes)
		if err != nil {
			return req, invalid("csr: %v", err)
		}
		if req, err = ca.RequestFromCSR(csr); err != nil {
			return req, err
		}
	case body.PublicKey != "":
		block, _ := pem.Decode([]byte(body.PublicKey))
		if block == nil || block.Type != "PUBLIC KEY" {
			return req, invalid("public_key must be a PEM PUBLIC KEY")
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return req, invalid("public_key: %v", err)
		}
		req.PublicKey = pub
	default:
		return req, invalid("csr or public_key is required")
	}

	if body.Subject != "" {
		s, err := subject.Parse(body.Subject)
		if err != nil {
			return req, invalid("subject: %v", err)
		}
		req.Subject = s
	}

	if len(body.DNSNames) > 0 {
		req.SANs.DNSNames = body.DNSNames
	}
	if len(body.EmailAddresses) > 0 {
		req.SANs.EmailAddresses = body.EmailAddresses
	}
	if len(body.URIs) > 0 {
		req.SANs.URIs = body.URIs
	}
	if len(body.IPAddresses) > 0 {
		req.SANs.IPAddresses = nil
		for _, s := range body.IPAddresses {
			ip := net.ParseIP(s)
			if ip == nil {
				return req, invalid("invalid IP address %q", s)
			}
			req.SANs.IPAddresses = append(req.SANs.IPAddresses, ip)
		}
	}

	req.BasicConstraints = body.BasicConstraints
	req.KeyUsage = body.KeyUsage
	req.ExtendedKeyUsage = body.ExtendedKeyUsage
	req.CertificatePolicies = body.CertificatePolicies

	if body.Validity != "" {
		d, err := profile.ParseDuration(body.Validity)
		if err != nil {
			return req, invalid("validity: %v", err)
		}
		req.Validity = d
	}
	return req, nil
}

func resolveResponse(spec *ca.ResolvedCertSpec) dto.ResolveResponse {
	resp := dto.ResolveResponse{
		CA:                    spec.CAName,
		Profile:               spec.ProfileName,
		Subject:               spec.Subject.String(),
		BasicConstraints:      spec.BasicConstraintsRaw,
		KeyUsage:              spec.KeyUsage,
		ExtendedKeyUsage:      spec.ExtendedKeyUsage,
		CertificatePolicies:   spec.CertificatePolicies,
		CRLDistributionPoints: spec.CRLDistributionPoints,
		OCSPServers:           spec.OCSPServers,
		Validity:              spec.Validity.String(),
	}
	for _, f := range spec.Ignored {
		resp.Ignored = append(resp.Ignored, dto.IgnoredField{Field: f.Field, Reason: f.Reason})
	}
	return resp
}
