package x509backend

import (
	"bytes"
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/ocsp"

	"github.com/remiblancher/capolicy/internal/ca"
)

// SignOCSPResponse signs a basic OCSP response. A delegated responder's
// certificate is embedded in the response.
func (b *Backend) SignOCSPResponse(ctx context.Context, spec *ca.OCSPResponseSpec) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec == nil || spec.Issuer == nil {
		return nil, fmt.Errorf("OCSP spec needs an issuer")
	}
	if err := spec.Responder.Validate(); err != nil {
		return nil, fmt.Errorf("responder: %w", err)
	}

	tmpl := ocsp.Response{
		Status:       ocsp.Good,
		SerialNumber: spec.Serial,
		ThisUpdate:   spec.ThisUpdate,
		NextUpdate:   spec.NextUpdate,
	}
	if spec.Status == ca.OCSPRevoked {
		tmpl.Status = ocsp.Revoked
		tmpl.RevokedAt = spec.Revocation.RevokedAt
		tmpl.RevocationReason = int(spec.Revocation.Reason)
	}
	if spec.Delegated {
		tmpl.Certificate = spec.Responder.Certificate
	}

	der, err := ocsp.CreateResponse(spec.Issuer, spec.Responder.Certificate, tmpl, spec.Responder.Signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OCSP response: %w", err)
	}

	b.logger.Debug("ocsp response signed",
		"ca", spec.CAName,
		"serial", fmt.Sprintf("0x%X", spec.Serial),
		"status", spec.Status.String())
	return der, nil
}

// UnauthorizedResponse is the pre-encoded "unauthorized" OCSP error
// response, for requests about certificates this responder does not serve.
func UnauthorizedResponse() []byte {
	return ocsp.UnauthorizedErrorResponse
}

// ParseRequest decodes a DER OCSP request.
func ParseRequest(der []byte) (*ocsp.Request, error) {
	req, err := ocsp.ParseRequest(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OCSP request: %w", err)
	}
	return req, nil
}

// IssuedBy reports whether req names issuer, comparing the issuer name and
// key hashes with the hash algorithm the request used.
func IssuedBy(req *ocsp.Request, issuer *x509.Certificate) bool {
	if req == nil || issuer == nil || !req.HashAlgorithm.Available() {
		return false
	}
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(issuer.RawSubjectPublicKeyInfo, &spki); err != nil {
		return false
	}

	h := req.HashAlgorithm.New()
	h.Write(issuer.RawSubject)
	nameHash := h.Sum(nil)

	h.Reset()
	h.Write(spki.PublicKey.RightAlign())
	keyHash := h.Sum(nil)

	return bytes.Equal(nameHash, req.IssuerNameHash) && bytes.Equal(keyHash, req.IssuerKeyHash)
}
