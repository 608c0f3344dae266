package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/remiblancher/capolicy/internal/audit"
	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/crl"
	"github.com/remiblancher/capolicy/internal/x509backend"
)

// Revoke records a revocation on the named CA. A zero at means now.
func (s *Service) Revoke(ctx context.Context, caName string, serial *big.Int, reason crl.Reason, at time.Time, override bool) error {
	c, err := s.CA(caName)
	if err != nil {
		return err
	}
	if at.IsZero() {
		at = s.now()
	}
	opErr := c.RevokeCertificate(ctx, serial, reason, at, override)
	return s.auditResult(opErr, func(result audit.Result) error {
		return s.audit.CertRevoked(ctx, caName, serialString(serial), reason.String(), result)
	})
}

// Unrevoke removes serial from the named CA's revocation list.
func (s *Service) Unrevoke(ctx context.Context, caName string, serial *big.Int) error {
	c, err := s.CA(caName)
	if err != nil {
		return err
	}
	opErr := c.UnrevokeCertificate(ctx, serial)
	return s.auditResult(opErr, func(result audit.Result) error {
		return s.audit.CertUnrevoked(ctx, caName, serialString(serial), result)
	})
}

// auditResult records the outcome of a state change. The operation error
// takes precedence over an audit error.
func (s *Service) auditResult(opErr error, record func(audit.Result) error) error {
	result := audit.ResultSuccess
	if opErr != nil {
		result = audit.ResultFailure
	}
	if err := record(result); err != nil {
		if opErr != nil {
			return fmt.Errorf("%w (audit: %v)", opErr, err)
		}
		return err
	}
	return opErr
}

// CRLResult is a signed CRL.
type CRLResult struct {
	DER        []byte
	Number     uint64
	ThisUpdate time.Time
	NextUpdate time.Time
	Revoked    int
}

// GenerateCRL takes the next CRL number, signs the current revocation list
// and audits it.
func (s *Service) GenerateCRL(ctx context.Context, caName string) (*CRLResult, error) {
	c, err := s.CA(caName)
	if err != nil {
		return nil, err
	}
	spec, err := c.PrepareCRL(ctx, s.now())
	if err != nil {
		return nil, err
	}
	der, err := s.backend.EncodeCRL(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CRL %d: %w", spec.Number, err)
	}
	if err := s.audit.CRLGenerated(ctx, caName, spec.Number, len(spec.Revocations)); err != nil {
		return nil, err
	}
	s.logger.Info("crl generated", "ca", caName, "number", spec.Number, "revoked", len(spec.Revocations))
	return &CRLResult{
		DER:        der,
		Number:     spec.Number,
		ThisUpdate: spec.ThisUpdate,
		NextUpdate: spec.NextUpdate,
		Revoked:    len(spec.Revocations),
	}, nil
}

// OCSPResult is a signed OCSP response.
type OCSPResult struct {
	DER        []byte
	Status     ca.OCSPStatus
	ThisUpdate time.Time
	NextUpdate time.Time
}

// OCSP signs a status response for serial on the named CA.
func (s *Service) OCSP(ctx context.Context, caName string, serial *big.Int) (*OCSPResult, error) {
	c, err := s.CA(caName)
	if err != nil {
		return nil, err
	}
	spec, err := c.PrepareOCSP(ctx, serial, s.now())
	if err != nil {
		return nil, err
	}
	der, err := s.backend.SignOCSPResponse(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to sign OCSP response: %w", err)
	}
	if err := s.audit.OCSPResponse(ctx, caName, serialString(serial), spec.Status.String()); err != nil {
		return nil, err
	}
	return &OCSPResult{
		DER:        der,
		Status:     spec.Status,
		ThisUpdate: spec.ThisUpdate,
		NextUpdate: spec.NextUpdate,
	}, nil
}

// RespondOCSP answers a DER OCSP request. The issuing CA is found from the
// request's issuer hashes; requests for unknown issuers get the
// "unauthorized" error response with a nil error.
func (s *Service) RespondOCSP(ctx context.Context, der []byte) ([]byte, error) {
	req, err := x509backend.ParseRequest(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ca.ErrInvalidRequest, err)
	}
	for _, name := range s.CANames() {
		c := s.cas[name]
		if !x509backend.IssuedBy(req, c.Identity().Certificate) {
			continue
		}
		res, err := s.OCSP(ctx, name, req.SerialNumber)
		if err != nil {
			return nil, err
		}
		return res.DER, nil
	}
	s.logger.Debug("ocsp request for unknown issuer", "serial", serialString(req.SerialNumber))
	return x509backend.UnauthorizedResponse(), nil
}

func serialString(serial *big.Int) string {
	if serial == nil {
		return ""
	}
	return fmt.Sprintf("0x%X", serial)
}
