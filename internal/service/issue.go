package service

import (
	"context"
	"crypto/x509"
	"fmt"

	"github.com/remiblancher/capolicy/internal/ca"
)

// IssueResult is a signed certificate plus the spec it was built from.
type IssueResult struct {
	Spec        *ca.ResolvedCertSpec
	Certificate *x509.Certificate
}

// Resolve evaluates req against a profile without signing. Accepted and
// rejected requests are both audited.
func (s *Service) Resolve(ctx context.Context, caName, profileName string, req ca.Request) (*ca.ResolvedCertSpec, error) {
	c, err := s.CA(caName)
	if err != nil {
		return nil, err
	}

	spec, err := c.Issue(profileName, req)
	if err != nil {
		if auditErr := s.audit.IssuanceRejected(ctx, caName, profileName, req.Subject.String(), err.Error()); auditErr != nil {
			return nil, fmt.Errorf("%w (audit: %v)", err, auditErr)
		}
		return nil, err
	}

	var ignored []string
	for _, f := range spec.Ignored {
		ignored = append(ignored, f.Field)
	}
	if err := s.audit.IssuanceResolved(ctx, caName, profileName, req.Subject.String(), ignored); err != nil {
		return nil, err
	}
	return spec, nil
}

// Issue resolves req and signs the result.
func (s *Service) Issue(ctx context.Context, caName, profileName string, req ca.Request) (*IssueResult, error) {
	spec, err := s.Resolve(ctx, caName, profileName, req)
	if err != nil {
		return nil, err
	}

	cert, err := s.backend.SignCertificate(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}

	serial := fmt.Sprintf("0x%X", cert.SerialNumber)
	if err := s.audit.CertSigned(ctx, caName, profileName, serial, spec.Subject.String()); err != nil {
		return nil, err
	}
	s.logger.Info("certificate issued",
		"ca", caName,
		"profile", profileName,
		"serial", serial,
		"subject", spec.Subject.String())
	return &IssueResult{Spec: spec, Certificate: cert}, nil
}
