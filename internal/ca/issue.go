package ca

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/remiblancher/capolicy/internal/profile"
	"github.com/remiblancher/capolicy/internal/subject"
)

// SubjectAltNames holds the requested subject alternative names.
type SubjectAltNames struct {
	DNSNames       []string
	IPAddresses    []net.IP
	EmailAddresses []string
	URIs           []string
}

func (s SubjectAltNames) clone() SubjectAltNames {
	out := SubjectAltNames{
		DNSNames:       slices.Clone(s.DNSNames),
		EmailAddresses: slices.Clone(s.EmailAddresses),
		URIs:           slices.Clone(s.URIs),
	}
	for _, ip := range s.IPAddresses {
		out.IPAddresses = append(out.IPAddresses, slices.Clone(ip))
	}
	return out
}

// Request is an issuance request: the subject plus the extension intents
// of the caller. Nil extension slices mean "not requested".
type Request struct {
	Subject   subject.Subject
	PublicKey crypto.PublicKey
	SANs      SubjectAltNames

	// BasicConstraints is never honoured; basic constraints always come from
	// the profile. A non-empty value is reported as ignored.
	BasicConstraints string

	KeyUsage            []string
	ExtendedKeyUsage    []string
	CertificatePolicies []profile.PolicyDescriptor

	// Validity is the requested lifetime. Zero falls back to the profile
	// default, then DefaultCertValidity.
	Validity time.Duration
}

// IgnoredField records a requested value the profile overrode.
type IgnoredField struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ResolvedCertSpec is everything the signing backend needs to produce a
// certificate. Extension slices follow the nil/empty convention: nil means
// the extension is omitted, non-nil empty means present but empty.
type ResolvedCertSpec struct {
	CAName      string
	ProfileName string
	Issuer      Identity

	Subject   subject.Subject
	PublicKey crypto.PublicKey
	SANs      SubjectAltNames

	// BasicConstraints is nil when the profile declares none.
	BasicConstraints    *profile.BasicConstraints
	BasicConstraintsRaw string

	KeyUsage            []string
	ExtendedKeyUsage    []string
	CertificatePolicies []profile.PolicyDescriptor

	CRLDistributionPoints []string
	OCSPServers           []string

	Validity time.Duration

	// Ignored lists requested values that did not make it into the spec.
	Ignored []IgnoredField
}

// Issue resolves an issuance request against the named profile.
//
// The subject is checked against the profile's subject item policy and
// every violation is reported. Profile-declared extensions always win:
// basic constraints come from the profile only, while key usage, extended
// key usage and certificate policies come from the request only when the
// profile leaves them undeclared. Issue performs no I/O.
func (c *Config) Issue(profileName string, req Request) (*ResolvedCertSpec, error) {
	if err := c.tracker.Err(); err != nil {
		return nil, newError("issue", profileName, fmt.Errorf("%w: %w", ErrIssuanceHalted, err))
	}

	p, err := c.Profile(profileName)
	if err != nil {
		return nil, newError("issue", profileName, err)
	}

	if err := p.ValidateSubject(req.Subject); err != nil {
		return nil, newError("issue", profileName, err)
	}

	if req.Validity < 0 {
		return nil, newError("issue", profileName, fmt.Errorf("%w: negative validity", ErrInvalidRequest))
	}

	spec := &ResolvedCertSpec{
		CAName:              c.name,
		ProfileName:         profileName,
		Issuer:              c.identity,
		Subject:             slices.Clone(req.Subject),
		PublicKey:           req.PublicKey,
		SANs:                req.SANs.clone(),
		BasicConstraints:    p.ParsedBasicConstraints(),
		BasicConstraintsRaw: p.BasicConstraints(),
	}

	if req.BasicConstraints != "" && req.BasicConstraints != p.BasicConstraints() {
		spec.ignore("basic_constraints", "basic constraints are set by the profile")
	}

	spec.KeyUsage, err = resolveUsages("key_usage", spec, req.KeyUsage, profile.CanonicalKeyUsages, p.KeyUsage)
	if err != nil {
		return nil, newError("issue", profileName, err)
	}
	spec.ExtendedKeyUsage, err = resolveUsages("extended_key_usage", spec, req.ExtendedKeyUsage, profile.CanonicalExtKeyUsages, p.ExtendedKeyUsage)
	if err != nil {
		return nil, newError("issue", profileName, err)
	}

	if policies, declared := p.CertificatePolicies(); declared {
		spec.CertificatePolicies = policies
		if req.CertificatePolicies != nil && !slices.EqualFunc(req.CertificatePolicies, policies, policyEqual) {
			spec.ignore("certificate_policies", "profile declares certificate policies")
		}
	} else if req.CertificatePolicies != nil {
		spec.CertificatePolicies = make([]profile.PolicyDescriptor, 0, len(req.CertificatePolicies))
		for i, d := range req.CertificatePolicies {
			if err := d.Validate(); err != nil {
				return nil, newError("issue", profileName, fmt.Errorf("%w: certificate_policies[%d]: %v", ErrInvalidRequest, i, err))
			}
			spec.CertificatePolicies = append(spec.CertificatePolicies, profile.PolicyDescriptor{
				OID:         d.OID,
				CPSURIs:     slices.Clone(d.CPSURIs),
				UserNotices: slices.Clone(d.UserNotices),
			})
		}
	}

	if c.cdp != "" {
		spec.CRLDistributionPoints = []string{c.cdp}
	}
	if c.ocsp != "" {
		spec.OCSPServers = []string{c.ocsp}
	}

	switch {
	case req.Validity > 0:
		spec.Validity = req.Validity
	case p.DefaultValidity() > 0:
		spec.Validity = p.DefaultValidity()
	default:
		spec.Validity = DefaultCertValidity
	}

	c.logger.Debug("issuance resolved",
		"profile", profileName,
		"subject", req.Subject.String(),
		"ignored", len(spec.Ignored))
	return spec, nil
}

func (s *ResolvedCertSpec) ignore(field, reason string) {
	s.Ignored = append(s.Ignored, IgnoredField{Field: field, Reason: reason})
}

// resolveUsages picks the profile's usages when declared, else the
// request's (validated).
func resolveUsages(
	field string,
	spec *ResolvedCertSpec,
	requested []string,
	canonical func([]string) ([]string, error),
	fromProfile func() ([]string, bool),
) ([]string, error) {
	if declared, ok := fromProfile(); ok {
		if requested != nil {
			if want, err := canonical(requested); err != nil || !slices.Equal(want, declared) {
				spec.ignore(field, "profile declares "+field)
			}
		}
		return declared, nil
	}
	out, err := canonical(requested)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRequest, field, err)
	}
	return out, nil
}

func policyEqual(a, b profile.PolicyDescriptor) bool {
	return a.OID == b.OID &&
		slices.Equal(a.CPSURIs, b.CPSURIs) &&
		slices.Equal(a.UserNotices, b.UserNotices)
}

// RequestFromCSR builds a request carrying the subject, public key and
// subject alternative names of a certificate request. The CSR signature is
// checked first.
func RequestFromCSR(csr *x509.CertificateRequest) (Request, error) {
	if csr == nil {
		return Request{}, fmt.Errorf("%w: missing certificate request", ErrInvalidRequest)
	}
	if err := csr.CheckSignature(); err != nil {
		return Request{}, fmt.Errorf("%w: certificate request signature: %v", ErrInvalidRequest, err)
	}
	req := Request{
		Subject:   subject.FromPKIXName(csr.Subject),
		PublicKey: csr.PublicKey,
		SANs: SubjectAltNames{
			DNSNames:       slices.Clone(csr.DNSNames),
			EmailAddresses: slices.Clone(csr.EmailAddresses),
		},
	}
	for _, ip := range csr.IPAddresses {
		req.SANs.IPAddresses = append(req.SANs.IPAddresses, slices.Clone(ip))
	}
	for _, u := range csr.URIs {
		req.SANs.URIs = append(req.SANs.URIs, u.String())
	}
	return req, nil
}
