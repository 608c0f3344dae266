package x509backend

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/url"

	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/profile"
)

// SignCertificate turns a resolved spec into a signed certificate.
//
// Empty key usage and extended key usage lists cannot be encoded (both
// extensions require at least one entry) and are omitted. An empty
// certificate policies list is encoded as an empty extension.
func (b *Backend) SignCertificate(ctx context.Context, spec *ca.ResolvedCertSpec) (*x509.Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, fmt.Errorf("nil certificate spec")
	}
	if spec.PublicKey == nil {
		return nil, fmt.Errorf("public key is required")
	}
	if err := spec.Issuer.Validate(); err != nil {
		return nil, fmt.Errorf("issuer: %w", err)
	}

	tmpl, err := b.template(spec)
	if err != nil {
		return nil, err
	}

	der, err := x509.CreateCertificate(b.rand, tmpl, spec.Issuer.Certificate, spec.PublicKey, spec.Issuer.Signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created certificate: %w", err)
	}

	b.logger.Debug("certificate signed",
		"ca", spec.CAName,
		"profile", spec.ProfileName,
		"serial", fmt.Sprintf("0x%X", cert.SerialNumber))
	return cert, nil
}

func (b *Backend) template(spec *ca.ResolvedCertSpec) (*x509.Certificate, error) {
	name, err := spec.Subject.ToPKIXName()
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	serial, err := b.newSerial()
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := b.now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		NotBefore:             now.Add(-b.backdate),
		NotAfter:              now.Add(spec.Validity),
		DNSNames:              spec.SANs.DNSNames,
		IPAddresses:           spec.SANs.IPAddresses,
		EmailAddresses:        spec.SANs.EmailAddresses,
		CRLDistributionPoints: spec.CRLDistributionPoints,
		OCSPServer:            spec.OCSPServers,
	}

	for _, raw := range spec.SANs.URIs {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid URI SAN %q: %w", raw, err)
		}
		tmpl.URIs = append(tmpl.URIs, u)
	}

	if bc := spec.BasicConstraints; bc != nil {
		tmpl.BasicConstraintsValid = true
		tmpl.IsCA = bc.CA
		switch {
		case bc.PathLen == nil:
			tmpl.MaxPathLen = -1
		case *bc.PathLen == 0:
			tmpl.MaxPathLen = 0
			tmpl.MaxPathLenZero = true
		default:
			tmpl.MaxPathLen = *bc.PathLen
		}
	}

	if len(spec.KeyUsage) > 0 {
		tmpl.KeyUsage, err = profile.KeyUsageBits(spec.KeyUsage)
		if err != nil {
			return nil, err
		}
	}
	if len(spec.ExtendedKeyUsage) > 0 {
		tmpl.ExtKeyUsage, tmpl.UnknownExtKeyUsage, err = profile.ExtKeyUsages(spec.ExtendedKeyUsage)
		if err != nil {
			return nil, err
		}
	}

	if spec.CertificatePolicies != nil {
		ext, err := encodeCertificatePolicies(spec.CertificatePolicies)
		if err != nil {
			return nil, err
		}
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, ext)
	}

	return tmpl, nil
}
