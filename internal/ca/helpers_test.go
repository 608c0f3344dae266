package ca

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/remiblancher/capolicy/internal/profile"
	"github.com/remiblancher/capolicy/internal/subject"
)

// newTestIdentity creates a self-signed P-256 CA identity.
func newTestIdentity(t *testing.T, cn string) Identity {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return Identity{Certificate: cert, Signer: key}
}

func testOptions(t *testing.T) Options {
	return Options{
		Name:                 "test_ca",
		Identity:             newTestIdentity(t, "Test CA"),
		CDPLocation:          "URI:http://crl.domain.com/test_ca.crl",
		OCSPLocation:         "URI:http://ocsp.domain.com",
		OCSPStartSkewSeconds: 3600,
		OCSPValidityHours:    48,
	}
}

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	c, err := New(testOptions(t))
	require.NoError(t, err)
	return c
}

// serverProfile mirrors the usual TLS server profile, with a subject policy
// requiring CN and allowing O.
func serverProfile(t *testing.T) *profile.Profile {
	t.Helper()
	policy, err := subject.NewItemPolicy(map[string]subject.Rule{
		"CN": subject.Required,
		"O":  subject.Optional,
	}, subject.ForbidUnlisted)
	require.NoError(t, err)

	p, err := profile.New(profile.Options{
		BasicConstraints: "CA:FALSE",
		KeyUsage:         []string{"digitalSignature", "keyEncipherment"},
		ExtendedKeyUsage: []string{"serverAuth"},
		CertificatePolicies: []profile.PolicyDescriptor{{
			OID:     "2.16.840.1.12345.1.2.3.4.1",
			CPSURIs: []string{"http://example.com/cps"},
		}},
		SubjectItemPolicy: policy,
	})
	require.NoError(t, err)
	return p
}

func mustSubject(t *testing.T, pairs ...string) subject.Subject {
	t.Helper()
	s, err := subject.New(pairs...)
	require.NoError(t, err)
	return s
}
