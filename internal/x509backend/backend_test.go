package x509backend

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/crl"
	"github.com/remiblancher/capolicy/internal/profile"
	"github.com/remiblancher/capolicy/internal/subject"
)

func newIdentity(t *testing.T, cn string, parent *ca.Identity, isCA bool, eku []x509.ExtKeyUsage) ca.Identity {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  isCA,
		BasicConstraintsValid: true,
		ExtKeyUsage:           eku,
	}
	if isCA {
		tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature
	} else {
		tmpl.KeyUsage = x509.KeyUsageDigitalSignature
	}

	parentCert, parentKey := tmpl, any(key)
	if parent != nil {
		parentCert, parentKey = parent.Certificate, parent.Signer
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parentCert, &key.PublicKey, parentKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return ca.Identity{Certificate: cert, Signer: key}
}

func newConfig(t *testing.T, ocspIdentity *ca.Identity) *ca.Config {
	t.Helper()
	c, err := ca.New(ca.Options{
		Name:                 "test_ca",
		Identity:             newIdentity(t, "Test CA", nil, true, nil),
		OCSPIdentity:         ocspIdentity,
		CDPLocation:          "URI:http://crl.domain.com/test_ca.crl",
		OCSPLocation:         "URI:http://ocsp.domain.com",
		OCSPStartSkewSeconds: 3600,
		OCSPValidityHours:    48,
	})
	require.NoError(t, err)
	return c
}

func builtin(t *testing.T, name string) *profile.Profile {
	t.Helper()
	p, err := profile.GetBuiltinProfile(name)
	require.NoError(t, err)
	return p
}

// =============================================================================
// Certificates
// =============================================================================

func TestF_SignCertificate_Server(t *testing.T) {
	c := newConfig(t, nil)
	require.NoError(t, c.SetProfile("server", builtin(t, "server")))
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	subj, err := subject.Parse("/C=US/ST=Illinois/L=Chicago/O=Org/CN=example.com")
	require.NoError(t, err)
	spec, err := c.Issue("server", ca.Request{
		Subject:   subj,
		PublicKey: &leafKey.PublicKey,
		SANs:      ca.SubjectAltNames{DNSNames: []string{"example.com"}, URIs: []string{"https://example.com/id"}},
	})
	require.NoError(t, err)

	b := New(Options{Backdate: time.Minute})
	cert, err := b.SignCertificate(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, "example.com", cert.Subject.CommonName)
	assert.False(t, cert.IsCA)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, cert.KeyUsage)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, cert.ExtKeyUsage)
	assert.Equal(t, []string{"http://crl.domain.com/test_ca.crl"}, cert.CRLDistributionPoints)
	assert.Equal(t, []string{"http://ocsp.domain.com"}, cert.OCSPServer)
	assert.Equal(t, []string{"example.com"}, cert.DNSNames)
	require.Len(t, cert.URIs, 1)
	assert.Equal(t, "2.16.840.1.12345.1.2.3.4.1", cert.PolicyIdentifiers[0].String())

	require.NoError(t, cert.CheckSignatureFrom(c.Identity().Certificate))
}

func TestF_SignCertificate_Subroot(t *testing.T) {
	c := newConfig(t, nil)
	require.NoError(t, c.SetProfile("subroot", builtin(t, "subroot")))
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	spec, err := c.Issue("subroot", ca.Request{
		Subject:   subject.Subject{{Name: "CN", Value: "Sub CA"}},
		PublicKey: &key.PublicKey,
	})
	require.NoError(t, err)

	cert, err := New(Options{}).SignCertificate(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, cert.IsCA)
	assert.Equal(t, 0, cert.MaxPathLen)
	assert.True(t, cert.MaxPathLenZero)
	assert.Empty(t, cert.ExtKeyUsage)
	assert.Empty(t, cert.PolicyIdentifiers)
}

func TestU_SignCertificate_BasicConstraintsAlwaysCritical(t *testing.T) {
	oidBasicConstraints := asn1.ObjectIdentifier{2, 5, 29, 19}
	for _, bc := range []string{"CA:FALSE", "critical,CA:FALSE"} {
		t.Run(bc, func(t *testing.T) {
			c := newConfig(t, nil)
			p, err := profile.New(profile.Options{BasicConstraints: bc})
			require.NoError(t, err)
			require.NoError(t, c.SetProfile("leaf", p))
			key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			require.NoError(t, err)

			spec, err := c.Issue("leaf", ca.Request{
				Subject:   subject.Subject{{Name: "CN", Value: "leaf"}},
				PublicKey: &key.PublicKey,
			})
			require.NoError(t, err)

			cert, err := New(Options{}).SignCertificate(context.Background(), spec)
			require.NoError(t, err)

			var found bool
			for _, ext := range cert.Extensions {
				if ext.Id.Equal(oidBasicConstraints) {
					found = true
					assert.True(t, ext.Critical)
				}
			}
			assert.True(t, found)
		})
	}
}

func TestU_SignCertificate_RequiresPublicKey(t *testing.T) {
	c := newConfig(t, nil)
	require.NoError(t, c.SetProfile("server", builtin(t, "server")))
	spec, err := c.Issue("server", ca.Request{Subject: subject.Subject{{Name: "CN", Value: "x"}}})
	require.NoError(t, err)

	_, err = New(Options{}).SignCertificate(context.Background(), spec)
	assert.Error(t, err)
}

// =============================================================================
// Certificate policies encoding
// =============================================================================

func TestU_EncodeCertificatePolicies_RoundTrip(t *testing.T) {
	in := []profile.PolicyDescriptor{{
		OID:         "2.16.840.1.12345.1.2.3.4.1",
		CPSURIs:     []string{"http://example.com/cps"},
		UserNotices: []string{"Testing only"},
	}}
	ext, err := encodeCertificatePolicies(in)
	require.NoError(t, err)
	assert.True(t, ext.Id.Equal(asn1.ObjectIdentifier{2, 5, 29, 32}))
	assert.False(t, ext.Critical)

	out, err := decodeCertificatePolicies(ext.Value)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestU_EncodeCertificatePolicies_CPSIsIA5String(t *testing.T) {
	ext, err := encodeCertificatePolicies([]profile.PolicyDescriptor{{
		OID:     "1.2.3",
		CPSURIs: []string{"http://example.com/cps"},
	}})
	require.NoError(t, err)

	var policies []policyInformation
	_, err = asn1.Unmarshal(ext.Value, &policies)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	require.Len(t, policies[0].PolicyQualifiers, 1)

	var raw asn1.RawValue
	_, err = asn1.Unmarshal(policies[0].PolicyQualifiers[0].Qualifier.FullBytes, &raw)
	require.NoError(t, err)
	assert.Equal(t, asn1.TagIA5String, raw.Tag)
}

func TestU_EncodeCertificatePolicies_Empty(t *testing.T) {
	ext, err := encodeCertificatePolicies([]profile.PolicyDescriptor{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x00}, ext.Value)
}

// =============================================================================
// CRL
// =============================================================================

func TestF_EncodeCRL(t *testing.T) {
	c := newConfig(t, nil)
	ctx := context.Background()
	at := time.Unix(1323983885, 0).UTC()
	require.NoError(t, c.RevokeCertificate(ctx, big.NewInt(12345), crl.ReasonUnspecified, at, false))
	require.NoError(t, c.RevokeCertificate(ctx, big.NewInt(12346), crl.ReasonKeyCompromise, at, false))

	now := time.Now().Truncate(time.Second)
	spec, err := c.PrepareCRL(ctx, now)
	require.NoError(t, err)

	der, err := New(Options{}).EncodeCRL(ctx, spec)
	require.NoError(t, err)

	rl, err := x509.ParseRevocationList(der)
	require.NoError(t, err)
	require.NoError(t, rl.CheckSignatureFrom(c.Identity().Certificate))
	assert.Equal(t, int64(1), rl.Number.Int64())
	require.Len(t, rl.RevokedCertificateEntries, 2)
	assert.Equal(t, int64(12345), rl.RevokedCertificateEntries[0].SerialNumber.Int64())
	assert.Equal(t, 1, rl.RevokedCertificateEntries[1].ReasonCode)
	assert.True(t, rl.NextUpdate.Equal(now.Add(c.CRLValidity())))
}

// =============================================================================
// OCSP
// =============================================================================

func TestF_SignOCSPResponse_Revoked(t *testing.T) {
	c := newConfig(t, nil)
	ctx := context.Background()
	at := time.Unix(1700000000, 0).UTC()
	require.NoError(t, c.RevokeCertificate(ctx, big.NewInt(77), crl.ReasonKeyCompromise, at, false))

	now := time.Now().Truncate(time.Second)
	spec, err := c.PrepareOCSP(ctx, big.NewInt(77), now)
	require.NoError(t, err)

	der, err := New(Options{}).SignOCSPResponse(ctx, spec)
	require.NoError(t, err)

	resp, err := ocsp.ParseResponse(der, c.Identity().Certificate)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Revoked, resp.Status)
	assert.Equal(t, ocsp.KeyCompromise, resp.RevocationReason)
	assert.True(t, resp.RevokedAt.Equal(at))
	assert.True(t, resp.ThisUpdate.Equal(now.Add(-time.Hour)))
	assert.True(t, resp.NextUpdate.Equal(now.Add(48*time.Hour)))
}

func TestF_SignOCSPResponse_DelegatedResponder(t *testing.T) {
	caIdentity := newIdentity(t, "Test CA", nil, true, nil)
	responder := newIdentity(t, "Test CA OCSP", &caIdentity, false, []x509.ExtKeyUsage{x509.ExtKeyUsageOCSPSigning})

	c, err := ca.New(ca.Options{
		Name:              "test_ca",
		Identity:          caIdentity,
		OCSPIdentity:      &responder,
		OCSPValidityHours: 168,
	})
	require.NoError(t, err)

	spec, err := c.PrepareOCSP(context.Background(), big.NewInt(1), time.Now())
	require.NoError(t, err)
	assert.True(t, spec.Delegated)

	der, err := New(Options{}).SignOCSPResponse(context.Background(), spec)
	require.NoError(t, err)

	resp, err := ocsp.ParseResponse(der, caIdentity.Certificate)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Good, resp.Status)
	require.NotNil(t, resp.Certificate)
	assert.Equal(t, responder.Certificate.Raw, resp.Certificate.Raw)
}

func TestU_ParseRequest(t *testing.T) {
	c := newConfig(t, nil)
	leaf := newIdentity(t, "leaf", func() *ca.Identity { id := c.Identity(); return &id }(), false, nil)

	der, err := ocsp.CreateRequest(leaf.Certificate, c.Identity().Certificate, nil)
	require.NoError(t, err)

	req, err := ParseRequest(der)
	require.NoError(t, err)
	assert.Zero(t, leaf.Certificate.SerialNumber.Cmp(req.SerialNumber))

	_, err = ParseRequest([]byte("junk"))
	assert.Error(t, err)
}

func TestU_IssuedBy(t *testing.T) {
	c := newConfig(t, nil)
	other := newIdentity(t, "Other CA", nil, true, nil)
	issuer := c.Identity()
	leaf := newIdentity(t, "leaf", &issuer, false, nil)

	der, err := ocsp.CreateRequest(leaf.Certificate, issuer.Certificate, &ocsp.RequestOptions{Hash: crypto.SHA256})
	require.NoError(t, err)
	req, err := ParseRequest(der)
	require.NoError(t, err)

	assert.True(t, IssuedBy(req, issuer.Certificate))
	assert.False(t, IssuedBy(req, other.Certificate))
	assert.False(t, IssuedBy(nil, issuer.Certificate))
}
