package service

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/remiblancher/capolicy/internal/audit"
	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/crl"
	"github.com/remiblancher/capolicy/internal/profile"
	"github.com/remiblancher/capolicy/internal/subject"
	"github.com/remiblancher/capolicy/internal/x509backend"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newIdentity(t *testing.T, cn string) ca.Identity {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             fixedNow.Add(-24 * time.Hour),
		NotAfter:              fixedNow.Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return ca.Identity{Certificate: cert, Signer: key}
}

func newCA(t *testing.T, name string) *ca.Config {
	t.Helper()
	c, err := ca.New(ca.Options{
		Name:                 name,
		Identity:             newIdentity(t, name),
		CDPLocation:          "URI:http://crl.domain.com/" + name + ".crl",
		OCSPLocation:         "URI:http://ocsp.domain.com",
		OCSPStartSkewSeconds: 3600,
		OCSPValidityHours:    48,
	})
	require.NoError(t, err)

	builtins, err := profile.BuiltinProfiles()
	require.NoError(t, err)
	for n, p := range builtins {
		require.NoError(t, c.SetProfile(n, p))
	}
	return c
}

type fixture struct {
	svc *Service
	log *audit.MemoryWriter
}

func newFixture(t *testing.T, names ...string) fixture {
	t.Helper()
	if len(names) == 0 {
		names = []string{"test_ca"}
	}
	var cas []*ca.Config
	for _, n := range names {
		cas = append(cas, newCA(t, n))
	}
	mem := audit.NewMemoryWriter()
	now := func() time.Time { return fixedNow }
	svc, err := New(cas, Options{
		Backend: x509backend.New(x509backend.Options{Now: now}),
		Audit:   audit.NewLogger(mem),
		Now:     now,
	})
	require.NoError(t, err)
	return fixture{svc: svc, log: mem}
}

func serverRequest(t *testing.T) ca.Request {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	s, err := subject.Parse("/C=US/ST=Illinois/O=r509 LLC/CN=r509 Test")
	require.NoError(t, err)
	return ca.Request{Subject: s, PublicKey: &key.PublicKey}
}

func eventTypes(m *audit.MemoryWriter) []audit.EventType {
	var out []audit.EventType
	for _, e := range m.Events() {
		out = append(out, e.EventType)
	}
	return out
}

// =============================================================================
// Construction
// =============================================================================

func TestU_New_RejectsDuplicates(t *testing.T) {
	c := newCA(t, "test_ca")
	_, err := New([]*ca.Config{c, c}, Options{Backend: x509backend.New(x509backend.Options{})})
	assert.Error(t, err)

	_, err = New([]*ca.Config{c}, Options{})
	assert.Error(t, err)
}

func TestU_Service_CALookup(t *testing.T) {
	f := newFixture(t, "test_ca", "second_ca")
	assert.Equal(t, []string{"second_ca", "test_ca"}, f.svc.CANames())

	_, err := f.svc.CA("missing")
	assert.ErrorIs(t, err, ErrCANotFound)
}

func TestU_Service_SetProfileIsAudited(t *testing.T) {
	f := newFixture(t)
	p, err := profile.GetBuiltinProfile("server")
	require.NoError(t, err)

	replaced, err := f.svc.SetProfile(context.Background(), "test_ca", "extra", p)
	require.NoError(t, err)
	assert.False(t, replaced)
	replaced, err = f.svc.SetProfile(context.Background(), "test_ca", "extra", p)
	require.NoError(t, err)
	assert.True(t, replaced)

	events := f.log.Events()
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventProfileSet, events[1].EventType)
	assert.True(t, events[1].Context.Replaced)
}

// =============================================================================
// Issuance
// =============================================================================

func TestF_Service_Issue(t *testing.T) {
	f := newFixture(t)
	req := serverRequest(t)
	req.KeyUsage = []string{"keyAgreement"}

	res, err := f.svc.Issue(context.Background(), "test_ca", "server_with_subject_item_policy", req)
	require.NoError(t, err)

	cert := res.Certificate
	assert.Equal(t, "r509 Test", cert.Subject.CommonName)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, cert.KeyUsage)
	assert.Equal(t, []string{"http://crl.domain.com/test_ca.crl"}, cert.CRLDistributionPoints)
	assert.Equal(t, []string{"http://ocsp.domain.com"}, cert.OCSPServer)
	require.NoError(t, cert.CheckSignatureFrom(f.mustCA(t).Identity().Certificate))

	assert.Equal(t, []audit.EventType{audit.EventIssuanceResolved, audit.EventCertSigned}, eventTypes(f.log))
	assert.Equal(t, []string{"key_usage"}, f.log.Events()[0].Context.Ignored)
}

func (f fixture) mustCA(t *testing.T) *ca.Config {
	c, err := f.svc.CA("test_ca")
	require.NoError(t, err)
	return c
}

func TestU_Service_IssueRejectedIsAudited(t *testing.T) {
	f := newFixture(t)
	req := serverRequest(t)
	req.Subject = req.Subject.Add("emailAddress", "x@example.com")

	_, err := f.svc.Issue(context.Background(), "test_ca", "server_with_subject_item_policy", req)
	require.ErrorIs(t, err, ca.ErrPolicyViolation)

	events := f.log.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventIssuanceRejected, events[0].EventType)
	assert.Equal(t, audit.ResultFailure, events[0].Result)
	assert.Contains(t, events[0].Context.Reason, "emailAddress")
}

type failingWriter struct{ audit.NopWriter }

func (failingWriter) Write(*audit.Event) error { return errors.New("disk full") }

func TestU_Service_AuditFailureFailsOperation(t *testing.T) {
	c := newCA(t, "test_ca")
	svc, err := New([]*ca.Config{c}, Options{
		Backend: x509backend.New(x509backend.Options{}),
		Audit:   audit.NewLogger(failingWriter{}),
	})
	require.NoError(t, err)

	_, err = svc.Issue(context.Background(), "test_ca", "server", serverRequest(t))
	assert.ErrorContains(t, err, "disk full")

	err = svc.Revoke(context.Background(), "test_ca", big.NewInt(5), crl.ReasonKeyCompromise, time.Time{}, false)
	assert.ErrorContains(t, err, "disk full")
}

// =============================================================================
// Revocation, CRL and OCSP
// =============================================================================

func TestF_Service_RevokeAndGenerateCRL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Revoke(ctx, "test_ca", big.NewInt(1234), crl.ReasonKeyCompromise, time.Time{}, false))
	err := f.svc.Revoke(ctx, "test_ca", big.NewInt(1234), crl.ReasonSuperseded, time.Time{}, false)
	require.ErrorIs(t, err, ca.ErrAlreadyRevoked)

	res, err := f.svc.GenerateCRL(ctx, "test_ca")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Number)
	assert.Equal(t, 1, res.Revoked)
	assert.Equal(t, fixedNow.Add(ca.DefaultCRLValidityHours*time.Hour), res.NextUpdate)

	list, err := x509.ParseRevocationList(res.DER)
	require.NoError(t, err)
	assert.Zero(t, big.NewInt(1).Cmp(list.Number))
	require.Len(t, list.RevokedCertificateEntries, 1)
	assert.True(t, fixedNow.Equal(list.RevokedCertificateEntries[0].RevocationTime))

	second, err := f.svc.GenerateCRL(ctx, "test_ca")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Number)

	events := f.log.Events()
	assert.Equal(t, []audit.EventType{
		audit.EventCertRevoked, audit.EventCertRevoked, audit.EventCRLGenerated, audit.EventCRLGenerated,
	}, eventTypes(f.log))
	assert.Equal(t, audit.ResultFailure, events[1].Result)
}

func TestU_Service_UnrevokeUnknownSerial(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Unrevoke(context.Background(), "test_ca", big.NewInt(9))
	assert.ErrorIs(t, err, ca.ErrNotRevoked)
}

func TestF_Service_RespondOCSP(t *testing.T) {
	f := newFixture(t, "test_ca", "second_ca")
	ctx := context.Background()

	res, err := f.svc.Issue(ctx, "second_ca", "server", serverRequest(t))
	require.NoError(t, err)
	issuer, err := f.svc.CA("second_ca")
	require.NoError(t, err)
	require.NoError(t, f.svc.Revoke(ctx, "second_ca", res.Certificate.SerialNumber, crl.ReasonCessationOfOperation, time.Time{}, false))

	reqDER, err := ocsp.CreateRequest(res.Certificate, issuer.Identity().Certificate, &ocsp.RequestOptions{Hash: crypto.SHA256})
	require.NoError(t, err)

	der, err := f.svc.RespondOCSP(ctx, reqDER)
	require.NoError(t, err)
	resp, err := ocsp.ParseResponse(der, issuer.Identity().Certificate)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Revoked, resp.Status)
	assert.Equal(t, int(crl.ReasonCessationOfOperation), resp.RevocationReason)
	assert.True(t, fixedNow.Add(-time.Hour).Equal(resp.ThisUpdate))
	assert.True(t, fixedNow.Add(48*time.Hour).Equal(resp.NextUpdate))
}

func TestU_Service_RespondOCSP_UnknownIssuer(t *testing.T) {
	f := newFixture(t)
	stranger := newIdentity(t, "Stranger CA")
	leaf := newIdentity(t, "leaf")

	reqDER, err := ocsp.CreateRequest(leaf.Certificate, stranger.Certificate, nil)
	require.NoError(t, err)
	der, err := f.svc.RespondOCSP(context.Background(), reqDER)
	require.NoError(t, err)
	assert.Equal(t, ocsp.UnauthorizedErrorResponse, der)

	_, err = f.svc.RespondOCSP(context.Background(), []byte("junk"))
	assert.ErrorIs(t, err, ca.ErrInvalidRequest)
}
