package profile

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiblancher/capolicy/internal/subject"
)

func serverOptions() Options {
	return Options{
		BasicConstraints: "CA:FALSE",
		KeyUsage:         []string{"digitalSignature", "keyEncipherment"},
		ExtendedKeyUsage: []string{"serverAuth"},
		CertificatePolicies: []PolicyDescriptor{{
			OID:     "2.16.840.1.12345.1.2.3.4.1",
			CPSURIs: []string{"http://example.com/cps"},
		}},
	}
}

// =============================================================================
// Construction
// =============================================================================

func TestU_New_ServerProfile(t *testing.T) {
	p, err := New(serverOptions())
	require.NoError(t, err)

	assert.Equal(t, "CA:FALSE", p.BasicConstraints())
	assert.False(t, p.IsCA())

	ku, ok := p.KeyUsage()
	assert.True(t, ok)
	assert.Equal(t, []string{"digitalSignature", "keyEncipherment"}, ku)

	eku, ok := p.ExtendedKeyUsage()
	assert.True(t, ok)
	assert.Equal(t, []string{"serverAuth"}, eku)

	policies, ok := p.CertificatePolicies()
	require.True(t, ok)
	require.Len(t, policies, 1)
	assert.Equal(t, "2.16.840.1.12345.1.2.3.4.1", policies[0].OID)
}

func TestU_New_SubrootKeepsBasicConstraintsVerbatim(t *testing.T) {
	p, err := New(Options{
		BasicConstraints: "CA:TRUE,pathlen:0",
		KeyUsage:         []string{"keyCertSign", "cRLSign"},
		ExtendedKeyUsage: []string{},
	})
	require.NoError(t, err)

	assert.Equal(t, "CA:TRUE,pathlen:0", p.BasicConstraints())
	assert.True(t, p.IsCA())
	bc := p.ParsedBasicConstraints()
	require.NotNil(t, bc)
	require.NotNil(t, bc.PathLen)
	assert.Equal(t, 0, *bc.PathLen)

	eku, declared := p.ExtendedKeyUsage()
	assert.True(t, declared)
	assert.Empty(t, eku)
}

func TestU_New_PoliciesAbsentVersusEmpty(t *testing.T) {
	absent, err := New(Options{BasicConstraints: "CA:FALSE"})
	require.NoError(t, err)
	policies, present := absent.CertificatePolicies()
	assert.False(t, present)
	assert.Nil(t, policies)

	empty, err := New(Options{BasicConstraints: "CA:FALSE", CertificatePolicies: []PolicyDescriptor{}})
	require.NoError(t, err)
	policies, present = empty.CertificatePolicies()
	assert.True(t, present)
	assert.NotNil(t, policies)
	assert.Empty(t, policies)
}

func TestU_New_RejectsEmptyPolicyIdentifier(t *testing.T) {
	opts := serverOptions()
	opts.CertificatePolicies = []PolicyDescriptor{{OID: ""}}
	_, err := New(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certificate_policies[0]")
}

func TestU_New_RejectsBadInputs(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"bad basic constraints", Options{BasicConstraints: "CA:MAYBE"}},
		{"pathlen without CA", Options{BasicConstraints: "CA:FALSE,pathlen:1"}},
		{"unknown key usage", Options{KeyUsage: []string{"fly"}}},
		{"duplicate key usage", Options{KeyUsage: []string{"cRLSign", "crl-sign"}}},
		{"unknown eku", Options{ExtendedKeyUsage: []string{"serverauthx"}}},
		{"bad policy oid", Options{CertificatePolicies: []PolicyDescriptor{{OID: "not.an.oid"}}}},
		{"negative validity", Options{DefaultValidity: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestU_New_CanonicalisesUsageNames(t *testing.T) {
	p, err := New(Options{
		KeyUsage:         []string{"digital-signature", "KEYENCIPHERMENT"},
		ExtendedKeyUsage: []string{"server-auth", "ocspsigning", "1.3.6.1.4.1.311.20.2.2"},
	})
	require.NoError(t, err)

	ku, _ := p.KeyUsage()
	assert.Equal(t, []string{"digitalSignature", "keyEncipherment"}, ku)
	eku, _ := p.ExtendedKeyUsage()
	assert.Equal(t, []string{"serverAuth", "OCSPSigning", "1.3.6.1.4.1.311.20.2.2"}, eku)
}

func TestU_Profile_AccessorsReturnCopies(t *testing.T) {
	p, err := New(serverOptions())
	require.NoError(t, err)

	ku, _ := p.KeyUsage()
	ku[0] = "keyAgreement"
	policies, _ := p.CertificatePolicies()
	policies[0].CPSURIs[0] = "http://evil.example/cps"

	ku2, _ := p.KeyUsage()
	assert.Equal(t, "digitalSignature", ku2[0])
	policies2, _ := p.CertificatePolicies()
	assert.Equal(t, "http://example.com/cps", policies2[0].CPSURIs[0])
}

func TestU_Profile_OptionsRebuildsSameProfile(t *testing.T) {
	p, err := New(serverOptions())
	require.NoError(t, err)

	again, err := New(p.Options())
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

// =============================================================================
// Subject validation
// =============================================================================

func TestU_Profile_ValidateSubject_NoPolicyAcceptsAll(t *testing.T) {
	p, err := New(serverOptions())
	require.NoError(t, err)

	s, _ := subject.New("CN", "x", "nickname", "anything")
	assert.NoError(t, p.ValidateSubject(s))
}

func TestU_Profile_ValidateSubject_Delegates(t *testing.T) {
	policy, err := subject.NewItemPolicy(map[string]subject.Rule{
		"CN": subject.Required,
		"O":  subject.Optional,
	}, subject.ForbidUnlisted)
	require.NoError(t, err)

	opts := serverOptions()
	opts.SubjectItemPolicy = policy
	p, err := New(opts)
	require.NoError(t, err)

	ok, _ := subject.New("CN", "example.com")
	assert.NoError(t, p.ValidateSubject(ok))

	bad, _ := subject.New("O", "Example Inc")
	assert.ErrorIs(t, p.ValidateSubject(bad), subject.ErrPolicyViolation)
}

// =============================================================================
// Extension helpers
// =============================================================================

func TestU_ParseBasicConstraints(t *testing.T) {
	bc, err := ParseBasicConstraints("critical, CA:true, pathlen:3")
	require.NoError(t, err)
	assert.True(t, bc.Critical)
	assert.True(t, bc.CA)
	require.NotNil(t, bc.PathLen)
	assert.Equal(t, 3, *bc.PathLen)

	_, err = ParseBasicConstraints("pathlen:1")
	assert.Error(t, err)
	_, err = ParseBasicConstraints("CA:TRUE,pathlen:-1")
	assert.Error(t, err)
	_, err = ParseBasicConstraints("CA:TRUE,depth:1")
	assert.Error(t, err)
}

func TestU_KeyUsageBits(t *testing.T) {
	bits, err := KeyUsageBits([]string{"digitalSignature", "keyEncipherment"})
	require.NoError(t, err)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, bits)
}

func TestU_ExtKeyUsages(t *testing.T) {
	usages, unknown, err := ExtKeyUsages([]string{"serverAuth", "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, usages)
	require.Len(t, unknown, 1)
	assert.Equal(t, "1.2.3.4", unknown[0].String())
}

func TestU_ParsePolicyDescriptor(t *testing.T) {
	d, err := ParsePolicyDescriptor([]string{
		"CPS.2=http://example.com/cps2",
		"policyIdentifier=2.16.840.1.12345.1.2.3.4.1",
		"CPS.1=http://example.com/cps",
		"userNotice.1=Test only",
	})
	require.NoError(t, err)
	assert.Equal(t, "2.16.840.1.12345.1.2.3.4.1", d.OID)
	assert.Equal(t, []string{"http://example.com/cps", "http://example.com/cps2"}, d.CPSURIs)
	assert.Equal(t, []string{"Test only"}, d.UserNotices)

	_, err = ParsePolicyDescriptor([]string{"CPS.1=http://example.com/cps"})
	assert.Error(t, err)
	_, err = ParsePolicyDescriptor([]string{"policyIdentifier=1.2.3", "explicitText=x"})
	assert.Error(t, err)
}
