package config

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/subject"
)

// writeIdentity writes <name>.cer and <name>.key (PKCS#8) into dir.
func writeIdentity(t *testing.T, dir, name string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".cer"),
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".key"),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0600))
}

const fullConfig = `
persistence_timeout: 2s
audit_log: audit.jsonl
certificate_authorities:
  test_ca:
    ca_cert: {cert: test_ca.cer, key: test_ca.key}
    ocsp_cert: {cert: ocsp.cer, key: ocsp.key}
    cdp_location: URI:http://crl.domain.com/test_ca.crl
    ocsp_location: URI:http://ocsp.domain.com
    ocsp_start_skew_seconds: 3600
    ocsp_validity_hours: 48
    crl: {number_file: test_ca.crlnumber, list_file: test_ca.crllist}
    profiles:
      server:
        basic_constraints: CA:FALSE
        key_usage: [digitalSignature, keyEncipherment]
        extended_key_usage: [serverAuth]
        certificate_policies:
          - [policyIdentifier=2.16.840.1.12345.1.2.3.4.1, CPS.1=http://example.com/cps]
      server_with_subject_item_policy:
        basic_constraints: CA:FALSE
        subject_item_policy: {CN: required, O: optional, ST: required, C: required, OU: optional}
      subroot:
        basic_constraints: CA:TRUE,pathlen:0
        key_usage: [keyCertSign, cRLSign]
        extended_key_usage: []
  test_ca_subroot:
    ca_cert: {cert: subroot.cer, key: subroot.key}
    crl: {bolt: crl.db}
  second_ca:
    ca_cert: {cert: second_ca.cer, key: second_ca.key}
    crl: {bolt: crl.db, bucket: second}
  memory_ca:
    ca_cert: {cert: second_ca.cer, key: second_ca.key}
    crl: {memory: true}
`

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range []string{"test_ca", "ocsp", "subroot", "second_ca"} {
		writeIdentity(t, dir, n)
	}
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func loadAndBuild(t *testing.T, path string) *Loaded {
	t.Helper()
	f, err := Load(path)
	require.NoError(t, err)
	l, err := f.Build(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func byName(l *Loaded, name string) *ca.Config {
	for _, c := range l.CAs {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// =============================================================================
// Loading
// =============================================================================

func TestF_Load_FullConfig(t *testing.T) {
	path := writeFixture(t, fullConfig)
	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "audit.jsonl"), f.AuditPath())
	timeout, err := f.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, timeout)

	l, err := f.Build(nil)
	require.NoError(t, err)
	defer l.Close()

	require.Len(t, l.CAs, 4)
	assert.Equal(t, "memory_ca", l.CAs[0].Name())

	c := byName(l, "test_ca")
	require.NotNil(t, c)
	assert.Equal(t, "http://crl.domain.com/test_ca.crl", c.CDPLocation())
	assert.Equal(t, "http://ocsp.domain.com", c.OCSPLocation())
	assert.Equal(t, time.Hour, c.OCSPStartSkew())
	assert.Equal(t, 48*time.Hour, c.OCSPValidity())
	assert.Equal(t, ca.DefaultCRLValidityHours*time.Hour, c.CRLValidity())
	_, delegated := c.OCSPIdentity()
	assert.True(t, delegated)
	assert.Equal(t, []string{"server", "server_with_subject_item_policy", "subroot"}, c.ProfileNames())

	subroot, err := c.Profile("subroot")
	require.NoError(t, err)
	assert.Equal(t, "CA:TRUE,pathlen:0", subroot.BasicConstraints())

	constrained, err := c.Profile("server_with_subject_item_policy")
	require.NoError(t, err)
	s, _ := subject.New("CN", "x", "C", "US")
	assert.ErrorIs(t, constrained.ValidateSubject(s), ca.ErrPolicyViolation)

	sub := byName(l, "test_ca_subroot")
	require.NotNil(t, sub)
	assert.Empty(t, sub.ProfileNames())
	assert.Equal(t, time.Duration(ca.DefaultOCSPStartSkewSeconds)*time.Second, sub.OCSPStartSkew())
	assert.Equal(t, ca.DefaultOCSPValidityHours*time.Hour, sub.OCSPValidity())
}

func TestF_Build_StoresSurviveReload(t *testing.T) {
	path := writeFixture(t, fullConfig)
	ctx := context.Background()

	first := loadAndBuild(t, path)
	for _, name := range []string{"test_ca", "test_ca_subroot", "second_ca", "memory_ca"} {
		n, err := byName(first, name).NextCRLNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n, name)
	}
	n, err := byName(first, "second_ca").NextCRLNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	require.NoError(t, first.Close())

	second := loadAndBuild(t, path)
	want := map[string]uint64{"test_ca": 2, "test_ca_subroot": 2, "second_ca": 3, "memory_ca": 1}
	for name, w := range want {
		n, err := byName(second, name).NextCRLNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, w, n, name)
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(path), "test_ca.crlnumber"))
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(data))
}

// =============================================================================
// Validation
// =============================================================================

func TestU_Parse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte(`
certificate_authorities:
  test_ca:
    ca_cert: {cert: a, key: b}
    ocsp_validty_hours: 48
`), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocsp_validty_hours")
}

func TestU_Parse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no CAs", "persistence_timeout: 1s\n"},
		{"bad timeout", "persistence_timeout: soon\ncertificate_authorities: {a: {ca_cert: {cert: a, key: b}}}\n"},
		{"negative timeout", "persistence_timeout: -1s\ncertificate_authorities: {a: {ca_cert: {cert: a, key: b}}}\n"},
		{"missing key", "certificate_authorities: {a: {ca_cert: {cert: a}}}\n"},
		{"half ocsp cert", "certificate_authorities: {a: {ca_cert: {cert: a, key: b}, ocsp_cert: {cert: c}}}\n"},
		{"half file store", "certificate_authorities: {a: {ca_cert: {cert: a, key: b}, crl: {number_file: n}}}\n"},
		{"two stores", "certificate_authorities: {a: {ca_cert: {cert: a, key: b}, crl: {bolt: x.db, memory: true}}}\n"},
		{"bucket without bolt", "certificate_authorities: {a: {ca_cert: {cert: a, key: b}, crl: {bucket: x}}}\n"},
		{"unknown policy key", "certificate_authorities: {a: {ca_cert: {cert: a, key: b}, profiles: {p: {certificate_policies: [{oid: 1.2.3, url: x}]}}}}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "")
			assert.Error(t, err)
		})
	}
}

func TestU_Build_RejectsZeroOCSPValidity(t *testing.T) {
	path := writeFixture(t, `
certificate_authorities:
  test_ca:
    ca_cert: {cert: test_ca.cer, key: test_ca.key}
    ocsp_validity_hours: 0
`)
	f, err := Load(path)
	require.NoError(t, err)
	_, err = f.Build(nil)
	assert.ErrorIs(t, err, ca.ErrInvalidConfiguration)
}

func TestU_Build_BadProfile(t *testing.T) {
	path := writeFixture(t, `
certificate_authorities:
  test_ca:
    ca_cert: {cert: test_ca.cer, key: test_ca.key}
    profiles:
      broken: {basic_constraints: "CA:FALSE,pathlen:1"}
`)
	f, err := Load(path)
	require.NoError(t, err)
	_, err = f.Build(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profiles.broken")
}

func TestU_Build_KeyMismatch(t *testing.T) {
	path := writeFixture(t, `
certificate_authorities:
  test_ca:
    ca_cert: {cert: test_ca.cer, key: second_ca.key}
`)
	f, err := Load(path)
	require.NoError(t, err)
	_, err = f.Build(nil)
	assert.ErrorIs(t, err, ca.ErrKeyMismatch)
}

func TestU_Build_MissingPassphraseVariable(t *testing.T) {
	path := writeFixture(t, `
certificate_authorities:
  test_ca:
    ca_cert: {cert: test_ca.cer, key: test_ca.key, passphrase_env: CAPOLICY_TEST_UNSET_PASSPHRASE}
`)
	f, err := Load(path)
	require.NoError(t, err)
	_, err = f.Build(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAPOLICY_TEST_UNSET_PASSPHRASE")
}
