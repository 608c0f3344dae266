package main

import (
	"bytes"
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

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// executeCommand executes a Cobra command with the given args and returns output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	resetFlags(root)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// resetFlags restores every flag of cmd and its children to its default,
// including the Changed state cobra uses for flag group checks.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

// newTestContext creates a new test context with a temp directory.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	t.Setenv("CAPOLICY_CONFIG", "")
	return &testContext{t: t, tempDir: t.TempDir()}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

// writeCA writes a self-signed CA certificate and its PKCS#8 key as
// <name>.cer and <name>.key.
func (tc *testContext) writeCA(name string) *x509.Certificate {
	tc.t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tc.t.Fatalf("Failed to generate key: %v", err)
	}
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
	if err != nil {
		tc.t.Fatalf("Failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		tc.t.Fatalf("Failed to marshal key: %v", err)
	}
	tc.writeFile(name+".cer", string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})))
	tc.writeFile(name+".key", string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})))
	cert, _ := x509.ParseCertificate(der)
	return cert
}

// writePublicKey writes a fresh PEM public key and returns its path.
func (tc *testContext) writePublicKey(name string) string {
	tc.t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tc.t.Fatalf("Failed to generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		tc.t.Fatalf("Failed to marshal public key: %v", err)
	}
	return tc.writeFile(name, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))
}

// writeCSR writes a PEM CSR for cn and returns its path.
func (tc *testContext) writeCSR(name, cn string, dnsNames ...string) string {
	tc.t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tc.t.Fatalf("Failed to generate key: %v", err)
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: cn},
		DNSNames: dnsNames,
	}, key)
	if err != nil {
		tc.t.Fatalf("Failed to create CSR: %v", err)
	}
	return tc.writeFile(name, string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})))
}

const testConfig = `
audit_log: audit.jsonl
certificate_authorities:
  test_ca:
    ca_cert: {cert: test_ca.cer, key: test_ca.key}
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
      server_with_subject_item_policy:
        basic_constraints: CA:FALSE
        key_usage: [digitalSignature, keyEncipherment]
        subject_item_policy: {CN: required, O: optional, ST: required, C: required, OU: optional}
      subroot:
        description: Subordinate CA
        basic_constraints: CA:TRUE,pathlen:0
        key_usage: [keyCertSign, cRLSign]
        extended_key_usage: []
`

// setupConfig writes the test CA and configuration, returning the config path.
func (tc *testContext) setupConfig() string {
	tc.t.Helper()
	tc.writeCA("test_ca")
	return tc.writeFile("capolicy.yaml", testConfig)
}
