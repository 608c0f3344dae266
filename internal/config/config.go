// Package config loads a YAML file describing one or more certificate
// authorities: signing identities, OCSP and CRL parameters, the CRL store
// and named issuance profiles.
//
//	persistence_timeout: 5s
//	audit_log: audit.jsonl
//	certificate_authorities:
//	  test_ca:
//	    ca_cert: {cert: test_ca.cer, key: test_ca.key}
//	    cdp_location: URI:http://crl.domain.com/test_ca.crl
//	    ocsp_location: URI:http://ocsp.domain.com
//	    ocsp_validity_hours: 48
//	    crl: {number_file: test_ca.crlnumber, list_file: test_ca.crllist}
//	    profiles:
//	      server:
//	        basic_constraints: CA:FALSE
//	        key_usage: [digitalSignature, keyEncipherment]
//
// Unknown keys are rejected. Relative paths resolve against the directory
// of the config file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/capolicy/internal/profile"
)

// File is the decoded configuration file.
type File struct {
	// PersistenceTimeout bounds every CRL store operation.
	PersistenceTimeout string `yaml:"persistence_timeout,omitempty"`

	// AuditLog is the JSONL audit file. Empty disables auditing.
	AuditLog string `yaml:"audit_log,omitempty"`

	CertificateAuthorities map[string]*CASpec `yaml:"certificate_authorities"`

	// dir is where the file was read from.
	dir string
}

// IdentitySpec names a certificate and its private key.
type IdentitySpec struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`

	// PassphraseEnv names an environment variable holding the key
	// passphrase. Passphrases never appear in the file itself.
	PassphraseEnv string `yaml:"passphrase_env,omitempty"`
}

// CRLStoreSpec selects where a CA keeps its CRL number and revocation list.
// Exactly one form may be used; an empty spec means in-memory.
type CRLStoreSpec struct {
	NumberFile string `yaml:"number_file,omitempty"`
	ListFile   string `yaml:"list_file,omitempty"`

	Bolt   string `yaml:"bolt,omitempty"`
	Bucket string `yaml:"bucket,omitempty"`

	Memory bool `yaml:"memory,omitempty"`
}

// CASpec is one certificate authority.
type CASpec struct {
	CACert   IdentitySpec  `yaml:"ca_cert"`
	OCSPCert *IdentitySpec `yaml:"ocsp_cert,omitempty"`

	CDPLocation  string `yaml:"cdp_location,omitempty"`
	OCSPLocation string `yaml:"ocsp_location,omitempty"`

	// Nil means the default; an explicit zero is passed through so it can
	// be rejected where zero is invalid.
	OCSPStartSkewSeconds *int `yaml:"ocsp_start_skew_seconds,omitempty"`
	OCSPValidityHours    *int `yaml:"ocsp_validity_hours,omitempty"`
	CRLValidityHours     *int `yaml:"crl_validity_hours,omitempty"`

	CRL CRLStoreSpec `yaml:"crl,omitempty"`

	Profiles map[string]*profile.Spec `yaml:"profiles,omitempty"`
}

// Parse decodes a configuration. Relative paths resolve against dir.
func Parse(data []byte, dir string) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	f.dir = dir
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and decodes the configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, filepath.Dir(abs))
}

// Validate checks the parts of the file that do not touch the filesystem.
func (f *File) Validate() error {
	var errs []error
	if _, err := f.Timeout(); err != nil {
		errs = append(errs, err)
	}
	if len(f.CertificateAuthorities) == 0 {
		errs = append(errs, fmt.Errorf("certificate_authorities: at least one CA is required"))
	}
	for _, name := range sortedKeys(f.CertificateAuthorities) {
		spec := f.CertificateAuthorities[name]
		if spec == nil {
			errs = append(errs, fmt.Errorf("certificate_authorities.%s: empty", name))
			continue
		}
		if err := spec.validate(); err != nil {
			errs = append(errs, fmt.Errorf("certificate_authorities.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Timeout returns the persistence timeout, or zero for the tracker default.
func (f *File) Timeout() (time.Duration, error) {
	if f.PersistenceTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.PersistenceTimeout)
	if err != nil {
		return 0, fmt.Errorf("persistence_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("persistence_timeout must be positive")
	}
	return d, nil
}

// AuditPath returns the resolved audit log path, or "".
func (f *File) AuditPath() string {
	if f.AuditLog == "" {
		return ""
	}
	return f.resolve(f.AuditLog)
}

// Dir returns the directory relative paths resolve against.
func (f *File) Dir() string { return f.dir }

func (f *File) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || f.dir == "" {
		return p
	}
	return filepath.Join(f.dir, p)
}

func (s *CASpec) validate() error {
	if s.CACert.Cert == "" || s.CACert.Key == "" {
		return fmt.Errorf("ca_cert: cert and key are required")
	}
	if s.OCSPCert != nil && (s.OCSPCert.Cert == "" || s.OCSPCert.Key == "") {
		return fmt.Errorf("ocsp_cert: cert and key are required")
	}
	return s.CRL.validate()
}

func (c *CRLStoreSpec) validate() error {
	forms := 0
	if c.NumberFile != "" || c.ListFile != "" {
		if c.NumberFile == "" || c.ListFile == "" {
			return fmt.Errorf("crl: number_file and list_file must be set together")
		}
		forms++
	}
	if c.Bolt != "" {
		forms++
	} else if c.Bucket != "" {
		return fmt.Errorf("crl: bucket requires bolt")
	}
	if c.Memory {
		forms++
	}
	if forms > 1 {
		return fmt.Errorf("crl: choose one of number_file/list_file, bolt or memory")
	}
	return nil
}
