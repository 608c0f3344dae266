package dto

import "github.com/remiblancher/capolicy/internal/profile"

// IssueRequest asks a CA to issue a certificate under a profile.
//
// Either CSR or PublicKey must be given. With a CSR the subject defaults to
// the CSR's subject. Extension fields left null are not requested.
type IssueRequest struct {
	Profile string `json:"profile"`

	// Subject in "/CN=a/O=b" or "CN=a,O=b" form.
	Subject string `json:"subject,omitempty"`

	// CSR is a PEM certificate request.
	CSR string `json:"csr,omitempty"`

	// PublicKey is a PEM "PUBLIC KEY" block.
	PublicKey string `json:"public_key,omitempty"`

	DNSNames       []string `json:"dns_names,omitempty"`
	IPAddresses    []string `json:"ip_addresses,omitempty"`
	EmailAddresses []string `json:"email_addresses,omitempty"`
	URIs           []string `json:"uris,omitempty"`

	BasicConstraints    string                     `json:"basic_constraints,omitempty"`
	KeyUsage            []string                   `json:"key_usage,omitempty"`
	ExtendedKeyUsage    []string                   `json:"extended_key_usage,omitempty"`
	CertificatePolicies []profile.PolicyDescriptor `json:"certificate_policies,omitempty"`

	// Validity is a duration such as "90d" or "2160h".
	Validity string `json:"validity,omitempty"`
}

// IgnoredField is a requested value the profile overrode.
type IgnoredField struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ResolveResponse is the certificate content a profile produced for a
// request, before signing.
type ResolveResponse struct {
	CA                    string                     `json:"ca"`
	Profile               string                     `json:"profile"`
	Subject               string                     `json:"subject"`
	BasicConstraints      string                     `json:"basic_constraints,omitempty"`
	KeyUsage              []string                   `json:"key_usage"`
	ExtendedKeyUsage      []string                   `json:"extended_key_usage"`
	CertificatePolicies   []profile.PolicyDescriptor `json:"certificate_policies"`
	CRLDistributionPoints []string                   `json:"crl_distribution_points,omitempty"`
	OCSPServers           []string                   `json:"ocsp_servers,omitempty"`
	Validity              string                     `json:"validity"`
	Ignored               []IgnoredField             `json:"ignored,omitempty"`
}

// IssueResponse is a signed certificate.
type IssueResponse struct {
	ResolveResponse
	Serial      string `json:"serial"`
	Certificate string `json:"certificate"` // PEM
	NotBefore   string `json:"not_before"`  // RFC3339
	NotAfter    string `json:"not_after"`   // RFC3339
}

// RevokeRequest revokes a certificate by serial.
type RevokeRequest struct {
	// Serial is decimal, or hexadecimal with a 0x prefix.
	Serial string `json:"serial"`

	// Reason is an RFC 5280 reason name or code. Default: unspecified.
	Reason string `json:"reason,omitempty"`

	// RevokedAt is RFC3339. Default: now.
	RevokedAt string `json:"revoked_at,omitempty"`

	// Override replaces an existing record instead of failing.
	Override bool `json:"override,omitempty"`
}

// UnrevokeRequest removes a certificate from the revocation list.
type UnrevokeRequest struct {
	Serial string `json:"serial"`
}

// RevocationResponse acknowledges a revocation change.
type RevocationResponse struct {
	CA      string `json:"ca"`
	Serial  string `json:"serial"`
	Revoked bool   `json:"revoked"`
	Reason  string `json:"reason,omitempty"`
}
