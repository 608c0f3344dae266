package profile

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"strconv"
	"strings"
)

// BasicConstraints is the parsed form of an OpenSSL-style basic constraints
// string such as "CA:FALSE" or "CA:TRUE,pathlen:0".
//
// Certificates always carry basic constraints as a critical extension.
// Critical records whether the string said so; signing ignores it.
type BasicConstraints struct {
	Critical bool
	CA       bool
	// PathLen is nil when no path length constraint applies.
	PathLen *int
}

// ParseBasicConstraints parses "CA:TRUE|FALSE[,pathlen:N]" with an optional
// leading "critical" token. Keys are case-insensitive.
func ParseBasicConstraints(s string) (BasicConstraints, error) {
	var bc BasicConstraints
	sawCA := false

	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if strings.EqualFold(tok, "critical") {
			bc.Critical = true
			continue
		}

		key, value, ok := strings.Cut(tok, ":")
		if !ok {
			return BasicConstraints{}, fmt.Errorf("invalid basic constraints token %q", tok)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "ca":
			switch strings.ToUpper(value) {
			case "TRUE":
				bc.CA = true
			case "FALSE":
				bc.CA = false
			default:
				return BasicConstraints{}, fmt.Errorf("invalid CA value %q", value)
			}
			sawCA = true
		case "pathlen":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return BasicConstraints{}, fmt.Errorf("invalid pathlen %q", value)
			}
			bc.PathLen = &n
		default:
			return BasicConstraints{}, fmt.Errorf("unknown basic constraints key %q", key)
		}
	}

	if !sawCA {
		return BasicConstraints{}, fmt.Errorf("basic constraints %q does not set CA", s)
	}
	if bc.PathLen != nil && !bc.CA {
		return BasicConstraints{}, fmt.Errorf("pathlen is only valid with CA:TRUE")
	}
	return bc, nil
}

// keyUsageNames maps lower-cased spellings to the OpenSSL name and bit.
var keyUsageNames = map[string]struct {
	name string
	bit  x509.KeyUsage
}{
	"digitalsignature":  {"digitalSignature", x509.KeyUsageDigitalSignature},
	"nonrepudiation":    {"nonRepudiation", x509.KeyUsageContentCommitment},
	"contentcommitment": {"nonRepudiation", x509.KeyUsageContentCommitment},
	"keyencipherment":   {"keyEncipherment", x509.KeyUsageKeyEncipherment},
	"dataencipherment":  {"dataEncipherment", x509.KeyUsageDataEncipherment},
	"keyagreement":      {"keyAgreement", x509.KeyUsageKeyAgreement},
	"keycertsign":       {"keyCertSign", x509.KeyUsageCertSign},
	"certsign":          {"keyCertSign", x509.KeyUsageCertSign},
	"crlsign":           {"cRLSign", x509.KeyUsageCRLSign},
	"encipheronly":      {"encipherOnly", x509.KeyUsageEncipherOnly},
	"decipheronly":      {"decipherOnly", x509.KeyUsageDecipherOnly},
}

// extKeyUsageNames maps lower-cased spellings to the OpenSSL name and value.
var extKeyUsageNames = map[string]struct {
	name  string
	usage x509.ExtKeyUsage
}{
	"serverauth":          {"serverAuth", x509.ExtKeyUsageServerAuth},
	"clientauth":          {"clientAuth", x509.ExtKeyUsageClientAuth},
	"codesigning":         {"codeSigning", x509.ExtKeyUsageCodeSigning},
	"emailprotection":     {"emailProtection", x509.ExtKeyUsageEmailProtection},
	"timestamping":        {"timeStamping", x509.ExtKeyUsageTimeStamping},
	"ocspsigning":         {"OCSPSigning", x509.ExtKeyUsageOCSPSigning},
	"any":                 {"anyExtendedKeyUsage", x509.ExtKeyUsageAny},
	"anyextendedkeyusage": {"anyExtendedKeyUsage", x509.ExtKeyUsageAny},
}

func normalizeUsage(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}

// CanonicalKeyUsages validates key usage names and returns them in OpenSSL
// spelling, keeping order. Duplicates are rejected.
func CanonicalKeyUsages(values []string) ([]string, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		ku, ok := keyUsageNames[normalizeUsage(v)]
		if !ok {
			return nil, fmt.Errorf("unknown key usage: %s", v)
		}
		if seen[ku.name] {
			return nil, fmt.Errorf("duplicate key usage: %s", ku.name)
		}
		seen[ku.name] = true
		out = append(out, ku.name)
	}
	return out, nil
}

// KeyUsageBits converts key usage names to x509.KeyUsage flags.
func KeyUsageBits(values []string) (x509.KeyUsage, error) {
	var usage x509.KeyUsage
	for _, v := range values {
		ku, ok := keyUsageNames[normalizeUsage(v)]
		if !ok {
			return 0, fmt.Errorf("unknown key usage: %s", v)
		}
		usage |= ku.bit
	}
	return usage, nil
}

// CanonicalExtKeyUsages validates extended key usage names and returns them
// in OpenSSL spelling, keeping order. Dotted OIDs are accepted for custom
// purposes. Duplicates are rejected.
func CanonicalExtKeyUsages(values []string) ([]string, error) {
	if values == nil {
		return nil, nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		name := strings.TrimSpace(v)
		if eku, ok := extKeyUsageNames[normalizeUsage(v)]; ok {
			name = eku.name
		} else if _, err := ParseOID(name); err != nil {
			return nil, fmt.Errorf("unknown extended key usage: %s", v)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate extended key usage: %s", name)
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// ExtKeyUsages converts extended key usage names to x509 values. Dotted OIDs
// are returned separately as unknown usages.
func ExtKeyUsages(values []string) ([]x509.ExtKeyUsage, []asn1.ObjectIdentifier, error) {
	var usages []x509.ExtKeyUsage
	var unknown []asn1.ObjectIdentifier
	for _, v := range values {
		if eku, ok := extKeyUsageNames[normalizeUsage(v)]; ok {
			usages = append(usages, eku.usage)
			continue
		}
		oid, err := ParseOID(strings.TrimSpace(v))
		if err != nil {
			return nil, nil, fmt.Errorf("unknown extended key usage: %s", v)
		}
		unknown = append(unknown, oid)
	}
	return usages, unknown, nil
}

// ParseOID parses a dotted OID string into an asn1.ObjectIdentifier.
func ParseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid OID %q", s)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid OID component %q in %q", part, s)
		}
		oid[i] = n
	}
	return oid, nil
}
