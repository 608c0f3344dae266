// Package subject models certificate subject distinguished names and the
// per-attribute policies applied to them before a request is honored.
package subject

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strconv"
	"strings"
)

// Item is a single attribute of a distinguished name.
type Item struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Subject is an ordered sequence of DN attributes. The same attribute name
// may appear more than once (e.g. several OU values).
type Subject []Item

// Attribute OIDs (RFC 5280, RFC 4519).
var (
	oidCommonName         = asn1.ObjectIdentifier{2, 5, 4, 3}
	oidSurname            = asn1.ObjectIdentifier{2, 5, 4, 4}
	oidSerialNumber       = asn1.ObjectIdentifier{2, 5, 4, 5}
	oidCountry            = asn1.ObjectIdentifier{2, 5, 4, 6}
	oidLocality           = asn1.ObjectIdentifier{2, 5, 4, 7}
	oidProvince           = asn1.ObjectIdentifier{2, 5, 4, 8}
	oidStreetAddress      = asn1.ObjectIdentifier{2, 5, 4, 9}
	oidOrganization       = asn1.ObjectIdentifier{2, 5, 4, 10}
	oidOrganizationalUnit = asn1.ObjectIdentifier{2, 5, 4, 11}
	oidTitle              = asn1.ObjectIdentifier{2, 5, 4, 12}
	oidPostalCode         = asn1.ObjectIdentifier{2, 5, 4, 17}
	oidGivenName          = asn1.ObjectIdentifier{2, 5, 4, 42}
	oidEmailAddress       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
	oidDomainComponent    = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 25}
	oidUserID             = asn1.ObjectIdentifier{0, 9, 2342, 19200300, 100, 1, 1}
)

// canonicalNames maps lower-cased spellings to OpenSSL short names.
var canonicalNames = map[string]string{
	"cn":                     "CN",
	"commonname":             "CN",
	"o":                      "O",
	"organization":           "O",
	"organizationname":       "O",
	"ou":                     "OU",
	"organizationalunit":     "OU",
	"organizationalunitname": "OU",
	"l":                      "L",
	"locality":               "L",
	"localityname":           "L",
	"st":                     "ST",
	"state":                  "ST",
	"province":               "ST",
	"stateorprovincename":    "ST",
	"c":                      "C",
	"country":                "C",
	"countryname":            "C",
	"street":                 "street",
	"streetaddress":          "street",
	"postalcode":             "postalCode",
	"serialnumber":           "serialNumber",
	"email":                  "emailAddress",
	"emailaddress":           "emailAddress",
	"dc":                     "DC",
	"domaincomponent":        "DC",
	"uid":                    "UID",
	"userid":                 "UID",
	"title":                  "title",
	"gn":                     "GN",
	"givenname":              "GN",
	"sn":                     "SN",
	"surname":                "SN",
}

var nameOIDs = map[string]asn1.ObjectIdentifier{
	"CN":           oidCommonName,
	"SN":           oidSurname,
	"serialNumber": oidSerialNumber,
	"C":            oidCountry,
	"L":            oidLocality,
	"ST":           oidProvince,
	"street":       oidStreetAddress,
	"O":            oidOrganization,
	"OU":           oidOrganizationalUnit,
	"title":        oidTitle,
	"postalCode":   oidPostalCode,
	"GN":           oidGivenName,
	"emailAddress": oidEmailAddress,
	"DC":           oidDomainComponent,
	"UID":          oidUserID,
}

// CanonicalName returns the OpenSSL short name for a known attribute
// spelling, matched case-insensitively. Unknown names are returned trimmed
// but otherwise unchanged.
func CanonicalName(name string) string {
	name = strings.TrimSpace(name)
	if c, ok := canonicalNames[strings.ToLower(name)]; ok {
		return c
	}
	return name
}

// New builds a Subject from alternating name/value pairs.
func New(pairs ...string) (Subject, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("odd number of name/value arguments: %d", len(pairs))
	}
	s := make(Subject, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		s = s.Add(pairs[i], pairs[i+1])
	}
	return s, nil
}

// Add returns a copy of s with the attribute appended.
func (s Subject) Add(name, value string) Subject {
	out := make(Subject, len(s), len(s)+1)
	copy(out, s)
	return append(out, Item{Name: CanonicalName(name), Value: value})
}

// Get returns the first value of the named attribute.
func (s Subject) Get(name string) (string, bool) {
	name = CanonicalName(name)
	for _, it := range s {
		if CanonicalName(it.Name) == name {
			return it.Value, true
		}
	}
	return "", false
}

// Names returns the distinct canonical attribute names in first-seen order.
func (s Subject) Names() []string {
	seen := make(map[string]bool, len(s))
	var names []string
	for _, it := range s {
		n := CanonicalName(it.Name)
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	return names
}

// String renders the subject in OpenSSL "/CN=a/O=b" form.
func (s Subject) String() string {
	var b strings.Builder
	for _, it := range s {
		b.WriteByte('/')
		b.WriteString(CanonicalName(it.Name))
		b.WriteByte('=')
		b.WriteString(escapeValue(it.Value, '/'))
	}
	return b.String()
}

// Parse parses a DN in OpenSSL slash form ("/CN=a/O=b") or comma form
// ("CN=a,O=b"). A backslash escapes the next character.
func Parse(dn string) (Subject, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return Subject{}, nil
	}

	sep := ','
	if strings.HasPrefix(dn, "/") {
		sep = '/'
		dn = dn[1:]
	}

	parts, err := splitEscaped(dn, sep)
	if err != nil {
		return nil, err
	}

	s := make(Subject, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		eq := indexUnescaped(part, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("invalid DN component %q: expected name=value", part)
		}
		value, err := unescape(part[eq+1:])
		if err != nil {
			return nil, err
		}
		s = s.Add(part[:eq], strings.TrimSpace(value))
	}
	return s, nil
}

// ToPKIXName converts the subject to a pkix.Name. Attributes are emitted
// through ExtraNames so their order is preserved in the encoded RDN sequence.
// Unknown attribute names must be dotted OIDs.
func (s Subject) ToPKIXName() (pkix.Name, error) {
	var name pkix.Name
	for _, it := range s {
		n := CanonicalName(it.Name)
		oid, ok := nameOIDs[n]
		if !ok {
			parsed, err := parseOID(n)
			if err != nil {
				return pkix.Name{}, fmt.Errorf("attribute %q has no known OID", it.Name)
			}
			oid = parsed
		}
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{Type: oid, Value: it.Value})
	}
	return name, nil
}

// FromPKIXName converts a parsed pkix.Name (e.g. from a CSR) to a Subject,
// keeping attribute order. Unknown OIDs are named by their dotted form.
func FromPKIXName(name pkix.Name) Subject {
	s := make(Subject, 0, len(name.Names))
	for _, atv := range name.Names {
		value, ok := atv.Value.(string)
		if !ok {
			value = fmt.Sprint(atv.Value)
		}
		s = append(s, Item{Name: shortNameForOID(atv.Type), Value: value})
	}
	return s
}

func shortNameForOID(oid asn1.ObjectIdentifier) string {
	for n, o := range nameOIDs {
		if o.Equal(oid) {
			return n
		}
	}
	return oid.String()
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid OID %q", s)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid OID component %q in %q", p, s)
		}
		oid[i] = n
	}
	return oid, nil
}

func splitEscaped(s string, sep rune) ([]string, error) {
	var parts []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune('\\')
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == sep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return nil, fmt.Errorf("dangling escape at end of DN")
	}
	return append(parts, cur.String()), nil
}

func indexUnescaped(s string, target byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == target {
			return i
		}
	}
	return -1
}

func unescape(s string) (string, error) {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	if escaped {
		return "", fmt.Errorf("dangling escape in %q", s)
	}
	return b.String(), nil
}

func escapeValue(v string, sep byte) string {
	if !strings.ContainsAny(v, string([]byte{sep, '\\'})) {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == sep || v[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(v[i])
	}
	return b.String()
}
