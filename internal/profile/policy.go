package profile

import (
	"encoding/asn1"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PolicyDescriptor is one entry of the Certificate Policies extension.
type PolicyDescriptor struct {
	// OID is the dotted policy identifier.
	OID string `json:"oid" yaml:"oid"`

	// CPSURIs are CPS pointer qualifiers, in order.
	CPSURIs []string `json:"cps,omitempty" yaml:"cps,omitempty"`

	// UserNotices are explicit-text user notice qualifiers, in order.
	UserNotices []string `json:"user_notices,omitempty" yaml:"user_notices,omitempty"`
}

// Validate checks that the descriptor names a usable policy identifier.
func (d PolicyDescriptor) Validate() error {
	if strings.TrimSpace(d.OID) == "" {
		return fmt.Errorf("policy identifier is empty")
	}
	if _, err := ParseOID(d.OID); err != nil {
		return fmt.Errorf("policy identifier: %w", err)
	}
	for _, uri := range d.CPSURIs {
		if strings.TrimSpace(uri) == "" {
			return fmt.Errorf("policy %s: empty CPS URI", d.OID)
		}
	}
	return nil
}

// ObjectIdentifier returns the parsed policy OID.
func (d PolicyDescriptor) ObjectIdentifier() (asn1.ObjectIdentifier, error) {
	return ParseOID(d.OID)
}

func (d PolicyDescriptor) clone() PolicyDescriptor {
	return PolicyDescriptor{
		OID:         d.OID,
		CPSURIs:     append([]string(nil), d.CPSURIs...),
		UserNotices: append([]string(nil), d.UserNotices...),
	}
}

// ParsePolicyDescriptor parses an OpenSSL-style policy section:
//
//	policyIdentifier=2.16.840.1.12345.1.2.3.4.1
//	CPS.1=http://example.com/cps
//	userNotice.1=This certificate is for testing only
//
// Numbered qualifiers are ordered by their index.
func ParsePolicyDescriptor(entries []string) (PolicyDescriptor, error) {
	var d PolicyDescriptor
	type indexed struct {
		idx   int
		value string
	}
	var cps, notices []indexed

	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return PolicyDescriptor{}, fmt.Errorf("invalid policy entry %q: expected key=value", entry)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		name, num, _ := strings.Cut(key, ".")
		idx := 0
		if num != "" {
			n, err := strconv.Atoi(num)
			if err != nil {
				return PolicyDescriptor{}, fmt.Errorf("invalid qualifier index in %q", key)
			}
			idx = n
		}

		switch strings.ToLower(name) {
		case "policyidentifier":
			if d.OID != "" {
				return PolicyDescriptor{}, fmt.Errorf("policy identifier set twice")
			}
			d.OID = value
		case "cps":
			cps = append(cps, indexed{idx, value})
		case "usernotice":
			notices = append(notices, indexed{idx, value})
		default:
			return PolicyDescriptor{}, fmt.Errorf("unknown policy qualifier %q", key)
		}
	}

	byIndex := func(s []indexed) []string {
		sort.SliceStable(s, func(i, j int) bool { return s[i].idx < s[j].idx })
		var out []string
		for _, it := range s {
			out = append(out, it.value)
		}
		return out
	}
	d.CPSURIs = byIndex(cps)
	d.UserNotices = byIndex(notices)

	if err := d.Validate(); err != nil {
		return PolicyDescriptor{}, err
	}
	return d, nil
}
