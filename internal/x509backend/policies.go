package x509backend

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"github.com/remiblancher/capolicy/internal/profile"
)

var (
	oidCertificatePolicies = asn1.ObjectIdentifier{2, 5, 29, 32}
	oidCPSQualifier        = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 2, 1}
	oidUserNoticeQualifier = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 2, 2}
)

// policyInformation represents a certificate policy
type policyInformation struct {
	PolicyIdentifier asn1.ObjectIdentifier
	PolicyQualifiers []policyQualifierInfo `asn1:"optional"`
}

// policyQualifierInfo represents a policy qualifier
type policyQualifierInfo struct {
	PolicyQualifierId asn1.ObjectIdentifier
	Qualifier         asn1.RawValue
}

// userNotice carries only explicitText; noticeRef is deprecated.
type userNotice struct {
	ExplicitText string `asn1:"utf8"`
}

// encodeCertificatePolicies encodes the Certificate Policies extension.
// An empty (non-nil) list yields an empty SEQUENCE.
func encodeCertificatePolicies(descriptors []profile.PolicyDescriptor) (pkix.Extension, error) {
	policies := make([]policyInformation, 0, len(descriptors))

	for _, d := range descriptors {
		oid, err := d.ObjectIdentifier()
		if err != nil {
			return pkix.Extension{}, fmt.Errorf("invalid policy OID %s: %w", d.OID, err)
		}
		policy := policyInformation{PolicyIdentifier: oid}

		for _, uri := range d.CPSURIs {
			// RFC 5280: CPSuri ::= IA5String
			cpsBytes, err := asn1.MarshalWithParams(uri, "ia5")
			if err != nil {
				return pkix.Extension{}, fmt.Errorf("failed to marshal CPS: %w", err)
			}
			policy.PolicyQualifiers = append(policy.PolicyQualifiers, policyQualifierInfo{
				PolicyQualifierId: oidCPSQualifier,
				Qualifier:         asn1.RawValue{FullBytes: cpsBytes},
			})
		}

		for _, text := range d.UserNotices {
			noticeBytes, err := asn1.Marshal(userNotice{ExplicitText: text})
			if err != nil {
				return pkix.Extension{}, fmt.Errorf("failed to marshal user notice: %w", err)
			}
			policy.PolicyQualifiers = append(policy.PolicyQualifiers, policyQualifierInfo{
				PolicyQualifierId: oidUserNoticeQualifier,
				Qualifier:         asn1.RawValue{FullBytes: noticeBytes},
			})
		}

		policies = append(policies, policy)
	}

	value, err := asn1.Marshal(policies)
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to marshal policies: %w", err)
	}
	return pkix.Extension{Id: oidCertificatePolicies, Value: value}, nil
}

// decodeCertificatePolicies is the inverse of encodeCertificatePolicies for
// the qualifiers this package writes.
func decodeCertificatePolicies(value []byte) ([]profile.PolicyDescriptor, error) {
	var policies []policyInformation
	rest, err := asn1.Unmarshal(value, &policies)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("trailing data after certificate policies")
	}

	out := make([]profile.PolicyDescriptor, 0, len(policies))
	for _, p := range policies {
		d := profile.PolicyDescriptor{OID: p.PolicyIdentifier.String()}
		for _, q := range p.PolicyQualifiers {
			switch {
			case q.PolicyQualifierId.Equal(oidCPSQualifier):
				var uri string
				if _, err := asn1.Unmarshal(q.Qualifier.FullBytes, &uri); err != nil {
					return nil, fmt.Errorf("bad CPS qualifier: %w", err)
				}
				d.CPSURIs = append(d.CPSURIs, uri)
			case q.PolicyQualifierId.Equal(oidUserNoticeQualifier):
				var n userNotice
				if _, err := asn1.Unmarshal(q.Qualifier.FullBytes, &n); err != nil {
					return nil, fmt.Errorf("bad user notice qualifier: %w", err)
				}
				d.UserNotices = append(d.UserNotices, n.ExplicitText)
			}
		}
		out = append(out, d)
	}
	return out, nil
}
