package crl

import (
	"fmt"
	"strconv"
	"strings"
)

// Reason is an RFC 5280 CRL reason code.
type Reason int

const (
	ReasonUnspecified          Reason = 0
	ReasonKeyCompromise        Reason = 1
	ReasonCACompromise         Reason = 2
	ReasonAffiliationChanged   Reason = 3
	ReasonSuperseded           Reason = 4
	ReasonCessationOfOperation Reason = 5
	ReasonCertificateHold      Reason = 6
	ReasonRemoveFromCRL        Reason = 8
	ReasonPrivilegeWithdrawn   Reason = 9
	ReasonAACompromise         Reason = 10
)

// String returns the RFC 5280 name for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonKeyCompromise:
		return "keyCompromise"
	case ReasonCACompromise:
		return "cACompromise"
	case ReasonAffiliationChanged:
		return "affiliationChanged"
	case ReasonSuperseded:
		return "superseded"
	case ReasonCessationOfOperation:
		return "cessationOfOperation"
	case ReasonCertificateHold:
		return "certificateHold"
	case ReasonRemoveFromCRL:
		return "removeFromCRL"
	case ReasonPrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case ReasonAACompromise:
		return "aACompromise"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Valid reports whether r may appear on a full CRL. removeFromCRL is only
// meaningful in delta CRLs and is rejected.
func (r Reason) Valid() bool {
	switch r {
	case ReasonUnspecified, ReasonKeyCompromise, ReasonCACompromise,
		ReasonAffiliationChanged, ReasonSuperseded, ReasonCessationOfOperation,
		ReasonCertificateHold, ReasonPrivilegeWithdrawn, ReasonAACompromise:
		return true
	}
	return false
}

// ParseReason parses a reason name, case-insensitively, with or without
// dashes. The empty string means unspecified.
func ParseReason(s string) (Reason, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "") {
	case "unspecified", "":
		return ReasonUnspecified, nil
	case "keycompromise":
		return ReasonKeyCompromise, nil
	case "cacompromise":
		return ReasonCACompromise, nil
	case "affiliationchanged":
		return ReasonAffiliationChanged, nil
	case "superseded":
		return ReasonSuperseded, nil
	case "cessationofoperation", "cessation":
		return ReasonCessationOfOperation, nil
	case "certificatehold", "hold":
		return ReasonCertificateHold, nil
	case "privilegewithdrawn":
		return ReasonPrivilegeWithdrawn, nil
	case "aacompromise":
		return ReasonAACompromise, nil
	default:
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && Reason(n).Valid() {
			return Reason(n), nil
		}
		return 0, fmt.Errorf("unknown revocation reason: %s", s)
	}
}
