// Package profile provides certificate issuance profiles.
//
// A profile is the extension policy a named issuance path stamps onto every
// certificate it produces: basic constraints, key usage, extended key usage,
// certificate policies and, optionally, a subject item policy.
//
// Profiles are immutable once built. Change one by building a new profile
// and registering it again.
package profile

import (
	"fmt"
	"time"

	"github.com/remiblancher/capolicy/internal/subject"
)

// Options holds everything needed to build a Profile.
//
// Slices follow a nil/empty convention: nil means the extension is not
// declared by the profile, while a non-nil empty slice declares the
// extension present but empty.
type Options struct {
	// Description is free text shown in listings.
	Description string

	// BasicConstraints is an OpenSSL-style string ("CA:FALSE",
	// "CA:TRUE,pathlen:0"). Empty means the profile stamps no basic
	// constraints.
	BasicConstraints string

	// KeyUsage lists key usage names (digitalSignature, keyEncipherment, ...).
	KeyUsage []string

	// ExtendedKeyUsage lists extended key usage names or dotted OIDs.
	ExtendedKeyUsage []string

	// CertificatePolicies lists policy descriptors.
	CertificatePolicies []PolicyDescriptor

	// SubjectItemPolicy, when set, validates requested subjects.
	SubjectItemPolicy *subject.ItemPolicy

	// DefaultValidity is used when a request does not ask for a validity.
	DefaultValidity time.Duration
}

// Profile is an immutable extension policy bundle.
//
// A profile with basic constraints CA:TRUE must not be applied to end-entity
// issuance. The profile does not enforce this; callers check IsCA.
type Profile struct {
	description string

	basicConstraintsRaw string
	basicConstraints    *BasicConstraints

	keyUsage         []string
	extendedKeyUsage []string

	policies        []PolicyDescriptor
	policiesPresent bool

	subjectPolicy   *subject.ItemPolicy
	defaultValidity time.Duration
}

// New validates opts and builds a Profile.
func New(opts Options) (*Profile, error) {
	p := &Profile{
		description:         opts.Description,
		basicConstraintsRaw: opts.BasicConstraints,
		subjectPolicy:       opts.SubjectItemPolicy,
		defaultValidity:     opts.DefaultValidity,
	}

	if opts.BasicConstraints != "" {
		bc, err := ParseBasicConstraints(opts.BasicConstraints)
		if err != nil {
			return nil, fmt.Errorf("basic_constraints: %w", err)
		}
		p.basicConstraints = &bc
	}

	ku, err := CanonicalKeyUsages(opts.KeyUsage)
	if err != nil {
		return nil, fmt.Errorf("key_usage: %w", err)
	}
	p.keyUsage = ku

	eku, err := CanonicalExtKeyUsages(opts.ExtendedKeyUsage)
	if err != nil {
		return nil, fmt.Errorf("extended_key_usage: %w", err)
	}
	p.extendedKeyUsage = eku

	if opts.CertificatePolicies != nil {
		p.policiesPresent = true
		p.policies = make([]PolicyDescriptor, 0, len(opts.CertificatePolicies))
		for i, d := range opts.CertificatePolicies {
			if err := d.Validate(); err != nil {
				return nil, fmt.Errorf("certificate_policies[%d]: %w", i, err)
			}
			p.policies = append(p.policies, d.clone())
		}
	}

	if opts.DefaultValidity < 0 {
		return nil, fmt.Errorf("default validity must not be negative")
	}

	return p, nil
}

// Description returns the profile description.
func (p *Profile) Description() string { return p.description }

// BasicConstraints returns the basic constraints string exactly as given.
func (p *Profile) BasicConstraints() string { return p.basicConstraintsRaw }

// ParsedBasicConstraints returns the parsed basic constraints, or nil when
// the profile declares none.
func (p *Profile) ParsedBasicConstraints() *BasicConstraints {
	if p.basicConstraints == nil {
		return nil
	}
	bc := *p.basicConstraints
	return &bc
}

// IsCA reports whether the profile issues CA certificates.
func (p *Profile) IsCA() bool {
	return p.basicConstraints != nil && p.basicConstraints.CA
}

// KeyUsage returns a copy of the key usage names and whether the profile
// declares the extension.
func (p *Profile) KeyUsage() ([]string, bool) {
	return cloneStrings(p.keyUsage), p.keyUsage != nil
}

// ExtendedKeyUsage returns a copy of the extended key usage names and
// whether the profile declares the extension.
func (p *Profile) ExtendedKeyUsage() ([]string, bool) {
	return cloneStrings(p.extendedKeyUsage), p.extendedKeyUsage != nil
}

// CertificatePolicies returns a copy of the policy descriptors and whether
// the extension is present. Present with no descriptors means the extension
// is emitted empty.
func (p *Profile) CertificatePolicies() ([]PolicyDescriptor, bool) {
	if !p.policiesPresent {
		return nil, false
	}
	out := make([]PolicyDescriptor, len(p.policies))
	for i, d := range p.policies {
		out[i] = d.clone()
	}
	return out, true
}

// SubjectItemPolicy returns the subject policy, or nil if the profile
// accepts any subject.
func (p *Profile) SubjectItemPolicy() *subject.ItemPolicy { return p.subjectPolicy }

// DefaultValidity returns the validity used when a request names none.
func (p *Profile) DefaultValidity() time.Duration { return p.defaultValidity }

// ValidateSubject applies the subject item policy. Profiles without a policy
// accept every subject.
func (p *Profile) ValidateSubject(s subject.Subject) error {
	if p.subjectPolicy == nil {
		return nil
	}
	return p.subjectPolicy.Validate(s)
}

// Options returns options that rebuild an identical profile.
func (p *Profile) Options() Options {
	opts := Options{
		Description:       p.description,
		BasicConstraints:  p.basicConstraintsRaw,
		KeyUsage:          cloneStrings(p.keyUsage),
		ExtendedKeyUsage:  cloneStrings(p.extendedKeyUsage),
		SubjectItemPolicy: p.subjectPolicy,
		DefaultValidity:   p.defaultValidity,
	}
	opts.CertificatePolicies, _ = p.CertificatePolicies()
	return opts
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
