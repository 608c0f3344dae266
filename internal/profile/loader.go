package profile

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/capolicy/internal/subject"
)

// Spec is the YAML representation of a profile.
//
// key_usage, extended_key_usage and certificate_policies keep the nil/empty
// distinction: an omitted (or null) key leaves the extension undeclared,
// while "[]" declares it present and empty.
type Spec struct {
	Description           string            `yaml:"description,omitempty"`
	BasicConstraints      string            `yaml:"basic_constraints,omitempty"`
	KeyUsage              *[]string         `yaml:"key_usage,omitempty"`
	ExtendedKeyUsage      *[]string         `yaml:"extended_key_usage,omitempty"`
	CertificatePolicies   *[]PolicySpec     `yaml:"certificate_policies,omitempty"`
	SubjectItemPolicy     map[string]string `yaml:"subject_item_policy,omitempty"`
	SubjectItemPolicyMode string            `yaml:"subject_item_policy_mode,omitempty"`
	DefaultValidity       string            `yaml:"default_validity,omitempty"`
}

// PolicySpec is one certificate policy in YAML. It accepts either the
// OpenSSL list form
//
//	certificate_policies:
//	  - [policyIdentifier=1.2.3, CPS.1=http://example.com/cps]
//
// or a mapping
//
//	certificate_policies:
//	  - {oid: 1.2.3, cps: [http://example.com/cps], user_notices: [text]}
type PolicySpec struct {
	PolicyDescriptor
}

var policySpecKeys = map[string]bool{"oid": true, "cps": true, "user_notices": true}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PolicySpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var entries []string
		if err := node.Decode(&entries); err != nil {
			return err
		}
		d, err := ParsePolicyDescriptor(entries)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		p.PolicyDescriptor = d
		return nil

	case yaml.MappingNode:
		for i := 0; i < len(node.Content); i += 2 {
			if key := node.Content[i].Value; !policySpecKeys[key] {
				return fmt.Errorf("line %d: unknown certificate policy key %q", node.Content[i].Line, key)
			}
		}
		var d PolicyDescriptor
		if err := node.Decode(&d); err != nil {
			return err
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		p.PolicyDescriptor = d
		return nil

	default:
		return fmt.Errorf("line %d: certificate policy must be a list or a mapping", node.Line)
	}
}

// MarshalYAML emits the mapping form.
func (p PolicySpec) MarshalYAML() (interface{}, error) {
	return p.PolicyDescriptor, nil
}

// Build validates the spec and builds a Profile.
func (s *Spec) Build() (*Profile, error) {
	opts := Options{
		Description:      s.Description,
		BasicConstraints: s.BasicConstraints,
	}
	if s.KeyUsage != nil {
		opts.KeyUsage = append(make([]string, 0, len(*s.KeyUsage)), *s.KeyUsage...)
	}
	if s.ExtendedKeyUsage != nil {
		opts.ExtendedKeyUsage = append(make([]string, 0, len(*s.ExtendedKeyUsage)), *s.ExtendedKeyUsage...)
	}

	if s.CertificatePolicies != nil {
		opts.CertificatePolicies = make([]PolicyDescriptor, 0, len(*s.CertificatePolicies))
		for _, ps := range *s.CertificatePolicies {
			opts.CertificatePolicies = append(opts.CertificatePolicies, ps.PolicyDescriptor)
		}
	}

	if s.SubjectItemPolicy != nil {
		mode, err := subject.ParseDefaultMode(s.SubjectItemPolicyMode)
		if err != nil {
			return nil, fmt.Errorf("subject_item_policy_mode: %w", err)
		}
		policy, err := subject.ParseItemPolicy(s.SubjectItemPolicy, mode)
		if err != nil {
			return nil, fmt.Errorf("subject_item_policy: %w", err)
		}
		opts.SubjectItemPolicy = policy
	} else if s.SubjectItemPolicyMode != "" {
		return nil, fmt.Errorf("subject_item_policy_mode set without subject_item_policy")
	}

	if s.DefaultValidity != "" {
		d, err := ParseDuration(s.DefaultValidity)
		if err != nil {
			return nil, fmt.Errorf("default_validity: %w", err)
		}
		opts.DefaultValidity = d
	}

	return New(opts)
}

// SpecFromProfile renders a profile back to its YAML representation.
func SpecFromProfile(p *Profile) *Spec {
	s := &Spec{
		Description:      p.Description(),
		BasicConstraints: p.BasicConstraints(),
	}
	if ku, ok := p.KeyUsage(); ok {
		s.KeyUsage = &ku
	}
	if eku, ok := p.ExtendedKeyUsage(); ok {
		s.ExtendedKeyUsage = &eku
	}
	if policies, ok := p.CertificatePolicies(); ok {
		specs := make([]PolicySpec, len(policies))
		for i, d := range policies {
			specs[i] = PolicySpec{d}
		}
		s.CertificatePolicies = &specs
	}
	if sp := p.SubjectItemPolicy(); sp != nil {
		s.SubjectItemPolicy = make(map[string]string)
		for name, rule := range sp.Rules() {
			s.SubjectItemPolicy[name] = string(rule)
		}
		if sp.Mode() == subject.PermitUnlisted {
			s.SubjectItemPolicyMode = sp.Mode().String()
		}
	}
	if d := p.DefaultValidity(); d > 0 {
		s.DefaultValidity = d.String()
	}
	return s
}

// LoadFromBytes decodes a single profile spec. Unknown keys are an error.
func LoadFromBytes(data []byte) (*Profile, error) {
	var s Spec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse profile YAML: %w", err)
	}
	return s.Build()
}

// LoadFromFile reads and decodes a single profile spec.
func LoadFromFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	return LoadFromBytes(data)
}

// SortedNames returns the keys of a profile map in order.
func SortedNames(m map[string]*Profile) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseDuration parses a Go duration, extended with "d" (days) and "y"
// (365 days) units, e.g. "365d" or "1y12h".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration is empty")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var total time.Duration
	remaining := s
	for _, unit := range []struct {
		suffix string
		size   time.Duration
	}{
		{"y", 365 * 24 * time.Hour},
		{"d", 24 * time.Hour},
	} {
		idx := strings.Index(remaining, unit.suffix)
		if idx < 0 {
			continue
		}
		n, err := strconv.Atoi(remaining[:idx])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		total += time.Duration(n) * unit.size
		remaining = remaining[idx+1:]
	}

	if remaining != "" {
		rest, err := time.ParseDuration(remaining)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		total += rest
	}
	return total, nil
}
