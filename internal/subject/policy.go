package subject

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Rule is the disposition of a single subject attribute.
type Rule string

const (
	Required  Rule = "required"
	Optional  Rule = "optional"
	Forbidden Rule = "forbidden"
)

// ParseRule parses a rule name, case-insensitively.
func ParseRule(s string) (Rule, error) {
	switch Rule(strings.ToLower(strings.TrimSpace(s))) {
	case Required:
		return Required, nil
	case Optional:
		return Optional, nil
	case Forbidden:
		return Forbidden, nil
	default:
		return "", fmt.Errorf("unknown subject item rule %q (expected required, optional or forbidden)", s)
	}
}

// DefaultMode decides how attributes missing from the rule set are treated.
type DefaultMode int

const (
	// ForbidUnlisted rejects any subject attribute that has no rule.
	// This is the zero value and the default.
	ForbidUnlisted DefaultMode = iota

	// PermitUnlisted treats attributes without a rule as optional.
	PermitUnlisted
)

// ParseDefaultMode parses "forbid" or "permit". An empty string yields
// ForbidUnlisted.
func ParseDefaultMode(s string) (DefaultMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "forbid", "forbidden", "forbid_unlisted":
		return ForbidUnlisted, nil
	case "permit", "permissive", "optional", "permit_unlisted":
		return PermitUnlisted, nil
	default:
		return 0, fmt.Errorf("unknown subject item policy mode %q (expected forbid or permit)", s)
	}
}

func (m DefaultMode) String() string {
	if m == PermitUnlisted {
		return "permit"
	}
	return "forbid"
}

// ErrPolicyViolation is matched by every *ViolationError.
var ErrPolicyViolation = errors.New("subject policy violation")

// ViolationKind classifies a single policy failure.
type ViolationKind string

const (
	MissingRequiredAttribute ViolationKind = "missing_required_attribute"
	ForbiddenAttribute       ViolationKind = "forbidden_attribute"
)

// Violation is one attribute that failed validation.
type Violation struct {
	Kind      ViolationKind `json:"kind"`
	Attribute string        `json:"attribute"`
}

func (v Violation) String() string {
	switch v.Kind {
	case MissingRequiredAttribute:
		return fmt.Sprintf("missing required attribute %s", v.Attribute)
	case ForbiddenAttribute:
		return fmt.Sprintf("forbidden attribute %s", v.Attribute)
	default:
		return fmt.Sprintf("%s %s", v.Kind, v.Attribute)
	}
}

// ViolationError carries every violation found for one subject.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("%v: %s", ErrPolicyViolation, strings.Join(msgs, "; "))
}

// Is reports whether target is ErrPolicyViolation.
func (e *ViolationError) Is(target error) bool {
	return target == ErrPolicyViolation
}

// Missing returns the names of required attributes that were absent or empty.
func (e *ViolationError) Missing() []string {
	return e.names(MissingRequiredAttribute)
}

// Forbidden returns the names of attributes that were not allowed.
func (e *ViolationError) Forbidden() []string {
	return e.names(ForbiddenAttribute)
}

func (e *ViolationError) names(kind ViolationKind) []string {
	var out []string
	for _, v := range e.Violations {
		if v.Kind == kind {
			out = append(out, v.Attribute)
		}
	}
	return out
}

// ItemPolicy validates subjects against per-attribute rules. It is
// immutable once built and safe for concurrent use.
type ItemPolicy struct {
	rules map[string]Rule
	mode  DefaultMode
}

// NewItemPolicy builds a policy. Attribute names are canonicalised, and two
// spellings of the same attribute are rejected.
func NewItemPolicy(rules map[string]Rule, mode DefaultMode) (*ItemPolicy, error) {
	if mode != ForbidUnlisted && mode != PermitUnlisted {
		return nil, fmt.Errorf("invalid default mode %d", mode)
	}
	p := &ItemPolicy{rules: make(map[string]Rule, len(rules)), mode: mode}
	for name, rule := range rules {
		canonical := CanonicalName(name)
		if canonical == "" {
			return nil, fmt.Errorf("subject item policy has an empty attribute name")
		}
		r, err := ParseRule(string(rule))
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		if _, dup := p.rules[canonical]; dup {
			return nil, fmt.Errorf("attribute %s has more than one rule", canonical)
		}
		p.rules[canonical] = r
	}
	return p, nil
}

// ParseItemPolicy builds a policy from string rules, as found in
// configuration files: {"CN": "required", "O": "optional"}.
func ParseItemPolicy(rules map[string]string, mode DefaultMode) (*ItemPolicy, error) {
	typed := make(map[string]Rule, len(rules))
	for name, s := range rules {
		r, err := ParseRule(s)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		typed[name] = r
	}
	return NewItemPolicy(typed, mode)
}

// Mode returns how unlisted attributes are treated.
func (p *ItemPolicy) Mode() DefaultMode { return p.mode }

// Rules returns a copy of the rule set.
func (p *ItemPolicy) Rules() map[string]Rule {
	out := make(map[string]Rule, len(p.rules))
	for k, v := range p.rules {
		out[k] = v
	}
	return out
}

// RuleFor returns the effective rule for an attribute, applying the
// default mode to unlisted names.
func (p *ItemPolicy) RuleFor(name string) Rule {
	if r, ok := p.rules[CanonicalName(name)]; ok {
		return r
	}
	if p.mode == PermitUnlisted {
		return Optional
	}
	return Forbidden
}

// Validate checks s against the policy and returns a *ViolationError listing
// every problem, or nil. The result does not depend on attribute order.
func (p *ItemPolicy) Validate(s Subject) error {
	present := make(map[string]bool, len(s))
	for _, it := range s {
		name := CanonicalName(it.Name)
		if it.Value != "" {
			present[name] = true
		} else if _, seen := present[name]; !seen {
			present[name] = false
		}
	}

	var violations []Violation
	for name, rule := range p.rules {
		if rule == Required && !present[name] {
			violations = append(violations, Violation{Kind: MissingRequiredAttribute, Attribute: name})
		}
	}
	for name := range present {
		if p.RuleFor(name) == Forbidden {
			violations = append(violations, Violation{Kind: ForbiddenAttribute, Attribute: name})
		}
	}

	if len(violations) == 0 {
		return nil
	}
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Kind != violations[j].Kind {
			return violations[i].Kind < violations[j].Kind
		}
		return violations[i].Attribute < violations[j].Attribute
	})
	return &ViolationError{Violations: violations}
}
