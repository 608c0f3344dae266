package dto

import "github.com/remiblancher/capolicy/internal/profile"

// ProfileListResponse lists profile names of one CA.
type ProfileListResponse struct {
	CA       string   `json:"ca"`
	Profiles []string `json:"profiles"`
}

// ProfileResponse describes a profile. Extension fields are null when the
// profile does not declare them and [] when declared empty.
type ProfileResponse struct {
	Name                  string                     `json:"name"`
	Description           string                     `json:"description,omitempty"`
	BasicConstraints      string                     `json:"basic_constraints,omitempty"`
	KeyUsage              []string                   `json:"key_usage"`
	ExtendedKeyUsage      []string                   `json:"extended_key_usage"`
	CertificatePolicies   []profile.PolicyDescriptor `json:"certificate_policies"`
	SubjectItemPolicy     map[string]string          `json:"subject_item_policy,omitempty"`
	SubjectItemPolicyMode string                     `json:"subject_item_policy_mode,omitempty"`
	DefaultValidity       string                     `json:"default_validity,omitempty"`
}

// NewProfileResponse renders p.
func NewProfileResponse(name string, p *profile.Profile) ProfileResponse {
	resp := ProfileResponse{
		Name:             name,
		Description:      p.Description(),
		BasicConstraints: p.BasicConstraints(),
	}
	resp.KeyUsage, _ = p.KeyUsage()
	resp.ExtendedKeyUsage, _ = p.ExtendedKeyUsage()
	resp.CertificatePolicies, _ = p.CertificatePolicies()
	if sp := p.SubjectItemPolicy(); sp != nil {
		resp.SubjectItemPolicy = make(map[string]string)
		for attr, rule := range sp.Rules() {
			resp.SubjectItemPolicy[attr] = string(rule)
		}
		resp.SubjectItemPolicyMode = sp.Mode().String()
	}
	if d := p.DefaultValidity(); d > 0 {
		resp.DefaultValidity = d.String()
	}
	return resp
}

// ProfileSetResponse is the result of registering a profile.
type ProfileSetResponse struct {
	Profile  ProfileResponse `json:"profile"`
	Replaced bool            `json:"replaced"`
}
