package dto

// CAListResponse lists the configured CAs.
type CAListResponse struct {
	CAs []CAInfo `json:"cas"`
}

// CAInfo describes one CA.
type CAInfo struct {
	Name                 string   `json:"name"`
	Subject              string   `json:"subject"`
	CDPLocation          string   `json:"cdp_location,omitempty"`
	OCSPLocation         string   `json:"ocsp_location,omitempty"`
	OCSPDelegated        bool     `json:"ocsp_delegated"`
	OCSPStartSkewSeconds int      `json:"ocsp_start_skew_seconds"`
	OCSPValidityHours    int      `json:"ocsp_validity_hours"`
	CRLValidityHours     int      `json:"crl_validity_hours"`
	Profiles             []string `json:"profiles"`
	Halted               bool     `json:"halted"`
}
