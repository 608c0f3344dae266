package dto

// CRLGenerateResponse represents the result of CRL generation.
type CRLGenerateResponse struct {
	// CRL is the PEM-encoded CRL.
	CRL string `json:"crl"`

	// Number is the CRL number.
	Number uint64 `json:"number"`

	ThisUpdate   string `json:"this_update"`
	NextUpdate   string `json:"next_update"`
	RevokedCount int    `json:"revoked_count"`
}

// CRLStateResponse is the current CRL number and revocation list, without
// advancing the number.
type CRLStateResponse struct {
	CA      string     `json:"ca"`
	Number  uint64     `json:"number"`
	Entries []CRLEntry `json:"entries"`
}

// CRLEntry represents a revoked certificate.
type CRLEntry struct {
	Serial    string `json:"serial"`
	RevokedAt string `json:"revoked_at"`
	Reason    string `json:"reason"`
}
