package dto

// OCSPQueryRequest asks for a signed status of one serial.
type OCSPQueryRequest struct {
	Serial string `json:"serial"`
}

// OCSPQueryResponse represents the OCSP query result.
type OCSPQueryResponse struct {
	// Response is the base64 DER OCSP response.
	Response string `json:"response"`

	// Status is "good" or "revoked".
	Status string `json:"status"`

	ThisUpdate string `json:"this_update"`
	NextUpdate string `json:"next_update"`
}
