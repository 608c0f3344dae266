// Package dto provides Data Transfer Objects for the REST API.
package dto

// APIError represents a standardized error response.
type APIError struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// Details provides additional context about the error.
	Details map[string]string `json:"details,omitempty"`

	// Violations lists subject policy violations, when that is the cause.
	Violations []Violation `json:"violations,omitempty"`
}

// Violation is one subject attribute that failed the profile's policy.
type Violation struct {
	Kind      string `json:"kind"`
	Attribute string `json:"attribute"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	// Status is "ok" or "degraded".
	Status string `json:"status"`

	// Version is the server version.
	Version string `json:"version"`

	// CAs maps each CA to "ok" or "halted".
	CAs map[string]string `json:"cas,omitempty"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready  bool            `json:"ready"`
	Checks map[string]bool `json:"checks,omitempty"`
}
