package ca

import (
	"errors"
	"fmt"

	"github.com/remiblancher/capolicy/internal/crl"
	"github.com/remiblancher/capolicy/internal/subject"
)

// CAError represents a CA configuration operation error with structured context.
// It supports errors.Is() and errors.As() for improved error handling.
type CAError struct {
	Op   string // Operation: "set_profile", "get_profile", "issue", "revoke", "next_crl_number", ...
	Name string // Profile name or serial number (if applicable)
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *CAError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("ca %s [%s]: %v", e.Op, e.Name, e.Err)
	}
	return fmt.Sprintf("ca %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CAError) Unwrap() error { return e.Err }

func newError(op, name string, err error) *CAError {
	return &CAError{Op: op, Name: name, Err: err}
}

// Sentinel errors for CA operations.
// Use errors.Is() to check for these errors through the error chain.
var (
	// ErrProfileNotFound indicates the requested profile is not registered.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrInvalidConfiguration indicates a construction-time option or a
	// registration argument is unusable.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidRequest indicates an issuance request field is malformed.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrIssuanceHalted indicates the CA refuses issuance because its CRL
	// state can no longer be trusted.
	ErrIssuanceHalted = errors.New("issuance halted")

	// ErrKeyMismatch indicates the private key does not match the certificate.
	ErrKeyMismatch = errors.New("key does not match certificate")

	// ErrPolicyViolation indicates the subject failed the profile's subject
	// item policy. The chain also holds a *subject.ViolationError.
	ErrPolicyViolation = subject.ErrPolicyViolation

	ErrAlreadyRevoked        = crl.ErrAlreadyRevoked
	ErrNotRevoked            = crl.ErrNotRevoked
	ErrPersistenceTimeout    = crl.ErrPersistenceTimeout
	ErrPersistenceCorruption = crl.ErrPersistenceCorruption
)

// IsPolicyError reports whether err is a rejected request: the caller asked
// for something the CA will not do, and may fix the request and retry.
func IsPolicyError(err error) bool {
	return errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrAlreadyRevoked) ||
		errors.Is(err, ErrNotRevoked)
}

// IsPersistenceError reports whether err means the CA cannot currently
// guarantee correct CRL state.
func IsPersistenceError(err error) bool {
	return errors.Is(err, ErrPersistenceTimeout) ||
		errors.Is(err, ErrPersistenceCorruption) ||
		errors.Is(err, ErrIssuanceHalted)
}
