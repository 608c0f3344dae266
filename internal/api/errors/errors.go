// Package errors provides error handling and HTTP status code mapping.
package errors

import (
	"errors"
	"net/http"

	"github.com/remiblancher/capolicy/internal/api/dto"
	"github.com/remiblancher/capolicy/internal/ca"
	"github.com/remiblancher/capolicy/internal/service"
	"github.com/remiblancher/capolicy/internal/subject"
)

// Error codes for API responses.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeCANotFound           = "CA_NOT_FOUND"
	CodeProfileNotFound      = "PROFILE_NOT_FOUND"
	CodePolicyViolation      = "POLICY_VIOLATION"
	CodeInvalidConfiguration = "INVALID_CONFIGURATION"
	CodeAlreadyRevoked       = "ALREADY_REVOKED"
	CodeNotRevoked           = "NOT_REVOKED"
	CodePersistenceTimeout   = "PERSISTENCE_TIMEOUT"
	CodeIssuanceHalted       = "ISSUANCE_HALTED"
	CodeInternal             = "INTERNAL_ERROR"
)

// MapError maps an internal error to an HTTP status code and APIError.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	switch {
	case errors.Is(err, service.ErrCANotFound):
		return http.StatusNotFound, &dto.APIError{Code: CodeCANotFound, Message: err.Error()}

	case errors.Is(err, ca.ErrProfileNotFound):
		return http.StatusNotFound, &dto.APIError{Code: CodeProfileNotFound, Message: err.Error()}

	case errors.Is(err, ca.ErrPolicyViolation):
		apiErr := &dto.APIError{Code: CodePolicyViolation, Message: err.Error()}
		var v *subject.ViolationError
		if errors.As(err, &v) {
			for _, x := range v.Violations {
				apiErr.Violations = append(apiErr.Violations, dto.Violation{
					Kind:      string(x.Kind),
					Attribute: x.Attribute,
				})
			}
		}
		return http.StatusUnprocessableEntity, apiErr

	case errors.Is(err, ca.ErrInvalidRequest):
		return http.StatusBadRequest, &dto.APIError{Code: CodeInvalidRequest, Message: err.Error()}

	case errors.Is(err, ca.ErrInvalidConfiguration):
		return http.StatusBadRequest, &dto.APIError{Code: CodeInvalidConfiguration, Message: err.Error()}

	case errors.Is(err, ca.ErrAlreadyRevoked):
		return http.StatusConflict, &dto.APIError{Code: CodeAlreadyRevoked, Message: err.Error()}

	case errors.Is(err, ca.ErrNotRevoked):
		return http.StatusNotFound, &dto.APIError{Code: CodeNotRevoked, Message: err.Error()}

	case errors.Is(err, ca.ErrPersistenceTimeout):
		return http.StatusServiceUnavailable, &dto.APIError{Code: CodePersistenceTimeout, Message: err.Error()}

	case errors.Is(err, ca.ErrIssuanceHalted), errors.Is(err, ca.ErrPersistenceCorruption):
		return http.StatusServiceUnavailable, &dto.APIError{Code: CodeIssuanceHalted, Message: err.Error()}
	}

	var caErr *ca.CAError
	if errors.As(err, &caErr) {
		return http.StatusInternalServerError, &dto.APIError{
			Code:    "CA_" + caErr.Op + "_ERROR",
			Message: "An internal error occurred",
			Details: map[string]string{
				"operation": caErr.Op,
				"name":      caErr.Name,
			},
		}
	}

	return http.StatusInternalServerError, &dto.APIError{
		Code:    CodeInternal,
		Message: "An internal error occurred",
	}
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}

// NewNotFound creates a not found error.
func NewNotFound(resource, id string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeNotFound,
		Message: resource + " not found",
		Details: map[string]string{"id": id},
	}
}
