package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/telefleet/authgate/internal/policy"
	"github.com/telefleet/authgate/internal/registry"
	"github.com/telefleet/authgate/internal/storage"
	"github.com/telefleet/authgate/internal/token"
)

// Standard error codes for API responses.
const (
	// ErrCodeInvalidRequest indicates a malformed request body.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeInvalidCredentials indicates an invalid or missing admin key.
	ErrCodeInvalidCredentials = "invalid_credentials"

	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeDuplicateKey indicates the resource key already exists.
	ErrCodeDuplicateKey = "duplicate_key"

	// ErrCodeScopeConflict indicates an active token already occupies the scope.
	ErrCodeScopeConflict = "scope_conflict"

	// ErrCodeInvalidTransition indicates a lifecycle transition from a
	// state that does not permit it.
	ErrCodeInvalidTransition = "invalid_transition"

	// ErrCodeEvidenceMismatch indicates verification evidence of the wrong method.
	ErrCodeEvidenceMismatch = "evidence_mismatch"

	// ErrCodePolicyValidation indicates a rejected policy document.
	ErrCodePolicyValidation = "policy_validation_error"

	// ErrCodeInternalError indicates a server error.
	ErrCodeInternalError = "internal_error"
)

// APIError is the standard error response format.
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a JSON error response with the given status code, error code, and message.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding errors are not critical since headers are already sent
	_ = json.NewEncoder(w).Encode(APIError{Error: code, Message: message})
}

// writeDomainError maps a domain error to an HTTP response. Unrecognized
// errors are reported as internal without leaking detail.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		WriteError(w, http.StatusNotFound, ErrCodeNotFound, "resource not found")
	case errors.Is(err, storage.ErrDuplicate):
		WriteError(w, http.StatusConflict, ErrCodeDuplicateKey, "resource already exists")
	case errors.Is(err, token.ErrScopeConflict):
		WriteError(w, http.StatusConflict, ErrCodeScopeConflict, err.Error())
	case errors.Is(err, token.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, token.ErrEvidenceMismatch):
		WriteError(w, http.StatusUnprocessableEntity, ErrCodeEvidenceMismatch, err.Error())
	case errors.Is(err, token.ErrUnknownTier), errors.Is(err, token.ErrUnknownBot):
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, registry.ErrInvalidBotKey), errors.Is(err, registry.ErrInvalidStatus):
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, policy.ErrInvalidDocument):
		WriteError(w, http.StatusUnprocessableEntity, ErrCodePolicyValidation, err.Error())
	default:
		h.logger.Error("internal error", "error", err)
		WriteError(w, http.StatusInternalServerError, ErrCodeInternalError, "internal error")
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
