package handler

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/avigil/guardlab/internal/domain"
	"github.com/avigil/guardlab/internal/service"
	"github.com/avigil/guardlab/internal/validation"
)

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondStandardError writes a standardized JSON error response.
func respondStandardError(w http.ResponseWriter, status int, code, message, field string, details map[string]any) {
	respondJSON(w, status, &domain.StandardErrorResponse{
		Error: domain.StandardError{
			Code:    code,
			Message: message,
			Field:   field,
			Details: details,
		},
	})
}

// respondError writes a JSON error response with the default code for the
// status.
func respondError(w http.ResponseWriter, status int, message string) {
	respondStandardError(w, status, codeForStatus(status), message, "", nil)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return domain.ErrCodeResourceNotFound
	case http.StatusConflict:
		return domain.ErrCodeResourceAlreadyExists
	case http.StatusBadRequest:
		return domain.ErrCodeInvalidInput
	case http.StatusUnauthorized:
		return domain.ErrCodeUnauthorized
	case http.StatusServiceUnavailable:
		return domain.ErrCodeEngineUnavailable
	default:
		return domain.ErrCodeInternalError
	}
}

// handleError converts domain errors to HTTP errors.
func handleError(w http.ResponseWriter, err error) {
	// Topology validation reports every bad field, not just the first
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		respondValidationErrors(w, http.StatusBadRequest, verrs)
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondStandardError(w, http.StatusNotFound, domain.ErrCodeResourceNotFound, err.Error(), "", nil)
	case errors.Is(err, domain.ErrAlreadyExists):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeResourceAlreadyExists, err.Error(), "", nil)
	case errors.Is(err, domain.ErrInvalidInput):
		respondStandardError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error(), "", nil)
	case errors.Is(err, domain.ErrUnauthorized):
		respondStandardError(w, http.StatusUnauthorized, domain.ErrCodeUnauthorized, err.Error(), "", nil)
	case errors.Is(err, domain.ErrProvisionInProgress):
		respondStandardError(w, http.StatusConflict, domain.ErrCodeProvisionInProgress, err.Error(), "", nil)
	case errors.Is(err, domain.ErrEngineUnavailable):
		respondStandardError(w, http.StatusServiceUnavailable, domain.ErrCodeEngineUnavailable, err.Error(), "", nil)
	default:
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeInternalError, "internal server error", "", nil)
	}
}

// respondMutation writes a JSON response and schedules a provisioning pass
// for the touched environment. The ?provision=false query parameter
// suppresses the trigger so bulk edits can batch up.
func respondMutation(w http.ResponseWriter, r *http.Request, status int, data any, svc *service.ProvisionService, environmentID string) {
	respondJSON(w, status, data)
	if r.URL.Query().Get("provision") != "false" {
		svc.TriggerProvision(environmentID)
	}
}

// respondDelete writes a 204 response and schedules a provisioning pass.
func respondDelete(w http.ResponseWriter, r *http.Request, svc *service.ProvisionService, environmentID string) {
	w.WriteHeader(http.StatusNoContent)
	if r.URL.Query().Get("provision") != "false" {
		svc.TriggerProvision(environmentID)
	}
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// generateID generates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new random API key.
func generateAPIKey() (key string, hash string, prefix string, err error) {
	// Generate 32 random bytes for the key
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	key = "glb_" + hex.EncodeToString(bytes)
	hash = hashKey(key)
	prefix = key[:12] // "glb_" + first 8 chars of hex

	return key, hash, prefix, nil
}

// hashKey creates a SHA-256 hash of the API key.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// respondValidationError writes a JSON validation error response.
func respondValidationError(w http.ResponseWriter, field, value, message string) {
	respondJSON(w, http.StatusBadRequest, &validation.ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	})
}

// respondValidationErrors writes a JSON response for multiple validation errors.
func respondValidationErrors(w http.ResponseWriter, status int, errs validation.ValidationErrors) {
	respondJSON(w, status, map[string]any{
		"errors": errs,
	})
}
