package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avigil/guardlab/internal/domain"
	"github.com/avigil/guardlab/internal/service"
	"github.com/avigil/guardlab/internal/storage"
	"github.com/avigil/guardlab/internal/validation"
)

// RoleHandler handles role assignment endpoints.
type RoleHandler struct {
	store            storage.Storage
	provisionService *service.ProvisionService
}

// NewRoleHandler creates a new RoleHandler.
func NewRoleHandler(store storage.Storage, provisionService *service.ProvisionService) *RoleHandler {
	return &RoleHandler{store: store, provisionService: provisionService}
}

// Assign binds a role to a declared hostname. Assigning to a hostname that
// already carries a role replaces the binding.
func (h *RoleHandler) Assign(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	hostname := chi.URLParam(r, "hostname")
	if environmentID == "" || hostname == "" {
		respondError(w, http.StatusBadRequest, "environment_id and hostname are required")
		return
	}

	// The host has to be declared first
	if _, err := h.store.GetHost(r.Context(), environmentID, hostname); err != nil {
		handleError(w, err)
		return
	}

	var req domain.AssignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validation.ValidateRole(req.Role); err != nil {
		respondValidationError(w, "role", string(req.Role), err.Error())
		return
	}

	now := time.Now()

	existing, err := h.store.GetRoleAssignment(r.Context(), environmentID, hostname)
	switch err {
	case nil:
		existing.Role = req.Role
		existing.Vars = req.Vars
		existing.UpdatedAt = now
		if err := h.store.UpdateRoleAssignment(r.Context(), existing); err != nil {
			handleError(w, err)
			return
		}
		respondMutation(w, r, http.StatusOK, existing, h.provisionService, environmentID)
	case domain.ErrNotFound:
		ra := &domain.RoleAssignment{
			ID:            generateID(),
			EnvironmentID: environmentID,
			Hostname:      hostname,
			Role:          req.Role,
			Vars:          req.Vars,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := h.store.CreateRoleAssignment(r.Context(), ra); err != nil {
			handleError(w, err)
			return
		}
		respondMutation(w, r, http.StatusCreated, ra, h.provisionService, environmentID)
	default:
		handleError(w, err)
	}
}

// List lists all role assignments in an environment.
func (h *RoleHandler) List(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	if environmentID == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	assignments, err := h.store.ListRoleAssignments(r.Context(), environmentID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, assignments)
}

// Get gets the role assignment of a hostname.
func (h *RoleHandler) Get(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	hostname := chi.URLParam(r, "hostname")
	if environmentID == "" || hostname == "" {
		respondError(w, http.StatusBadRequest, "environment_id and hostname are required")
		return
	}

	ra, err := h.store.GetRoleAssignment(r.Context(), environmentID, hostname)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ra)
}

// Delete removes the role assignment of a hostname.
func (h *RoleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	hostname := chi.URLParam(r, "hostname")
	if environmentID == "" || hostname == "" {
		respondError(w, http.StatusBadRequest, "environment_id and hostname are required")
		return
	}

	if err := h.store.DeleteRoleAssignment(r.Context(), environmentID, hostname); err != nil {
		handleError(w, err)
		return
	}

	respondDelete(w, r, h.provisionService, environmentID)
}
