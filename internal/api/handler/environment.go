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

// EnvironmentHandler handles environment endpoints.
type EnvironmentHandler struct {
	store            storage.Storage
	provisionService *service.ProvisionService
}

// NewEnvironmentHandler creates a new EnvironmentHandler.
func NewEnvironmentHandler(store storage.Storage, provisionService *service.ProvisionService) *EnvironmentHandler {
	return &EnvironmentHandler{store: store, provisionService: provisionService}
}

// Create creates a new environment.
func (h *EnvironmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateEnvironmentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := validation.ValidateEnvironmentName(req.Name); err != nil {
		respondValidationError(w, "name", req.Name, err.Error())
		return
	}

	if req.Network == "" {
		req.Network = req.Name + "-net"
	}
	if err := validation.ValidateNetworkName(req.Network); err != nil {
		respondValidationError(w, "network", req.Network, err.Error())
		return
	}
	if req.Subnet != "" {
		if err := validation.ValidateSubnet(req.Subnet); err != nil {
			respondValidationError(w, "subnet", req.Subnet, err.Error())
			return
		}
	}

	now := time.Now()
	env := &domain.Environment{
		ID:          generateID(),
		Name:        req.Name,
		Description: req.Description,
		Network:     req.Network,
		Subnet:      req.Subnet,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.store.CreateEnvironment(r.Context(), env); err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, env)
}

// List lists all environments. A ?name= filter narrows the result to the
// single environment with that name.
func (h *EnvironmentHandler) List(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		env, err := h.store.GetEnvironmentByName(r.Context(), name)
		if err != nil {
			handleError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, []*domain.Environment{env})
		return
	}

	envs, err := h.store.ListEnvironments(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, envs)
}

// Get gets an environment by ID.
func (h *EnvironmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "environment_id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	env, err := h.store.GetEnvironment(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	SetEnvironmentETag(w, env)
	respondJSON(w, http.StatusOK, env)
}

// Update updates an environment.
func (h *EnvironmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "environment_id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	var req domain.UpdateEnvironmentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	env, err := h.store.GetEnvironment(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	if !CheckEnvironmentIfMatch(r, env) {
		RespondPreconditionFailed(w, "environment", env.ID, env.UpdatedAt)
		return
	}

	if req.Name != nil {
		if err := validation.ValidateEnvironmentName(*req.Name); err != nil {
			respondValidationError(w, "name", *req.Name, err.Error())
			return
		}
		env.Name = *req.Name
	}
	if req.Description != nil {
		env.Description = *req.Description
	}
	if req.Network != nil {
		if err := validation.ValidateNetworkName(*req.Network); err != nil {
			respondValidationError(w, "network", *req.Network, err.Error())
			return
		}
		env.Network = *req.Network
	}
	if req.Subnet != nil {
		if *req.Subnet != "" {
			if err := validation.ValidateSubnet(*req.Subnet); err != nil {
				respondValidationError(w, "subnet", *req.Subnet, err.Error())
				return
			}
		}
		env.Subnet = *req.Subnet
	}

	if err := h.store.UpdateEnvironment(r.Context(), env); err != nil {
		handleError(w, err)
		return
	}

	// Network or subnet changes replace every container, trigger a pass
	respondMutation(w, r, http.StatusOK, env, h.provisionService, env.ID)
}

// Delete deletes an environment and all its declared hosts and roles.
// Running containers are left alone; tear the environment down first if they
// should go too.
func (h *EnvironmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "environment_id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	if err := h.store.DeleteEnvironment(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReplaceTopology replaces all hosts and role assignments of an environment
// with the provided topology document.
func (h *EnvironmentHandler) ReplaceTopology(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	if environmentID == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	// Verify environment exists
	if _, err := h.store.GetEnvironment(r.Context(), environmentID); err != nil {
		handleError(w, err)
		return
	}

	var topology domain.EnvironmentTopology
	if err := decodeJSON(r, &topology); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	declared := make(map[string]bool, len(topology.Hosts))
	for _, hostReq := range topology.Hosts {
		if err := validation.ValidateHostname(hostReq.Hostname); err != nil {
			respondValidationError(w, "hostname", hostReq.Hostname, err.Error())
			return
		}
		if err := validation.ValidateImageRef(hostReq.Image); err != nil {
			respondValidationError(w, "image", hostReq.Image, err.Error())
			return
		}
		if hostReq.Address != "" {
			if err := validation.ValidateAddress(hostReq.Address); err != nil {
				respondValidationError(w, "address", hostReq.Address, err.Error())
				return
			}
		}
		for _, binding := range hostReq.Ports {
			if err := validation.ValidatePortBinding(binding); err != nil {
				respondValidationError(w, "ports", binding, err.Error())
				return
			}
		}
		declared[hostReq.Hostname] = true
	}

	for _, roleReq := range topology.Roles {
		if err := validation.ValidateRole(roleReq.Role); err != nil {
			respondValidationError(w, "role", string(roleReq.Role), err.Error())
			return
		}
		if !declared[roleReq.Hostname] {
			respondValidationError(w, "hostname", roleReq.Hostname, "role assigned to undeclared host")
			return
		}
	}

	ctx := r.Context()

	// Start a transaction
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		handleError(w, err)
		return
	}
	defer func() { _ = tx.Rollback() }()

	// Delete all existing hosts and role assignments
	if err := tx.DeleteAllRoleAssignmentsForEnvironment(ctx, environmentID); err != nil {
		handleError(w, err)
		return
	}
	if err := tx.DeleteAllHostsForEnvironment(ctx, environmentID); err != nil {
		handleError(w, err)
		return
	}

	now := time.Now()

	for _, hostReq := range topology.Hosts {
		host := &domain.Host{
			ID:            generateID(),
			EnvironmentID: environmentID,
			Hostname:      hostReq.Hostname,
			Image:         hostReq.Image,
			Address:       hostReq.Address,
			Ports:         hostReq.Ports,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateHost(ctx, host); err != nil {
			handleError(w, err)
			return
		}
	}

	for _, roleReq := range topology.Roles {
		ra := &domain.RoleAssignment{
			ID:            generateID(),
			EnvironmentID: environmentID,
			Hostname:      roleReq.Hostname,
			Role:          roleReq.Role,
			Vars:          roleReq.Vars,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateRoleAssignment(ctx, ra); err != nil {
			handleError(w, err)
			return
		}
	}

	if err := tx.Commit(); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusOK, map[string]string{"status": "ok"}, h.provisionService, environmentID)
}
