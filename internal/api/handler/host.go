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

// HostHandler handles host endpoints.
type HostHandler struct {
	store            storage.Storage
	provisionService *service.ProvisionService
}

// NewHostHandler creates a new HostHandler.
func NewHostHandler(store storage.Storage, provisionService *service.ProvisionService) *HostHandler {
	return &HostHandler{store: store, provisionService: provisionService}
}

// Create declares a new host.
func (h *HostHandler) Create(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	if environmentID == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	if _, err := h.store.GetEnvironment(r.Context(), environmentID); err != nil {
		handleError(w, err)
		return
	}

	var req domain.CreateHostRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Hostname == "" || req.Image == "" {
		respondError(w, http.StatusBadRequest, "hostname and image are required")
		return
	}

	if err := validation.ValidateHostname(req.Hostname); err != nil {
		respondValidationError(w, "hostname", req.Hostname, err.Error())
		return
	}
	if err := validation.ValidateImageRef(req.Image); err != nil {
		respondValidationError(w, "image", req.Image, err.Error())
		return
	}
	if req.Address != "" {
		if err := validation.ValidateAddress(req.Address); err != nil {
			respondValidationError(w, "address", req.Address, err.Error())
			return
		}
	}
	for _, binding := range req.Ports {
		if err := validation.ValidatePortBinding(binding); err != nil {
			respondValidationError(w, "ports", binding, err.Error())
			return
		}
	}

	now := time.Now()
	host := &domain.Host{
		ID:            generateID(),
		EnvironmentID: environmentID,
		Hostname:      req.Hostname,
		Image:         req.Image,
		Address:       req.Address,
		Ports:         req.Ports,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.store.CreateHost(r.Context(), host); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusCreated, host, h.provisionService, environmentID)
}

// List lists all hosts declared in an environment.
func (h *HostHandler) List(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	if environmentID == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	hosts, err := h.store.ListHosts(r.Context(), environmentID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, hosts)
}

// Get gets a host by hostname.
func (h *HostHandler) Get(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	hostname := chi.URLParam(r, "hostname")
	if environmentID == "" || hostname == "" {
		respondError(w, http.StatusBadRequest, "environment_id and hostname are required")
		return
	}

	host, err := h.store.GetHost(r.Context(), environmentID, hostname)
	if err != nil {
		handleError(w, err)
		return
	}

	SetHostETag(w, host)
	respondJSON(w, http.StatusOK, host)
}

// Update updates a host declaration.
func (h *HostHandler) Update(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	hostname := chi.URLParam(r, "hostname")
	if environmentID == "" || hostname == "" {
		respondError(w, http.StatusBadRequest, "environment_id and hostname are required")
		return
	}

	host, err := h.store.GetHost(r.Context(), environmentID, hostname)
	if err != nil {
		handleError(w, err)
		return
	}

	if !CheckHostIfMatch(r, host) {
		RespondPreconditionFailed(w, "host", host.ID, host.UpdatedAt)
		return
	}

	var req domain.UpdateHostRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Image != nil {
		if err := validation.ValidateImageRef(*req.Image); err != nil {
			respondValidationError(w, "image", *req.Image, err.Error())
			return
		}
		host.Image = *req.Image
	}
	if req.Address != nil {
		if *req.Address != "" {
			if err := validation.ValidateAddress(*req.Address); err != nil {
				respondValidationError(w, "address", *req.Address, err.Error())
				return
			}
		}
		host.Address = *req.Address
	}
	if req.Ports != nil {
		for _, binding := range *req.Ports {
			if err := validation.ValidatePortBinding(binding); err != nil {
				respondValidationError(w, "ports", binding, err.Error())
				return
			}
		}
		host.Ports = *req.Ports
	}

	if err := h.store.UpdateHost(r.Context(), host); err != nil {
		handleError(w, err)
		return
	}

	respondMutation(w, r, http.StatusOK, host, h.provisionService, environmentID)
}

// Delete removes a host declaration. The next provisioning pass removes its
// container.
func (h *HostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	hostname := chi.URLParam(r, "hostname")
	if environmentID == "" || hostname == "" {
		respondError(w, http.StatusBadRequest, "environment_id and hostname are required")
		return
	}

	if err := h.store.DeleteHost(r.Context(), environmentID, hostname); err != nil {
		handleError(w, err)
		return
	}

	respondDelete(w, r, h.provisionService, environmentID)
}
