package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/avigil/guardlab/internal/domain"
	"github.com/avigil/guardlab/internal/service"
	"github.com/avigil/guardlab/internal/storage"
)

// ProvisionHandler handles provisioning endpoints.
type ProvisionHandler struct {
	store            storage.Storage
	provisionService *service.ProvisionService
}

// NewProvisionHandler creates a new ProvisionHandler.
func NewProvisionHandler(store storage.Storage, provisionService *service.ProvisionService) *ProvisionHandler {
	return &ProvisionHandler{store: store, provisionService: provisionService}
}

// Plan returns the rendered plan and pending actions without applying them.
func (h *ProvisionHandler) Plan(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	if environmentID == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	plan, actions, err := h.provisionService.Plan(r.Context(), environmentID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, &domain.PlanResponse{Plan: plan, Actions: actions})
}

// Provision runs an immediate provisioning pass.
func (h *ProvisionHandler) Provision(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	if environmentID == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	resp, err := h.provisionService.Provision(r.Context(), environmentID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Teardown removes all managed containers and the network of an environment.
func (h *ProvisionHandler) Teardown(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	if environmentID == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	resp, err := h.provisionService.Teardown(r.Context(), environmentID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Status reports the declared hosts of an environment against what the
// engine is running.
func (h *ProvisionHandler) Status(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	if environmentID == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	statuses, err := h.provisionService.Status(r.Context(), environmentID)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, statuses)
}

// ListRuns lists provision runs for an environment, newest first.
func (h *ProvisionHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	if environmentID == "" {
		respondError(w, http.StatusBadRequest, "environment_id is required")
		return
	}

	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	runs, err := h.store.ListProvisionRuns(r.Context(), environmentID, limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, runs)
}

// GetRun gets one provision run.
func (h *ProvisionHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	environmentID := chi.URLParam(r, "environment_id")
	id := chi.URLParam(r, "run_id")
	if environmentID == "" || id == "" {
		respondError(w, http.StatusBadRequest, "environment_id and run_id are required")
		return
	}

	run, err := h.store.GetProvisionRun(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	if run.EnvironmentID != environmentID {
		handleError(w, domain.ErrNotFound)
		return
	}

	respondJSON(w, http.StatusOK, run)
}
