package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/avigil/guardlab/internal/domain"
	"github.com/avigil/guardlab/internal/service"
	"github.com/avigil/guardlab/internal/storage"
	"github.com/avigil/guardlab/internal/validation"
)

// DeltaHandler handles vulnerability feed delta endpoints.
type DeltaHandler struct {
	store        storage.Storage
	deltaService *service.DeltaService
}

// NewDeltaHandler creates a new DeltaHandler.
func NewDeltaHandler(store storage.Storage, deltaService *service.DeltaService) *DeltaHandler {
	return &DeltaHandler{store: store, deltaService: deltaService}
}

// Ingest accepts a feed delta. Records violating the feed contract are
// rejected with a 422 and a field-level verdict.
func (h *DeltaHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeJSON(r, &raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, errs, err := h.deltaService.Ingest(r.Context(), raw)
	if err != nil {
		handleError(w, err)
		return
	}
	if len(errs) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, verdict(errs))
		return
	}

	respondJSON(w, http.StatusCreated, record)
}

// Validate runs the feed contract checks without storing anything.
func (h *DeltaHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeJSON(r, &raw); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	respondJSON(w, http.StatusOK, verdict(validation.ValidateDelta(raw)))
}

// List lists stored deltas, newest first. Supports operation, status, limit
// and offset query parameters; the total matching before pagination goes out
// in the X-Total-Count header.
func (h *DeltaHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := domain.DeltaFilter{
		Operation: r.URL.Query().Get("operation"),
		Status:    r.URL.Query().Get("status"),
		Limit:     50,
	}

	if filter.Operation != "" && !domain.ValidDeltaOperation(domain.DeltaOperation(filter.Operation)) {
		respondValidationError(w, "operation", filter.Operation, "must be one of insert, update, delete")
		return
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	total, err := h.store.CountDeltas(r.Context(), filter)
	if err != nil {
		handleError(w, err)
		return
	}

	deltas, err := h.store.ListDeltas(r.Context(), filter)
	if err != nil {
		handleError(w, err)
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	respondJSON(w, http.StatusOK, deltas)
}

// Get gets a stored delta by ID.
func (h *DeltaHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	record, err := h.store.GetDelta(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}

// SetStatus moves a delta between pending and claimed so feed consumers can
// mark what they have picked up.
func (h *DeltaHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.deltaService.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}

// verdict converts validator output into the wire verdict shape.
func verdict(errs validation.ValidationErrors) *domain.DeltaVerdict {
	v := &domain.DeltaVerdict{Valid: len(errs) == 0}
	for _, e := range errs {
		v.Errors = append(v.Errors, domain.DeltaIssue{
			Field:   e.Field,
			Value:   e.Value,
			Message: e.Message,
		})
	}
	return v
}
