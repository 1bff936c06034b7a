package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avigil/guardlab/internal/domain"
	"github.com/avigil/guardlab/internal/events"
	"github.com/avigil/guardlab/internal/metrics"
	"github.com/avigil/guardlab/internal/storage"
	"github.com/avigil/guardlab/internal/validation"
)

// DeltaService accepts vulnerability feed delta records. Records that fail
// the feed contract are counted and rejected, never stored.
type DeltaService struct {
	store     storage.Storage
	publisher events.Publisher
	logger    *slog.Logger
}

// NewDeltaService creates a new DeltaService.
func NewDeltaService(store storage.Storage, publisher events.Publisher, logger *slog.Logger) *DeltaService {
	return &DeltaService{store: store, publisher: publisher, logger: logger}
}

// Ingest validates a raw delta against the feed contract and stores it.
// Contract violations come back as validation errors with a nil record; the
// error return is reserved for storage failures.
func (s *DeltaService) Ingest(ctx context.Context, raw map[string]any) (*domain.DeltaRecord, validation.ValidationErrors, error) {
	if errs := validation.ValidateDelta(raw); len(errs) > 0 {
		metrics.Deltas.WithLabelValues(operationLabel(raw), "rejected").Inc()
		return nil, errs, nil
	}

	// Safe after validation: all four fields are present strings
	record := &domain.DeltaRecord{
		ID:         uuid.New().String(),
		CVEID:      raw["cve_id"].(string),
		DataBlob:   raw["data_blob"].(string),
		DataHash:   raw["data_hash"].(string),
		Operation:  raw["operation"].(string),
		Status:     domain.DeltaStatusPending,
		ReceivedAt: time.Now(),
	}

	if err := s.store.CreateDelta(ctx, record); err != nil {
		return nil, nil, err
	}

	metrics.Deltas.WithLabelValues(record.Operation, "accepted").Inc()

	event := events.DeltaEvent{
		ID:        record.ID,
		CVEID:     record.CVEID,
		Operation: record.Operation,
	}
	if err := s.publisher.Publish(ctx, events.SubjectDeltaAccepted, event); err != nil {
		s.logger.Warn("event publish failed", "subject", events.SubjectDeltaAccepted, "error", err)
	}

	return record, nil, nil
}

// SetStatus moves a stored delta between pending and claimed.
func (s *DeltaService) SetStatus(ctx context.Context, id, status string) (*domain.DeltaRecord, error) {
	switch status {
	case domain.DeltaStatusPending, domain.DeltaStatusClaimed:
	default:
		return nil, fmt.Errorf("%w: unknown delta status %q", domain.ErrInvalidInput, status)
	}

	if err := s.store.UpdateDeltaStatus(ctx, id, status); err != nil {
		return nil, err
	}
	return s.store.GetDelta(ctx, id)
}

// operationLabel returns a bounded metric label for the operation field of a
// possibly invalid delta.
func operationLabel(raw map[string]any) string {
	if s, ok := raw["operation"].(string); ok && domain.ValidDeltaOperation(domain.DeltaOperation(s)) {
		return s
	}
	return "invalid"
}
