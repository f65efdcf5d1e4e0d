package service

import (
	"context"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/common/logger"
	"github.com/google/uuid"
)

// ledgerStore is the persistence surface the ledger service needs
type ledgerStore interface {
	Create(ctx context.Context, op *models.SyncOperation) error
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	Complete(ctx context.Context, id uuid.UUID, status models.OperationStatus, errorMessage *string, memberID *uuid.UUID) error
	Stats(ctx context.Context, window time.Duration) (*models.OperationStats, error)
}

// LedgerService records attempted synchronizations for audit and
// statistics. Ledger writes are best-effort relative to the
// reconciliation they describe: a failed write is logged loudly but
// never fails the caller's main flow.
type LedgerService struct {
	store ledgerStore
	log   *logger.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(store ledgerStore, log *logger.Logger) *LedgerService {
	return &LedgerService{
		store: store,
		log:   log,
	}
}

// Begin creates a pending ledger entry for a job about to run
func (s *LedgerService) Begin(ctx context.Context, platform models.Platform, opType models.OperationType, externalID string, payload []byte) *models.SyncOperation {
	op := &models.SyncOperation{
		ID:              uuid.New(),
		Platform:        platform,
		OperationType:   opType,
		ExternalID:      externalID,
		Status:          models.StatusPending,
		PayloadSnapshot: payload,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.store.Create(ctx, op); err != nil {
		s.log.Error("ledger write failed: create",
			"sync_operation_id", op.ID,
			"platform", platform,
			"error", err)
	}

	return op
}

// MarkProcessing records that a job has started executing
func (s *LedgerService) MarkProcessing(ctx context.Context, id uuid.UUID) {
	if err := s.store.MarkProcessing(ctx, id); err != nil {
		s.log.Error("ledger write failed: mark processing",
			"sync_operation_id", id,
			"error", err)
	}
}

// Succeed records a successful reconciliation
func (s *LedgerService) Succeed(ctx context.Context, id uuid.UUID, memberID uuid.UUID) {
	if err := s.store.Complete(ctx, id, models.StatusSuccess, nil, &memberID); err != nil {
		s.log.Error("ledger write failed: success",
			"sync_operation_id", id,
			"member_id", memberID,
			"error", err)
	}
}

// SucceedBatch records a successful sweep that resolves to no single
// member, such as a bulk-sync umbrella operation.
func (s *LedgerService) SucceedBatch(ctx context.Context, id uuid.UUID) {
	if err := s.store.Complete(ctx, id, models.StatusSuccess, nil, nil); err != nil {
		s.log.Error("ledger write failed: success",
			"sync_operation_id", id,
			"error", err)
	}
}

// Fail records a failed reconciliation with the captured error message
func (s *LedgerService) Fail(ctx context.Context, id uuid.UUID, message string) {
	if err := s.store.Complete(ctx, id, models.StatusFailed, &message, nil); err != nil {
		s.log.Error("ledger write failed: failure",
			"sync_operation_id", id,
			"message", message,
			"error", err)
	}
}

// Skip records a job that was intentionally not processed
func (s *LedgerService) Skip(ctx context.Context, id uuid.UUID, reason string) {
	if err := s.store.Complete(ctx, id, models.StatusSkipped, &reason, nil); err != nil {
		s.log.Error("ledger write failed: skip",
			"sync_operation_id", id,
			"reason", reason,
			"error", err)
	}
}

// Stats aggregates ledger counts over the rolling window
func (s *LedgerService) Stats(ctx context.Context, window time.Duration) (*models.OperationStats, error) {
	return s.store.Stats(ctx, window)
}
