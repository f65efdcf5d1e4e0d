package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/common/db"
	"github.com/google/uuid"
)

// SyncOperationRepository handles database operations for the operation
// ledger. Rows are append-mostly: one insert, one terminal update.
type SyncOperationRepository struct {
	db *db.DB
}

// NewSyncOperationRepository creates a new sync operation repository
func NewSyncOperationRepository(database *db.DB) *SyncOperationRepository {
	return &SyncOperationRepository{db: database}
}

// Create inserts a new sync operation in pending status
func (r *SyncOperationRepository) Create(ctx context.Context, op *models.SyncOperation) error {
	query := `
		INSERT INTO sync_operations (id, platform, operation_type, external_id, status, payload_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		op.ID,
		op.Platform,
		op.OperationType,
		op.ExternalID,
		op.Status,
		op.PayloadSnapshot,
		op.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create sync operation: %w", err)
	}

	return nil
}

// MarkProcessing moves a pending operation to processing. The WHERE
// clause keeps the transition one-directional.
func (r *SyncOperationRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE sync_operations
		SET status = $2
		WHERE id = $1 AND status = $3
	`

	_, err := r.db.Exec(ctx, query, id, models.StatusProcessing, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark sync operation processing: %w", err)
	}

	return nil
}

// Complete applies the terminal transition. processed_at is set here and
// nowhere else; already-terminal rows are left untouched.
func (r *SyncOperationRepository) Complete(ctx context.Context, id uuid.UUID, status models.OperationStatus, errorMessage *string, memberID *uuid.UUID) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	query := `
		UPDATE sync_operations
		SET status = $2, error_message = $3, member_id = $4, processed_at = $5
		WHERE id = $1 AND status IN ($6, $7)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		id,
		status,
		errorMessage,
		memberID,
		time.Now().UTC(),
		models.StatusPending,
		models.StatusProcessing,
	)

	if err != nil {
		return fmt.Errorf("failed to complete sync operation: %w", err)
	}

	return nil
}

// GetByID retrieves a sync operation
func (r *SyncOperationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncOperation, error) {
	query := `
		SELECT id, platform, operation_type, external_id, member_id, status, payload_snapshot, error_message, created_at, processed_at
		FROM sync_operations
		WHERE id = $1
	`

	op := &models.SyncOperation{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&op.ID,
		&op.Platform,
		&op.OperationType,
		&op.ExternalID,
		&op.MemberID,
		&op.Status,
		&op.PayloadSnapshot,
		&op.ErrorMessage,
		&op.CreatedAt,
		&op.ProcessedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get sync operation: %w", err)
	}

	return op, nil
}

// Stats aggregates ledger counts created within the rolling window
func (r *SyncOperationRepository) Stats(ctx context.Context, window time.Duration) (*models.OperationStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*)
		FROM sync_operations
		WHERE created_at >= $1
	`

	since := time.Now().UTC().Add(-window)

	stats := &models.OperationStats{}
	err := r.db.QueryRow(ctx, query, since).Scan(
		&stats.Pending,
		&stats.Processing,
		&stats.Success,
		&stats.Failed,
		&stats.Total,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sync stats: %w", err)
	}

	return stats, nil
}
