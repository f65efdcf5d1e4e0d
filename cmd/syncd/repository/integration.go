package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/common/db"
	"github.com/google/uuid"
)

// IntegrationRepository handles database operations for the links
// between members and platform-side identities.
type IntegrationRepository struct {
	db *db.DB
}

// NewIntegrationRepository creates a new integration repository
func NewIntegrationRepository(database *db.DB) *IntegrationRepository {
	return &IntegrationRepository{db: database}
}

// Upsert creates or refreshes the integration row for
// (member, platform, external id). Re-reconciliation updates only the
// snapshot and timestamp, which is what makes the operation idempotent.
func (r *IntegrationRepository) Upsert(ctx context.Context, integration *models.ExternalIntegration) error {
	integration.LastSyncedAt = time.Now().UTC()
	integration.Active = true

	query := `
		INSERT INTO external_integrations (member_id, system_name, external_id, external_data, last_synced_at, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (member_id, system_name, external_id)
		DO UPDATE SET external_data = EXCLUDED.external_data,
		              last_synced_at = EXCLUDED.last_synced_at,
		              active = TRUE
	`

	_, err := r.db.Exec(
		ctx,
		query,
		integration.MemberID,
		integration.SystemName,
		integration.ExternalID,
		integration.ExternalData,
		integration.LastSyncedAt,
		integration.Active,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert integration: %w", err)
	}

	return nil
}

// GetByMember lists a member's integrations for one platform
func (r *IntegrationRepository) GetByMember(ctx context.Context, memberID uuid.UUID, platform models.Platform) ([]*models.ExternalIntegration, error) {
	query := `
		SELECT member_id, system_name, external_id, external_data, last_synced_at, active
		FROM external_integrations
		WHERE member_id = $1 AND system_name = $2
	`

	rows, err := r.db.Query(ctx, query, memberID, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []*models.ExternalIntegration
	for rows.Next() {
		integration := &models.ExternalIntegration{}
		err := rows.Scan(
			&integration.MemberID,
			&integration.SystemName,
			&integration.ExternalID,
			&integration.ExternalData,
			&integration.LastSyncedAt,
			&integration.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		integrations = append(integrations, integration)
	}

	return integrations, nil
}

// Deactivate clears the active flag. Integration rows are never deleted
// by the sync engine.
func (r *IntegrationRepository) Deactivate(ctx context.Context, memberID uuid.UUID, platform models.Platform, externalID string) error {
	query := `
		UPDATE external_integrations
		SET active = FALSE
		WHERE member_id = $1 AND system_name = $2 AND external_id = $3
	`

	_, err := r.db.Exec(ctx, query, memberID, platform, externalID)
	if err != nil {
		return fmt.Errorf("failed to deactivate integration: %w", err)
	}

	return nil
}
