package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/common/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNoActiveMembership is returned when a member has no open tier row
var ErrNoActiveMembership = errors.New("no active membership")

// MembershipRepository handles database operations for paid tier rows
type MembershipRepository struct {
	db *db.DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(database *db.DB) *MembershipRepository {
	return &MembershipRepository{db: database}
}

// ActiveByMember returns the member's open membership row
func (r *MembershipRepository) ActiveByMember(ctx context.Context, memberID uuid.UUID) (*models.Membership, error) {
	query := `
		SELECT id, member_id, tier, started_at, ended_at
		FROM memberships
		WHERE member_id = $1 AND ended_at IS NULL
		ORDER BY started_at DESC
		LIMIT 1
	`

	membership := &models.Membership{}
	err := r.db.QueryRow(ctx, query, memberID).Scan(
		&membership.ID,
		&membership.MemberID,
		&membership.Tier,
		&membership.StartedAt,
		&membership.EndedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveMembership
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active membership: %w", err)
	}

	return membership, nil
}

// Create opens a new membership row
func (r *MembershipRepository) Create(ctx context.Context, membership *models.Membership) error {
	query := `
		INSERT INTO memberships (id, member_id, tier, started_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		membership.ID,
		membership.MemberID,
		membership.Tier,
		membership.StartedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create membership: %w", err)
	}

	return nil
}

// EndActive closes any open membership rows for the member as of now
func (r *MembershipRepository) EndActive(ctx context.Context, memberID uuid.UUID) error {
	query := `
		UPDATE memberships
		SET ended_at = $2
		WHERE member_id = $1 AND ended_at IS NULL
	`

	_, err := r.db.Exec(ctx, query, memberID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to end active membership: %w", err)
	}

	return nil
}
