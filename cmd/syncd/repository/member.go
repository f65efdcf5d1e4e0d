package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/common/db"
	"github.com/jackc/pgx/v5"
)

// ErrMemberNotFound is returned when no member matches the lookup
var ErrMemberNotFound = errors.New("member not found")

// MemberRepository handles database operations for member records.
// This is the narrow persistence interface the reconciler consumes; the
// full member CRUD surface lives elsewhere.
type MemberRepository struct {
	db *db.DB
}

// NewMemberRepository creates a new member repository
func NewMemberRepository(database *db.DB) *MemberRepository {
	return &MemberRepository{db: database}
}

// GetByEmail looks up a member by canonical (lowercased) email
func (r *MemberRepository) GetByEmail(ctx context.Context, email string) (*models.Member, error) {
	query := `
		SELECT id, email, first_name, last_name, capabilities, created_at, updated_at
		FROM members
		WHERE email = $1
	`

	member := &models.Member{}
	err := r.db.QueryRow(ctx, query, models.CanonicalEmail(email)).Scan(
		&member.ID,
		&member.Email,
		&member.FirstName,
		&member.LastName,
		&member.Capabilities,
		&member.CreatedAt,
		&member.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member by email: %w", err)
	}

	return member, nil
}

// Create inserts a new member. Two concurrent syncs of the same email
// must not double-create, so the insert is conflict-aware: on an email
// collision the existing row wins and is returned instead.
func (r *MemberRepository) Create(ctx context.Context, member *models.Member) (*models.Member, error) {
	member.Email = models.CanonicalEmail(member.Email)
	now := time.Now().UTC()
	member.CreatedAt = now
	member.UpdatedAt = now

	query := `
		INSERT INTO members (id, email, first_name, last_name, capabilities, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO NOTHING
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		member.ID,
		member.Email,
		member.FirstName,
		member.LastName,
		member.Capabilities,
		member.CreatedAt,
		member.UpdatedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Lost the race; another sync created this member first
		return r.GetByEmail(ctx, member.Email)
	}

	return member, nil
}

// Update writes name and capability fields back to an existing member
func (r *MemberRepository) Update(ctx context.Context, member *models.Member) error {
	query := `
		UPDATE members
		SET first_name = $2, last_name = $3, capabilities = $4, updated_at = $5
		WHERE id = $1
	`

	_, err := r.db.Exec(
		ctx,
		query,
		member.ID,
		member.FirstName,
		member.LastName,
		member.Capabilities,
		time.Now().UTC(),
	)

	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}

	return nil
}
