package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/cmd/syncd/platform"
	"github.com/clubops/membersync/cmd/syncd/repository"
	"github.com/clubops/membersync/common/logger"
	"github.com/clubops/membersync/common/syncerr"
	"github.com/google/uuid"
)

// memberStore is the persistence surface the reconciler needs for members
type memberStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Member, error)
	Create(ctx context.Context, member *models.Member) (*models.Member, error)
	Update(ctx context.Context, member *models.Member) error
}

// integrationStore upserts member/platform identity links
type integrationStore interface {
	Upsert(ctx context.Context, integration *models.ExternalIntegration) error
}

// membershipStore manages paid tier rows
type membershipStore interface {
	ActiveByMember(ctx context.Context, memberID uuid.UUID) (*models.Membership, error)
	Create(ctx context.Context, membership *models.Membership) error
	EndActive(ctx context.Context, memberID uuid.UUID) error
}

// ReconcilerService idempotently maps a platform entity onto a local
// member record and an external-integration link. Reconciliation is
// commutative: concurrent syncs of the same email converge on one
// member via the conflict-aware insert underneath.
type ReconcilerService struct {
	members      memberStore
	integrations integrationStore
	memberships  membershipStore
	ledger       *LedgerService
	log          *logger.Logger
}

// NewReconcilerService creates a new reconciler
func NewReconcilerService(
	members memberStore,
	integrations integrationStore,
	memberships membershipStore,
	ledger *LedgerService,
	log *logger.Logger,
) *ReconcilerService {
	return &ReconcilerService{
		members:      members,
		integrations: integrations,
		memberships:  memberships,
		ledger:       ledger,
		log:          log,
	}
}

// Reconcile runs the full pipeline for one platform entity and records
// the outcome against the given ledger operation. Returns the member on
// success, nil when the entity could not be reconciled.
func (s *ReconcilerService) Reconcile(ctx context.Context, pf models.Platform, entity platform.Entity, opID uuid.UUID) (*models.Member, error) {
	email := models.CanonicalEmail(entity.Email)
	if email == "" {
		// No email means no deterministic match key. Reported, not
		// retried: retrying cannot conjure one up.
		s.ledger.Fail(ctx, opID, "no email")
		return nil, syncerr.Permanent(fmt.Errorf("entity %s has no email", entity.ExternalID))
	}

	member, err := s.findOrCreate(ctx, email, entity)
	if err != nil {
		s.ledger.Fail(ctx, opID, err.Error())
		return nil, err
	}

	if err := s.integrations.Upsert(ctx, &models.ExternalIntegration{
		MemberID:     member.ID,
		SystemName:   pf,
		ExternalID:   entity.ExternalID,
		ExternalData: entity.Raw,
	}); err != nil {
		s.ledger.Fail(ctx, opID, err.Error())
		return nil, err
	}

	if err := s.postProcess(ctx, pf, member, entity); err != nil {
		s.ledger.Fail(ctx, opID, err.Error())
		return nil, err
	}

	s.ledger.Succeed(ctx, opID, member.ID)

	s.log.Info("entity reconciled",
		"platform", pf,
		"external_id", entity.ExternalID,
		"member_id", member.ID)

	return member, nil
}

// findOrCreate resolves the entity's email to a member. Existing
// members are merged update-without-clobber: only locally empty fields
// are filled from platform data, so admin edits are never overwritten.
func (s *ReconcilerService) findOrCreate(ctx context.Context, email string, entity platform.Entity) (*models.Member, error) {
	member, err := s.members.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrMemberNotFound) {
		created, err := s.members.Create(ctx, &models.Member{
			ID:           uuid.New(),
			Email:        email,
			FirstName:    entity.FirstName,
			LastName:     entity.LastName,
			Capabilities: models.CapActive,
		})
		if err != nil {
			return nil, fmt.Errorf("create member: %w", err)
		}
		return created, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup member: %w", err)
	}

	changed := false
	if member.FirstName == "" && entity.FirstName != "" {
		member.FirstName = entity.FirstName
		changed = true
	}
	if member.LastName == "" && entity.LastName != "" {
		member.LastName = entity.LastName
		changed = true
	}
	if !member.HasCapability(models.CapActive) {
		member.GrantCapability(models.CapActive)
		changed = true
	}

	if changed {
		if err := s.members.Update(ctx, member); err != nil {
			return nil, fmt.Errorf("update member: %w", err)
		}
	}

	return member, nil
}

// postProcess runs platform-specific effects after the base upsert.
// Each effect is idempotent: rerunning with unchanged input produces no
// new membership rows and no capability flapping.
func (s *ReconcilerService) postProcess(ctx context.Context, pf models.Platform, member *models.Member, entity platform.Entity) error {
	switch pf {
	case models.PlatformPatronage:
		return s.assignTier(ctx, member, entity.AmountCents)
	case models.PlatformTicketing:
		return s.grantCapability(ctx, member, models.CapEventAccess)
	case models.PlatformMailer:
		return s.grantCapability(ctx, member, models.CapMailingList)
	case models.PlatformChat:
		return s.grantCapability(ctx, member, models.CapChatAccess)
	}
	return nil
}

// assignTier maps the contribution amount to a membership tier. An
// unchanged tier is a no-op. Below-threshold amounts end the active
// paid tier as of now without opening a replacement.
func (s *ReconcilerService) assignTier(ctx context.Context, member *models.Member, amountCents int) error {
	tier := models.TierForAmount(amountCents)

	active, err := s.memberships.ActiveByMember(ctx, member.ID)
	if err != nil && !errors.Is(err, repository.ErrNoActiveMembership) {
		return fmt.Errorf("lookup active membership: %w", err)
	}

	if tier == 0 {
		if active != nil {
			if err := s.memberships.EndActive(ctx, member.ID); err != nil {
				return fmt.Errorf("end membership: %w", err)
			}
			s.log.Info("membership ended, contribution below threshold",
				"member_id", member.ID,
				"amount_cents", amountCents)
		}
		return nil
	}

	if active != nil && active.Tier == tier {
		return nil
	}

	if active != nil {
		if err := s.memberships.EndActive(ctx, member.ID); err != nil {
			return fmt.Errorf("end membership: %w", err)
		}
	}

	if err := s.memberships.Create(ctx, &models.Membership{
		ID:        uuid.New(),
		MemberID:  member.ID,
		Tier:      tier,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("create membership: %w", err)
	}

	s.log.Info("membership tier assigned",
		"member_id", member.ID,
		"tier", tier,
		"amount_cents", amountCents)

	return nil
}

// grantCapability sets a capability bit, writing only when it changes
func (s *ReconcilerService) grantCapability(ctx context.Context, member *models.Member, cap uint64) error {
	if member.HasCapability(cap) {
		return nil
	}

	member.GrantCapability(cap)
	if err := s.members.Update(ctx, member); err != nil {
		return fmt.Errorf("grant capability: %w", err)
	}

	return nil
}
