package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clubops/membersync/cmd/syncd/models"
	"github.com/clubops/membersync/cmd/syncd/platform"
	"github.com/clubops/membersync/cmd/syncd/repository"
	"github.com/clubops/membersync/common/logger"
	"github.com/clubops/membersync/common/syncerr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemberStore keeps members in a map keyed by canonical email.
// Mutex-guarded because bulk sync reconciles entities concurrently.
type fakeMemberStore struct {
	mu      sync.Mutex
	byEmail map[string]*models.Member
	creates int
	updates int
}

func newFakeMemberStore() *fakeMemberStore {
	return &fakeMemberStore{byEmail: make(map[string]*models.Member)}
}

func (f *fakeMemberStore) GetByEmail(ctx context.Context, email string) (*models.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.byEmail[models.CanonicalEmail(email)]
	if !ok {
		return nil, repository.ErrMemberNotFound
	}
	copy := *m
	return &copy, nil
}

func (f *fakeMemberStore) Create(ctx context.Context, member *models.Member) (*models.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := models.CanonicalEmail(member.Email)
	if existing, ok := f.byEmail[key]; ok {
		// Mirrors the conflict-aware insert: a racing create returns
		// the row that won.
		copy := *existing
		return &copy, nil
	}
	f.creates++
	stored := *member
	f.byEmail[key] = &stored
	copy := stored
	return &copy, nil
}

func (f *fakeMemberStore) Update(ctx context.Context, member *models.Member) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates++
	stored := *member
	f.byEmail[models.CanonicalEmail(member.Email)] = &stored
	return nil
}

type fakeIntegrationStore struct {
	mu      sync.Mutex
	upserts map[string]*models.ExternalIntegration
}

func newFakeIntegrationStore() *fakeIntegrationStore {
	return &fakeIntegrationStore{upserts: make(map[string]*models.ExternalIntegration)}
}

func (f *fakeIntegrationStore) Upsert(ctx context.Context, integration *models.ExternalIntegration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := integration.MemberID.String() + "/" + string(integration.SystemName) + "/" + integration.ExternalID
	stored := *integration
	f.upserts[key] = &stored
	return nil
}

type fakeMembershipStore struct {
	mu      sync.Mutex
	active  map[uuid.UUID]*models.Membership
	creates int
	ends    int
}

func newFakeMembershipStore() *fakeMembershipStore {
	return &fakeMembershipStore{active: make(map[uuid.UUID]*models.Membership)}
}

func (f *fakeMembershipStore) ActiveByMember(ctx context.Context, memberID uuid.UUID) (*models.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.active[memberID]
	if !ok {
		return nil, repository.ErrNoActiveMembership
	}
	copy := *m
	return &copy, nil
}

func (f *fakeMembershipStore) Create(ctx context.Context, membership *models.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	stored := *membership
	f.active[membership.MemberID] = &stored
	return nil
}

func (f *fakeMembershipStore) EndActive(ctx context.Context, memberID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ends++
	delete(f.active, memberID)
	return nil
}

// fakeLedgerStore records completions in memory
type fakeLedgerStore struct {
	mu  sync.Mutex
	ops map[uuid.UUID]*models.SyncOperation
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{ops: make(map[uuid.UUID]*models.SyncOperation)}
}

func (f *fakeLedgerStore) Create(ctx context.Context, op *models.SyncOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := *op
	f.ops[op.ID] = &stored
	return nil
}

func (f *fakeLedgerStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if op, ok := f.ops[id]; ok {
		op.Status = models.StatusProcessing
	}
	return nil
}

func (f *fakeLedgerStore) Complete(ctx context.Context, id uuid.UUID, status models.OperationStatus, errorMessage *string, memberID *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	op, ok := f.ops[id]
	if !ok {
		op = &models.SyncOperation{ID: id}
		f.ops[id] = op
	}
	op.Status = status
	op.ErrorMessage = errorMessage
	op.MemberID = memberID
	return nil
}

func (f *fakeLedgerStore) Stats(ctx context.Context, window time.Duration) (*models.OperationStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &models.OperationStats{}
	for _, op := range f.ops {
		switch op.Status {
		case models.StatusPending:
			stats.Pending++
		case models.StatusProcessing:
			stats.Processing++
		case models.StatusSuccess:
			stats.Success++
		case models.StatusFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats, nil
}

type reconcilerFixture struct {
	members      *fakeMemberStore
	integrations *fakeIntegrationStore
	memberships  *fakeMembershipStore
	ledgerStore  *fakeLedgerStore
	ledger       *LedgerService
	svc          *ReconcilerService
}

func newReconcilerFixture() *reconcilerFixture {
	log := logger.New("error", "text")
	f := &reconcilerFixture{
		members:      newFakeMemberStore(),
		integrations: newFakeIntegrationStore(),
		memberships:  newFakeMembershipStore(),
		ledgerStore:  newFakeLedgerStore(),
	}
	f.ledger = NewLedgerService(f.ledgerStore, log)
	f.svc = NewReconcilerService(f.members, f.integrations, f.memberships, f.ledger, log)
	return f
}

func (f *reconcilerFixture) beginOp(pf models.Platform) uuid.UUID {
	op := f.ledger.Begin(context.Background(), pf, models.OperationWebhook, "ext-1", nil)
	return op.ID
}

func TestReconcile_CreatesMemberAndIntegration(t *testing.T) {
	f := newReconcilerFixture()
	opID := f.beginOp(models.PlatformTicketing)

	member, err := f.svc.Reconcile(context.Background(), models.PlatformTicketing, platform.Entity{
		ExternalID: "att-1",
		Email:      "Jamie@Example.COM",
		FirstName:  "Jamie",
		LastName:   "Rivera",
	}, opID)

	require.NoError(t, err)
	require.NotNil(t, member)
	assert.Equal(t, "jamie@example.com", member.Email)
	assert.True(t, member.HasCapability(models.CapActive))
	assert.True(t, member.HasCapability(models.CapEventAccess))
	assert.Len(t, f.integrations.upserts, 1)
	assert.Equal(t, models.StatusSuccess, f.ledgerStore.ops[opID].Status)
	require.NotNil(t, f.ledgerStore.ops[opID].MemberID)
	assert.Equal(t, member.ID, *f.ledgerStore.ops[opID].MemberID)
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newReconcilerFixture()
	entity := platform.Entity{ExternalID: "att-1", Email: "a@x.com", FirstName: "A"}

	_, err := f.svc.Reconcile(context.Background(), models.PlatformTicketing, entity, f.beginOp(models.PlatformTicketing))
	require.NoError(t, err)
	_, err = f.svc.Reconcile(context.Background(), models.PlatformTicketing, entity, f.beginOp(models.PlatformTicketing))
	require.NoError(t, err)

	assert.Equal(t, 1, f.members.creates)
	assert.Len(t, f.members.byEmail, 1)
	assert.Len(t, f.integrations.upserts, 1)
}

func TestReconcile_UpdateWithoutClobber(t *testing.T) {
	f := newReconcilerFixture()

	existing := &models.Member{
		ID:           uuid.New(),
		Email:        "a@x.com",
		FirstName:    "Locally Edited",
		Capabilities: models.CapActive,
	}
	f.members.byEmail["a@x.com"] = existing

	member, err := f.svc.Reconcile(context.Background(), models.PlatformTicketing, platform.Entity{
		ExternalID: "att-1",
		Email:      "a@x.com",
		FirstName:  "Platform Name",
		LastName:   "Filled In",
	}, f.beginOp(models.PlatformTicketing))

	require.NoError(t, err)
	// Non-empty local field survives; empty one is filled
	assert.Equal(t, "Locally Edited", member.FirstName)
	assert.Equal(t, "Filled In", member.LastName)
}

func TestReconcile_NoEmailFailsPermanently(t *testing.T) {
	f := newReconcilerFixture()
	opID := f.beginOp(models.PlatformChat)

	member, err := f.svc.Reconcile(context.Background(), models.PlatformChat, platform.Entity{
		ExternalID: "chat-7",
		Email:      "   ",
	}, opID)

	require.Error(t, err)
	assert.Nil(t, member)
	assert.False(t, syncerr.IsTransient(err))
	assert.Equal(t, models.StatusFailed, f.ledgerStore.ops[opID].Status)
	require.NotNil(t, f.ledgerStore.ops[opID].ErrorMessage)
	assert.Equal(t, "no email", *f.ledgerStore.ops[opID].ErrorMessage)
	assert.Empty(t, f.members.byEmail)
}

func TestReconcile_PatronageAssignsTier(t *testing.T) {
	f := newReconcilerFixture()

	member, err := f.svc.Reconcile(context.Background(), models.PlatformPatronage, platform.Entity{
		ExternalID:  "patron-1",
		Email:       "a@x.com",
		AmountCents: 1000,
	}, f.beginOp(models.PlatformPatronage))

	require.NoError(t, err)
	active, err := f.memberships.ActiveByMember(context.Background(), member.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Tier)
}

func TestReconcile_UnchangedTierIsNoOp(t *testing.T) {
	f := newReconcilerFixture()
	entity := platform.Entity{ExternalID: "patron-1", Email: "a@x.com", AmountCents: 2500}

	_, err := f.svc.Reconcile(context.Background(), models.PlatformPatronage, entity, f.beginOp(models.PlatformPatronage))
	require.NoError(t, err)
	_, err = f.svc.Reconcile(context.Background(), models.PlatformPatronage, entity, f.beginOp(models.PlatformPatronage))
	require.NoError(t, err)

	assert.Equal(t, 1, f.memberships.creates)
	assert.Equal(t, 0, f.memberships.ends)
}

func TestReconcile_TierChangeEndsAndRecreates(t *testing.T) {
	f := newReconcilerFixture()

	member, err := f.svc.Reconcile(context.Background(), models.PlatformPatronage, platform.Entity{
		ExternalID: "patron-1", Email: "a@x.com", AmountCents: 500,
	}, f.beginOp(models.PlatformPatronage))
	require.NoError(t, err)

	_, err = f.svc.Reconcile(context.Background(), models.PlatformPatronage, platform.Entity{
		ExternalID: "patron-1", Email: "a@x.com", AmountCents: 2500,
	}, f.beginOp(models.PlatformPatronage))
	require.NoError(t, err)

	assert.Equal(t, 2, f.memberships.creates)
	assert.Equal(t, 1, f.memberships.ends)
	active, err := f.memberships.ActiveByMember(context.Background(), member.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, active.Tier)
}

func TestReconcile_BelowThresholdEndsActiveTier(t *testing.T) {
	f := newReconcilerFixture()

	member, err := f.svc.Reconcile(context.Background(), models.PlatformPatronage, platform.Entity{
		ExternalID: "patron-1", Email: "a@x.com", AmountCents: 1000,
	}, f.beginOp(models.PlatformPatronage))
	require.NoError(t, err)

	_, err = f.svc.Reconcile(context.Background(), models.PlatformPatronage, platform.Entity{
		ExternalID: "patron-1", Email: "a@x.com", AmountCents: 499,
	}, f.beginOp(models.PlatformPatronage))
	require.NoError(t, err)

	assert.Equal(t, 1, f.memberships.ends)
	_, err = f.memberships.ActiveByMember(context.Background(), member.ID)
	assert.ErrorIs(t, err, repository.ErrNoActiveMembership)

	// Re-syncing at zero while no tier is active does nothing
	_, err = f.svc.Reconcile(context.Background(), models.PlatformPatronage, platform.Entity{
		ExternalID: "patron-1", Email: "a@x.com", AmountCents: 0,
	}, f.beginOp(models.PlatformPatronage))
	require.NoError(t, err)
	assert.Equal(t, 1, f.memberships.ends)
}

func TestReconcile_CapabilityWriteOnlyWhenChanged(t *testing.T) {
	f := newReconcilerFixture()
	entity := platform.Entity{ExternalID: "sub-1", Email: "a@x.com"}

	_, err := f.svc.Reconcile(context.Background(), models.PlatformMailer, entity, f.beginOp(models.PlatformMailer))
	require.NoError(t, err)
	writesAfterFirst := f.members.updates

	_, err = f.svc.Reconcile(context.Background(), models.PlatformMailer, entity, f.beginOp(models.PlatformMailer))
	require.NoError(t, err)

	assert.Equal(t, writesAfterFirst, f.members.updates)
}

func TestTierForAmount_Boundaries(t *testing.T) {
	cases := []struct {
		amountCents int
		tier        int
	}{
		{0, 0},
		{499, 0},
		{500, 1},
		{999, 1},
		{1000, 2},
		{2499, 2},
		{2500, 3},
		{100000, 3},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.tier, models.TierForAmount(tc.amountCents), "amount %d", tc.amountCents)
	}
}
