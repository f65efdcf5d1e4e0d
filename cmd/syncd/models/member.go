package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Capability bits on a member record
const (
	CapActive uint64 = 1 << iota
	CapEventAccess
	CapChatAccess
	CapMailingList
)

// Member is the local member record the reconciler maps platform
// entities onto. Email is the canonical match key, stored lowercased.
// Maps to: members table
type Member struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Capabilities uint64    `db:"capabilities" json:"capabilities"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// HasCapability reports whether the member carries the capability bit
func (m *Member) HasCapability(cap uint64) bool {
	return m.Capabilities&cap != 0
}

// GrantCapability sets a capability bit. Idempotent.
func (m *Member) GrantCapability(cap uint64) {
	m.Capabilities |= cap
}

// CanonicalEmail lowercases and trims an email for matching.
// The platforms disagree on casing; matching is done on this form only.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ExternalIntegration links a member to a platform-side identity.
// (member_id, system_name, external_id) is unique; re-reconciliation
// refreshes the snapshot and timestamp. Rows are deactivated, never
// implicitly deleted.
// Maps to: external_integrations table
type ExternalIntegration struct {
	MemberID     uuid.UUID `db:"member_id" json:"member_id"`
	SystemName   Platform  `db:"system_name" json:"system_name"`
	ExternalID   string    `db:"external_id" json:"external_id"`
	ExternalData []byte    `db:"external_data" json:"external_data,omitempty"`
	LastSyncedAt time.Time `db:"last_synced_at" json:"last_synced_at"`
	Active       bool      `db:"active" json:"active"`
}

// Membership is a paid tier assignment derived from patronage
// contributions. An ended membership keeps its row with EndedAt set.
// Maps to: memberships table
type Membership struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	MemberID  uuid.UUID  `db:"member_id" json:"member_id"`
	Tier      int        `db:"tier" json:"tier"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// TierForAmount maps a contribution in cents to a membership tier.
// Thresholds are inclusive at the lower edge; amounts below the lowest
// threshold map to tier 0 (no tier).
func TierForAmount(amountCents int) int {
	switch {
	case amountCents >= 2500:
		return 3
	case amountCents >= 1000:
		return 2
	case amountCents >= 500:
		return 1
	default:
		return 0
	}
}
