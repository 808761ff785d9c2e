package organization

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MembershipStatus mirrors the teacher's organization member lifecycle.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipPending MembershipStatus = "pending"
	MembershipRevoked MembershipStatus = "revoked"
)

// Membership links a user to an organization (I-M1: unique (user_id,
// organization_id) pair; I-M2: a membership is the scope at which direct
// role grants attach — see the rbac package's UserRole).
type Membership struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_member_org_user" json:"organization_id"`
	UserID         uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_member_org_user" json:"user_id"`
	Status         MembershipStatus `gorm:"size:32;not null;default:active" json:"status"`
	InvitedBy      *uuid.UUID       `gorm:"type:uuid" json:"invited_by,omitempty"`
	JoinedAt       time.Time        `json:"joined_at"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (Membership) TableName() string { return "organization_memberships" }

// New constructs an active membership.
func New(orgID, userID uuid.UUID, invitedBy *uuid.UUID) *Membership {
	now := time.Now()
	return &Membership{
		ID:             uuid.New(),
		OrganizationID: orgID,
		UserID:         userID,
		Status:         MembershipActive,
		InvitedBy:      invitedBy,
		JoinedAt:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// MembershipRepository is the persistence contract for organization
// memberships.
type MembershipRepository interface {
	Create(ctx context.Context, m *Membership) error
	GetByOrgAndUser(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Membership, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*Membership, error)
	Update(ctx context.Context, m *Membership) error
	Delete(ctx context.Context, id uuid.UUID) error
}
