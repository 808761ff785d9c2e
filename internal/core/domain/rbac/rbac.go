// Package rbac models roles, permissions, and the grants that bind a user
// to a role at a particular organization scope. It is deliberately free of
// any resolution logic — that algorithm (direct + inherited collection,
// tie-breaking, bulk checks) lives in internal/core/services/rbac, which
// depends on these types and on their repositories.
package rbac

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a named, priority-ordered bundle of permissions. A role with a
// nil OrganizationID is a system role, visible at every scope; otherwise
// it is private to the organization that owns it (I-R1).
//
// I-R2: Inheritable roles propagate their grant down the organization
// subtree rooted at the grant's organization; non-inheritable roles only
// apply at the exact organization they were granted on.
type Role struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID *uuid.UUID `gorm:"type:uuid;index" json:"organization_id,omitempty"`
	Name           string     `gorm:"size:255;not null" json:"name"`
	Priority       int        `gorm:"not null;default:0" json:"priority"`
	Inheritable    bool       `gorm:"not null;default:true" json:"inheritable"`
	IsSystemRole   bool       `gorm:"not null;default:false" json:"is_system_role"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Role) TableName() string { return "roles" }

// IsSystemScoped reports whether the role applies across every
// organization rather than being private to one.
func (r *Role) IsSystemScoped() bool { return r.OrganizationID == nil }

// NewRole constructs a role. System roles (orgID == nil) default to
// IsSystemRole true and cannot later be deleted by organization admins.
func NewRole(name string, priority int, inheritable bool, orgID *uuid.UUID) *Role {
	now := time.Now()
	return &Role{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           name,
		Priority:       priority,
		Inheritable:    inheritable,
		IsSystemRole:   orgID == nil,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Permission is a (resource, action) pair, optionally wildcarded in either
// position (I-P1). "*" matches any resource or any action.
type Permission struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Resource  string    `gorm:"size:255;not null" json:"resource"`
	Action    string    `gorm:"size:255;not null" json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

func (Permission) TableName() string { return "permissions" }

// String renders the permission in canonical "resource:action" form.
func (p *Permission) String() string {
	return p.Resource + ":" + p.Action
}

// ParsePermission parses a "resource:action" string.
func ParsePermission(s string) (resource, action string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("rbac: permission must be in \"resource:action\" form")
	}
	return parts[0], parts[1], nil
}

// NewPermission constructs a permission from a resource/action pair.
func NewPermission(resource, action string) *Permission {
	return &Permission{ID: uuid.New(), Resource: resource, Action: action, CreatedAt: time.Now()}
}

// Matches reports whether p (which may contain wildcards) grants access
// to the concrete resource/action pair.
func (p *Permission) Matches(resource, action string) bool {
	resourceOK := p.Resource == "*" || p.Resource == resource
	actionOK := p.Action == "*" || p.Action == action
	return resourceOK && actionOK
}

// RolePermission binds a permission to a role, optionally scoped further
// by a conditions blob (e.g. attribute constraints) stored as JSON.
type RolePermission struct {
	RoleID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"role_id"`
	PermissionID uuid.UUID `gorm:"type:uuid;primaryKey" json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

func (RolePermission) TableName() string { return "role_permissions" }

// UserRole is a direct grant of a role to a user at a specific
// organization scope (I-UR1: (user_id, role_id, organization_id) unique;
// I-UR2: GrantedAt breaks resolution ties between equal-priority roles;
// I-UR3: ExpiresAt, if set, makes the grant time-bounded; I-UR4: a grant's
// organization must exist and the user must hold an active membership
// there or at an ancestor of it).
type UserRole struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_user_role_scope" json:"user_id"`
	RoleID         uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_user_role_scope" json:"role_id"`
	OrganizationID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_user_role_scope" json:"organization_id"`
	GrantedBy      *uuid.UUID `gorm:"type:uuid" json:"granted_by,omitempty"`
	GrantedAt      time.Time  `json:"granted_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func (UserRole) TableName() string { return "user_roles" }

// IsExpired reports whether the grant has lapsed as of now.
func (ur *UserRole) IsExpired(now time.Time) bool {
	return ur.ExpiresAt != nil && now.After(*ur.ExpiresAt)
}

// NewUserRole constructs a direct role grant at the given organization
// scope, optionally expiring.
func NewUserRole(userID, roleID, orgID uuid.UUID, grantedBy *uuid.UUID, expiresAt *time.Time) *UserRole {
	return &UserRole{
		ID:             uuid.New(),
		UserID:         userID,
		RoleID:         roleID,
		OrganizationID: orgID,
		GrantedBy:      grantedBy,
		GrantedAt:      time.Now(),
		ExpiresAt:      expiresAt,
	}
}

// RoleRepository is the persistence contract for roles and their
// permission bundles.
type RoleRepository interface {
	Create(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, id uuid.UUID) (*Role, error)
	GetByName(ctx context.Context, orgID *uuid.UUID, name string) (*Role, error)
	ListSystemRoles(ctx context.Context) ([]*Role, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id uuid.UUID) error
	AssignPermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error
	RevokeAllPermissions(ctx context.Context, roleID uuid.UUID) error
	GetPermissions(ctx context.Context, roleID uuid.UUID) ([]*Permission, error)
}

// PermissionRepository is the persistence contract for the permission
// catalog.
type PermissionRepository interface {
	Create(ctx context.Context, p *Permission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Permission, error)
	GetByResourceAction(ctx context.Context, resource, action string) (*Permission, error)
	List(ctx context.Context) ([]*Permission, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// UserRoleRepository is the persistence contract for direct role grants.
// ListEffectiveForUser returns every still-valid grant whose organization
// is org or an ancestor of org — the raw input the Permission Engine
// collects inherited roles from (generalized teacher idiom: see
// role_repository.go's GetByOrganizationID).
type UserRoleRepository interface {
	Create(ctx context.Context, ur *UserRole) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListForUserAtOrgPaths(ctx context.Context, userID uuid.UUID, orgPaths []string) ([]*UserRole, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*UserRole, error)
}
