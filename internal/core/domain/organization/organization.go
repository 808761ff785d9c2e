// Package organization models the hierarchical multi-tenant organization
// tree: every organization except the root Admin organization has exactly
// one parent, and a materialized dot-delimited path that lets ancestor and
// descendant queries run as prefix matches instead of recursive graph
// walks.
package organization

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RootOrganizationID is the fixed identifier of the mandatory root Admin
// organization. Every tenant organization is, directly or transitively, a
// descendant of this node.
var RootOrganizationID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// RootOrganizationPath is the materialized path segment of the root.
const RootOrganizationPath = "admin"

// Status is the lifecycle state of an organization.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusArchived  Status = "archived"
)

// Organization is a node in the tenant hierarchy.
//
// Invariants (I-O1..I-O4 in the governing specification):
//   - I-O1: the root organization's ParentID is nil and its Path is exactly
//     RootOrganizationPath.
//   - I-O2: every non-root organization has a ParentID, and Path equals
//     parent.Path + "." + Slug.
//   - I-O3: Path never contains a cycle — enforced structurally by only
//     ever deriving Path from the current parent's Path at write time,
//     never by user input.
//   - I-O4: ID is globally unique and immutable once assigned.
type Organization struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ParentID  *uuid.UUID `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	Name      string     `gorm:"size:255;not null" json:"name"`
	Slug      string     `gorm:"size:255;not null" json:"slug"`
	Path      string     `gorm:"size:2048;not null;uniqueIndex" json:"path"`
	Status    Status     `gorm:"size:32;not null;default:active" json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `gorm:"index" json:"deleted_at,omitempty"`
}

func (Organization) TableName() string { return "organizations" }

// NewRoot constructs the single mandatory root organization. Callers only
// ever need this once, during initial schema seeding.
func NewRoot() *Organization {
	now := time.Now()
	return &Organization{
		ID:        RootOrganizationID,
		ParentID:  nil,
		Name:      "Admin",
		Slug:      RootOrganizationPath,
		Path:      RootOrganizationPath,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// New constructs a child organization under parent. The path is derived,
// never accepted from the caller, so I-O2/I-O3 hold by construction.
func New(name, slug string, parent *Organization) (*Organization, error) {
	if parent == nil {
		return nil, errors.New("organization: parent is required for non-root organizations")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("organization: name is required")
	}
	if strings.TrimSpace(slug) == "" {
		return nil, errors.New("organization: slug is required")
	}
	now := time.Now()
	id := uuid.New()
	return &Organization{
		ID:        id,
		ParentID:  &parent.ID,
		Name:      name,
		Slug:      slug,
		Path:      parent.Path + "." + slug,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsRoot reports whether this is the mandatory Admin organization.
func (o *Organization) IsRoot() bool {
	return o.ID == RootOrganizationID
}

// IsAncestorOf reports whether o is an ancestor of (or equal to) other,
// determined purely from the materialized path — no recursive lookups.
func (o *Organization) IsAncestorOf(other *Organization) bool {
	if o.Path == other.Path {
		return true
	}
	return strings.HasPrefix(other.Path, o.Path+".")
}

// RepathForNewParent computes the Path a subtree member would have after
// a move, given the organization's current path, its old root path
// (the org being moved), and the new parent's path. Used by the resolver
// when rewriting every descendant's Path in one pass during a move.
func RepathForNewParent(memberPath, movedOrgOldPath, newParentPath, newSlug string) string {
	suffix := strings.TrimPrefix(memberPath, movedOrgOldPath)
	return newParentPath + "." + newSlug + suffix
}

// Depth returns the number of ancestors (root has depth 0).
func (o *Organization) Depth() int {
	if o.Path == RootOrganizationPath {
		return 0
	}
	return strings.Count(o.Path, ".")
}

// ErrCircularMove is returned when a move would make an organization its
// own descendant.
var ErrCircularMove = errors.New("organization: cannot move an organization into its own subtree")

// ErrRootImmutable is returned for any attempt to move, rename the slug
// of, or delete the root organization.
var ErrRootImmutable = errors.New("organization: the root organization cannot be moved or deleted")

// Repository is the persistence contract for organizations (component C1
// in the governing specification's Persistence Layer).
type Repository interface {
	Create(ctx context.Context, org *Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	GetByPath(ctx context.Context, path string) (*Organization, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]*Organization, error)
	ListDescendants(ctx context.Context, path string) ([]*Organization, error)
	ListAncestors(ctx context.Context, org *Organization) ([]*Organization, error)
	Update(ctx context.Context, org *Organization) error
	// RepathSubtree rewrites the Path of every descendant of oldPath
	// (inclusive) to start from newPath instead, in a single statement,
	// as part of a move operation.
	RepathSubtree(ctx context.Context, oldPath, newPath string) error
	Delete(ctx context.Context, id uuid.UUID) error
	ExistsSlugUnderParent(ctx context.Context, parentID uuid.UUID, slug string) (bool, error)
}
