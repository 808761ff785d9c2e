// Package organization implements the Organization Resolver (component
// C3): creation, lookup, and the move/repath orchestration that keeps
// every descendant's materialized path consistent with the hierarchy's
// actual shape.
package organization

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	domain "authz/internal/core/domain/organization"
	"authz/internal/infrastructure/database"
	"authz/pkg/errors"
	"authz/pkg/utils"
)

// Resolver implements organization creation, move, and traversal.
type Resolver struct {
	repo       domain.Repository
	transactor database.Transactor
	logger     *slog.Logger
}

// NewResolver constructs a Resolver over repo. transactor wraps Move's
// repath-then-update pair so a crash between the two never leaves a
// subtree's materialized paths pointing at a parent it no longer has.
func NewResolver(repo domain.Repository, transactor database.Transactor, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, transactor: transactor, logger: logger}
}

// Create inserts a new organization as a child of parentID, deriving its
// slug and materialized path from the parent rather than accepting
// either from the caller.
func (r *Resolver) Create(ctx context.Context, parentID uuid.UUID, name string) (*domain.Organization, error) {
	parent, err := r.repo.GetByID(ctx, parentID)
	if err != nil {
		return nil, errors.NewPersistenceError("organization.get_parent", err)
	}

	slug := utils.Slugify(name)
	exists, err := r.repo.ExistsSlugUnderParent(ctx, parent.ID, slug)
	if err != nil {
		return nil, errors.NewPersistenceError("organization.check_slug", err)
	}
	if exists {
		slug = fmt.Sprintf("%s-%s", slug, uuid.New().String()[:8])
	}

	org, err := domain.New(name, slug, parent)
	if err != nil {
		return nil, errors.NewValidationError("organization.new", err.Error())
	}

	if err := r.repo.Create(ctx, org); err != nil {
		return nil, errors.NewPersistenceError("organization.create", err)
	}

	r.logger.Info("organization created", "id", org.ID, "parent_id", parent.ID, "path", org.Path)
	return org, nil
}

// GetByID returns the organization with the given ID.
func (r *Resolver) GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	org, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.NewPersistenceError("organization.get_by_id", err)
	}
	return org, nil
}

// Ancestors returns org's ancestor chain, root first, for permission
// resolution's path-prefix walk.
func (r *Resolver) Ancestors(ctx context.Context, org *domain.Organization) ([]*domain.Organization, error) {
	ancestors, err := r.repo.ListAncestors(ctx, org)
	if err != nil {
		return nil, errors.NewPersistenceError("organization.list_ancestors", err)
	}
	return ancestors, nil
}

// Children returns the direct children of parentID.
func (r *Resolver) Children(ctx context.Context, parentID uuid.UUID) ([]*domain.Organization, error) {
	children, err := r.repo.ListChildren(ctx, parentID)
	if err != nil {
		return nil, errors.NewPersistenceError("organization.list_children", err)
	}
	return children, nil
}

// Move relocates org to be a child of newParentID, rewriting the Path of
// org and every descendant in one pass. Rejects moving the root and
// rejects moves that would make org an ancestor of its own new parent
// (I-O3's acyclicity guarantee extended to writes).
func (r *Resolver) Move(ctx context.Context, orgID, newParentID uuid.UUID) (*domain.Organization, error) {
	if orgID == domain.RootOrganizationID {
		return nil, domain.ErrRootImmutable
	}

	org, err := r.repo.GetByID(ctx, orgID)
	if err != nil {
		return nil, errors.NewPersistenceError("organization.get_org", err)
	}
	newParent, err := r.repo.GetByID(ctx, newParentID)
	if err != nil {
		return nil, errors.NewPersistenceError("organization.get_new_parent", err)
	}

	if org.IsAncestorOf(newParent) {
		return nil, domain.ErrCircularMove
	}

	oldPath := org.Path
	newPath := newParent.Path + "." + org.Slug

	err = r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.repo.RepathSubtree(ctx, oldPath, newPath); err != nil {
			return errors.NewPersistenceError("organization.repath_subtree", err)
		}
		org.ParentID = &newParent.ID
		org.Path = newPath
		if err := r.repo.Update(ctx, org); err != nil {
			return errors.NewPersistenceError("organization.update_after_move", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("organization moved", "id", org.ID, "old_path", oldPath, "new_path", newPath)
	return org, nil
}

// Delete removes org, rejecting the root and any organization with
// remaining children.
func (r *Resolver) Delete(ctx context.Context, orgID uuid.UUID) error {
	if orgID == domain.RootOrganizationID {
		return domain.ErrRootImmutable
	}
	children, err := r.repo.ListChildren(ctx, orgID)
	if err != nil {
		return errors.NewPersistenceError("organization.list_children_for_delete", err)
	}
	if len(children) > 0 {
		return errors.NewValidationError("organization.delete", "organization has child organizations and cannot be deleted")
	}
	if err := r.repo.Delete(ctx, orgID); err != nil {
		return errors.NewPersistenceError("organization.delete", err)
	}
	return nil
}
