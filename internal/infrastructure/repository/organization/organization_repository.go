// Package organization implements the Persistence Layer's organization
// tables with GORM, grounded on the teacher's
// infrastructure/repository/organization/organization_repository.go
// (WithContext/Where/First shape), generalized to the materialized-path
// tree and its single-statement subtree repath.
package organization

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/google/uuid"

	domain "authz/internal/core/domain/organization"
	"authz/internal/infrastructure/database"
)

type organizationRepository struct {
	db *gorm.DB
}

// NewRepository constructs a GORM-backed domain.Repository.
func NewRepository(db *gorm.DB) domain.Repository {
	return &organizationRepository{db: db}
}

func (r *organizationRepository) conn(ctx context.Context) *gorm.DB {
	return database.DBFromContext(ctx, r.db)
}

func (r *organizationRepository) Create(ctx context.Context, org *domain.Organization) error {
	return r.conn(ctx).WithContext(ctx).Create(org).Error
}

func (r *organizationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.conn(ctx).WithContext(ctx).Where("id = ? AND deleted_at IS NULL", id).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("organization %s: %w", id, gorm.ErrRecordNotFound)
		}
		return nil, err
	}
	return &org, nil
}

func (r *organizationRepository) GetByPath(ctx context.Context, path string) (*domain.Organization, error) {
	var org domain.Organization
	err := r.conn(ctx).WithContext(ctx).Where("path = ? AND deleted_at IS NULL", path).First(&org).Error
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *organizationRepository) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*domain.Organization, error) {
	var orgs []*domain.Organization
	err := r.conn(ctx).WithContext(ctx).
		Where("parent_id = ? AND deleted_at IS NULL", parentID).
		Order("name ASC").
		Find(&orgs).Error
	return orgs, err
}

// ListDescendants returns every organization whose path starts with
// path+"." (the subtree below it), using the materialized path as a
// prefix — no recursive CTE needed.
func (r *organizationRepository) ListDescendants(ctx context.Context, path string) ([]*domain.Organization, error) {
	var orgs []*domain.Organization
	err := r.conn(ctx).WithContext(ctx).
		Where("(path = ? OR path LIKE ?) AND deleted_at IS NULL", path, path+".%").
		Order("path ASC").
		Find(&orgs).Error
	return orgs, err
}

// ListAncestors walks org's dot-delimited path and loads every prefix
// organization in one query, root first.
func (r *organizationRepository) ListAncestors(ctx context.Context, org *domain.Organization) ([]*domain.Organization, error) {
	prefixes := pathPrefixes(org.Path)
	if len(prefixes) == 0 {
		return nil, nil
	}
	var orgs []*domain.Organization
	err := r.conn(ctx).WithContext(ctx).
		Where("path IN ? AND deleted_at IS NULL", prefixes).
		Order("path ASC").
		Find(&orgs).Error
	return orgs, err
}

// pathPrefixes returns every proper prefix of path split on ".",
// excluding path itself — the ancestor chain, root first.
func pathPrefixes(path string) []string {
	var prefixes []string
	runes := []rune(path)
	for i, r := range runes {
		if r == '.' {
			prefixes = append(prefixes, string(runes[:i]))
		}
	}
	return prefixes
}

func (r *organizationRepository) Update(ctx context.Context, org *domain.Organization) error {
	return r.conn(ctx).WithContext(ctx).Save(org).Error
}

// RepathSubtree rewrites the Path of oldPath and every descendant to
// start from newPath, in a single UPDATE using string replacement on the
// prefix — the move operation's only correctness-critical statement.
func (r *organizationRepository) RepathSubtree(ctx context.Context, oldPath, newPath string) error {
	return r.conn(ctx).WithContext(ctx).Exec(
		`UPDATE organizations
		 SET path = ? || substring(path from ?)
		 WHERE path = ? OR path LIKE ?`,
		newPath, len(oldPath)+1, oldPath, oldPath+".%",
	).Error
}

func (r *organizationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.conn(ctx).WithContext(ctx).Exec(
		`UPDATE organizations SET deleted_at = now() WHERE id = ?`, id,
	).Error
}

func (r *organizationRepository) ExistsSlugUnderParent(ctx context.Context, parentID uuid.UUID, slug string) (bool, error) {
	var count int64
	err := r.conn(ctx).WithContext(ctx).Model(&domain.Organization{}).
		Where("parent_id = ? AND slug = ? AND deleted_at IS NULL", parentID, slug).
		Count(&count).Error
	return count > 0, err
}
