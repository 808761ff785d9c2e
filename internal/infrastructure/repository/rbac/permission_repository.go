package rbac

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"context"

	"github.com/google/uuid"

	domain "authz/internal/core/domain/rbac"
	"authz/internal/infrastructure/database"
)

func onConflictDoNothing() clause.OnConflict {
	return clause.OnConflict{DoNothing: true}
}

type permissionRepository struct {
	db *gorm.DB
}

// NewPermissionRepository constructs a GORM-backed domain.PermissionRepository.
func NewPermissionRepository(db *gorm.DB) domain.PermissionRepository {
	return &permissionRepository{db: db}
}

func (r *permissionRepository) conn(ctx context.Context) *gorm.DB {
	return database.DBFromContext(ctx, r.db)
}

func (r *permissionRepository) Create(ctx context.Context, p *domain.Permission) error {
	return r.conn(ctx).Clauses(onConflictDoNothing()).Create(p).Error
}

func (r *permissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Permission, error) {
	var p domain.Permission
	if err := r.conn(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *permissionRepository) GetByResourceAction(ctx context.Context, resource, action string) (*domain.Permission, error) {
	var p domain.Permission
	if err := r.conn(ctx).Where("resource = ? AND action = ?", resource, action).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *permissionRepository) List(ctx context.Context) ([]*domain.Permission, error) {
	var perms []*domain.Permission
	err := r.conn(ctx).Order("resource ASC, action ASC").Find(&perms).Error
	return perms, err
}

func (r *permissionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.conn(ctx).Delete(&domain.Permission{}, "id = ?", id).Error
}
