// Package rbac implements the Persistence Layer's role, permission, and
// grant tables with GORM, grounded on the teacher's
// infrastructure/repository/auth/role_repository.go and
// role_permission_repository.go.
package rbac

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/google/uuid"

	domain "authz/internal/core/domain/rbac"
	"authz/internal/infrastructure/database"
)

var ErrNotFound = errors.New("rbac: not found")

type roleRepository struct {
	db *gorm.DB
}

// NewRoleRepository constructs a GORM-backed domain.RoleRepository.
func NewRoleRepository(db *gorm.DB) domain.RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) conn(ctx context.Context) *gorm.DB {
	return database.DBFromContext(ctx, r.db)
}

func (r *roleRepository) Create(ctx context.Context, role *domain.Role) error {
	return r.conn(ctx).Create(role).Error
}

func (r *roleRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Role, error) {
	var role domain.Role
	err := r.conn(ctx).Where("id = ?", id).First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) GetByName(ctx context.Context, orgID *uuid.UUID, name string) (*domain.Role, error) {
	query := r.conn(ctx).Where("name = ?", name)
	if orgID != nil {
		query = query.Where("organization_id = ?", *orgID)
	} else {
		query = query.Where("organization_id IS NULL")
	}
	var role domain.Role
	if err := query.First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) ListSystemRoles(ctx context.Context) ([]*domain.Role, error) {
	var roles []*domain.Role
	err := r.conn(ctx).Where("organization_id IS NULL").Order("priority DESC").Find(&roles).Error
	return roles, err
}

func (r *roleRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*domain.Role, error) {
	var roles []*domain.Role
	err := r.conn(ctx).Where("organization_id = ?", orgID).Order("priority DESC").Find(&roles).Error
	return roles, err
}

func (r *roleRepository) Update(ctx context.Context, role *domain.Role) error {
	return r.conn(ctx).Save(role).Error
}

func (r *roleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.conn(ctx).Delete(&domain.Role{}, "id = ?", id).Error
}

func (r *roleRepository) AssignPermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	rows := make([]domain.RolePermission, 0, len(permissionIDs))
	for _, pid := range permissionIDs {
		rows = append(rows, domain.RolePermission{RoleID: roleID, PermissionID: pid})
	}
	if len(rows) == 0 {
		return nil
	}
	return r.conn(ctx).Clauses(onConflictDoNothing()).Create(&rows).Error
}

func (r *roleRepository) RevokeAllPermissions(ctx context.Context, roleID uuid.UUID) error {
	return r.conn(ctx).Delete(&domain.RolePermission{}, "role_id = ?", roleID).Error
}

func (r *roleRepository) GetPermissions(ctx context.Context, roleID uuid.UUID) ([]*domain.Permission, error) {
	var perms []*domain.Permission
	err := r.conn(ctx).
		Table("permissions").
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Where("role_permissions.role_id = ?", roleID).
		Find(&perms).Error
	return perms, err
}
