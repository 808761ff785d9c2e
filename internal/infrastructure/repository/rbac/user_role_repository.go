package rbac

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/google/uuid"

	domain "authz/internal/core/domain/rbac"
	"authz/internal/infrastructure/database"
	dberrors "authz/pkg/errors"
)

// ErrDuplicateGrant is returned when a (user_id, role_id, organization_id)
// grant already exists (I-UR1), and ErrDanglingReference when the grant's
// user, role, or organization foreign key doesn't resolve.
var (
	ErrDuplicateGrant    = errors.New("rbac: user already holds this role at this organization")
	ErrDanglingReference = errors.New("rbac: user, role, or organization referenced by the grant does not exist")
)

type userRoleRepository struct {
	db *gorm.DB
}

// NewUserRoleRepository constructs a GORM-backed domain.UserRoleRepository.
func NewUserRoleRepository(db *gorm.DB) domain.UserRoleRepository {
	return &userRoleRepository{db: db}
}

func (r *userRoleRepository) conn(ctx context.Context) *gorm.DB {
	return database.DBFromContext(ctx, r.db)
}

func (r *userRoleRepository) Create(ctx context.Context, ur *domain.UserRole) error {
	if err := r.conn(ctx).Create(ur).Error; err != nil {
		if dberrors.IsDatabaseUniqueViolation(err) {
			return ErrDuplicateGrant
		}
		if dberrors.IsDatabaseForeignKeyViolation(err) {
			return ErrDanglingReference
		}
		return err
	}
	return nil
}

func (r *userRoleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.conn(ctx).Delete(&domain.UserRole{}, "id = ?", id).Error
}

// ListForUserAtOrgPaths is the Permission Engine's single collection
// point for every still-recorded grant at orgPaths (the organization
// plus its ancestor chain); the engine itself filters expired and
// non-inheritable-non-direct rows rather than pushing that logic into
// SQL, so this query stays a plain IN-list lookup.
func (r *userRoleRepository) ListForUserAtOrgPaths(ctx context.Context, userID uuid.UUID, orgPaths []string) ([]*domain.UserRole, error) {
	if len(orgPaths) == 0 {
		return nil, nil
	}
	var grants []*domain.UserRole
	err := r.conn(ctx).
		Table("user_roles").
		Select("user_roles.*").
		Joins("JOIN organizations ON organizations.id = user_roles.organization_id").
		Where("user_roles.user_id = ? AND organizations.path IN ?", userID, orgPaths).
		Find(&grants).Error
	return grants, err
}

func (r *userRoleRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.UserRole, error) {
	var grants []*domain.UserRole
	err := r.conn(ctx).Where("user_id = ?", userID).Find(&grants).Error
	return grants, err
}
