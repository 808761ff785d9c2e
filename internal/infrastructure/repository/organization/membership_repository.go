package organization

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/google/uuid"

	domain "authz/internal/core/domain/organization"
	"authz/internal/infrastructure/database"
)

var ErrMembershipNotFound = errors.New("organization: membership not found")

type membershipRepository struct {
	db *gorm.DB
}

// NewMembershipRepository constructs a GORM-backed domain.MembershipRepository.
func NewMembershipRepository(db *gorm.DB) domain.MembershipRepository {
	return &membershipRepository{db: db}
}

func (r *membershipRepository) conn(ctx context.Context) *gorm.DB {
	return database.DBFromContext(ctx, r.db)
}

func (r *membershipRepository) Create(ctx context.Context, m *domain.Membership) error {
	return r.conn(ctx).Create(m).Error
}

func (r *membershipRepository) GetByOrgAndUser(ctx context.Context, orgID, userID uuid.UUID) (*domain.Membership, error) {
	var m domain.Membership
	err := r.conn(ctx).Where("organization_id = ? AND user_id = ?", orgID, userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *membershipRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Membership, error) {
	var memberships []*domain.Membership
	err := r.conn(ctx).Where("user_id = ?", userID).Find(&memberships).Error
	return memberships, err
}

func (r *membershipRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*domain.Membership, error) {
	var memberships []*domain.Membership
	err := r.conn(ctx).Where("organization_id = ?", orgID).Find(&memberships).Error
	return memberships, err
}

func (r *membershipRepository) Update(ctx context.Context, m *domain.Membership) error {
	return r.conn(ctx).Save(m).Error
}

func (r *membershipRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.conn(ctx).Delete(&domain.Membership{}, "id = ?", id).Error
}
