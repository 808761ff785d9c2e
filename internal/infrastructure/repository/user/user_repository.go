// Package user implements the Persistence Layer's user table with GORM.
package user

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/google/uuid"

	domain "authz/internal/core/domain/user"
	"authz/internal/infrastructure/database"
	dberrors "authz/pkg/errors"
)

var (
	ErrNotFound      = errors.New("user: not found")
	ErrAlreadyExists = errors.New("user: external_subject or email already registered")
)

type userRepository struct {
	db *gorm.DB
}

// NewRepository constructs a GORM-backed domain.Repository.
func NewRepository(db *gorm.DB) domain.Repository {
	return &userRepository{db: db}
}

func (r *userRepository) conn(ctx context.Context) *gorm.DB {
	return database.DBFromContext(ctx, r.db)
}

// Create inserts a user, translating the table's external_subject and
// email unique indexes into ErrAlreadyExists — the concurrent-login race
// on resolveOrCreateUser's "not found, so create" branch surfaces this
// way rather than as a raw driver error.
func (r *userRepository) Create(ctx context.Context, u *domain.User) error {
	if err := r.conn(ctx).Create(u).Error; err != nil {
		if dberrors.IsDatabaseUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	if err := r.conn(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetByExternalSubject(ctx context.Context, subject string) (*domain.User, error) {
	var u domain.User
	if err := r.conn(ctx).Where("external_subject = ?", subject).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) Update(ctx context.Context, u *domain.User) error {
	return r.conn(ctx).Save(u).Error
}
