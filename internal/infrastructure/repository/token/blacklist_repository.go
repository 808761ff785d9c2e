// Package token implements the token blacklist table with GORM,
// grounded on the teacher's BlacklistedToken GORM model and its
// individual/user-timestamp entry split.
package token

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/google/uuid"

	domain "authz/internal/core/domain/token"
	"authz/internal/infrastructure/database"
)

var ErrNotFound = errors.New("token: blacklist entry not found")

type blacklistRepository struct {
	db *gorm.DB
}

// NewRepository constructs a GORM-backed domain.Repository.
func NewRepository(db *gorm.DB) domain.Repository {
	return &blacklistRepository{db: db}
}

func (r *blacklistRepository) conn(ctx context.Context) *gorm.DB {
	return database.DBFromContext(ctx, r.db)
}

func (r *blacklistRepository) Put(ctx context.Context, entry *domain.BlacklistEntry) error {
	return r.conn(ctx).Save(entry).Error
}

func (r *blacklistRepository) GetByJTI(ctx context.Context, jti string) (*domain.BlacklistEntry, error) {
	var entry domain.BlacklistEntry
	err := r.conn(ctx).Where("id = ? AND type = ? AND expires_at > ?", jti, domain.EntryIndividual, time.Now()).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (r *blacklistRepository) GetEmergencyEntry(ctx context.Context, userID uuid.UUID) (*domain.BlacklistEntry, error) {
	var entry domain.BlacklistEntry
	err := r.conn(ctx).
		Where("user_id = ? AND type = ? AND expires_at > ?", userID, domain.EntryUserTimestamp, time.Now()).
		Order("issued_before DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

func (r *blacklistRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result := r.conn(ctx).Where("expires_at <= ?", time.Now()).Delete(&domain.BlacklistEntry{})
	return result.RowsAffected, result.Error
}
