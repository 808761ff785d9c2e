package database

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// injectTx stores a transaction-bound *gorm.DB on the context so that
// repositories created outside the transaction closure can still
// participate in it by asking DBFromContext for the live connection.
func injectTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// DBFromContext returns the transaction-bound *gorm.DB if one was injected
// by Transactor.WithinTransaction, otherwise it falls back to db.
func DBFromContext(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// Transactor runs a function within a single database transaction,
// committing on nil error and rolling back otherwise (GORM also rolls
// back automatically on panic). Repositories pull the active transaction
// out of the context via DBFromContext rather than being re-constructed
// per call, which keeps the Permission Engine and Auth Coordinator free
// of any repository-factory plumbing.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

// NewTransactor creates a GORM-backed Transactor.
func NewTransactor(db *gorm.DB) Transactor {
	return &gormTransactor{db: db}
}

func (t *gormTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(injectTx(ctx, tx))
	})
}
