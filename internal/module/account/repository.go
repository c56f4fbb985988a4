package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Repository defines the interface for account data access.
type Repository interface {
	Create(ctx context.Context, acct *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*Account, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new account repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, acct *Account) error {
	if err := r.db.WithContext(ctx).Create(acct).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	var acct Account
	err := r.db.WithContext(ctx).First(&acct, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acct, nil
}

func (r *repository) GetByEmail(ctx context.Context, email string) (*Account, error) {
	var acct Account
	err := r.db.WithContext(ctx).First(&acct, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return &acct, nil
}

func (r *repository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*Account, error) {
	var acct Account
	err := r.db.WithContext(ctx).First(&acct, "subscription_id = ?", subscriptionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account by subscription id: %w", err)
	}
	return &acct, nil
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
