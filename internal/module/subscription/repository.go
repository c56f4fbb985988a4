package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/themeforge/server/internal/module/account"
)

// Repository defines subscription state data access.
type Repository interface {
	GetAccountByID(ctx context.Context, id uuid.UUID) (*account.Account, error)
	GetAccountBySubscriptionID(ctx context.Context, subscriptionID string) (*account.Account, error)

	// UpdateSubscriptionState persists the subscription fields of acct,
	// compare-and-set against the previously observed status and binding.
	// Returns false when a concurrent writer got there first.
	UpdateSubscriptionState(ctx context.Context, acct *account.Account, prevStatus account.SubscriptionStatus, prevSubscriptionID *string) (bool, error)

	// CreateEvent appends one audit row.
	CreateEvent(ctx context.Context, ev *SubscriptionEvent) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new subscription repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetAccountByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	var acct account.Account
	err := r.db.WithContext(ctx).First(&acct, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, account.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &acct, nil
}

func (r *repository) GetAccountBySubscriptionID(ctx context.Context, subscriptionID string) (*account.Account, error) {
	var acct account.Account
	err := r.db.WithContext(ctx).First(&acct, "subscription_id = ?", subscriptionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, account.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account by subscription id: %w", err)
	}
	return &acct, nil
}

func (r *repository) UpdateSubscriptionState(ctx context.Context, acct *account.Account, prevStatus account.SubscriptionStatus, prevSubscriptionID *string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&account.Account{}).
		Where(
			"id = ? AND subscription_status = ? AND subscription_id IS NOT DISTINCT FROM ?",
			acct.ID, prevStatus, prevSubscriptionID,
		).
		UpdateColumns(map[string]interface{}{
			"subscription_id":      acct.SubscriptionID,
			"subscription_status":  string(acct.SubscriptionStatus),
			"tier":                 string(acct.Tier),
			"current_period_start": acct.CurrentPeriodStart,
			"current_period_end":   acct.CurrentPeriodEnd,
			"cancel_at_period_end": acct.CancelAtPeriodEnd,
			"cancelled_at":         acct.CancelledAt,
			"updated_at":           time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("update subscription state: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateEvent(ctx context.Context, ev *SubscriptionEvent) error {
	if err := r.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("create subscription event: %w", err)
	}
	return nil
}
