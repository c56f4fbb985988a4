package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/themeforge/server/internal/module/account"
)

// Repository defines the ledger's data access. Every mutation is a single
// guarded statement: exclusivity comes from the store, not from in-process
// locks, because ingress may be horizontally scaled.
type Repository interface {
	// CreateProcessedTransaction inserts the idempotency record.
	// Returns ErrDuplicateEffect if the effect key was already claimed.
	CreateProcessedTransaction(ctx context.Context, tx *ProcessedTransaction) error

	// GrantPurchased atomically adds amount to purchased and lifetime
	// counters, promoting free accounts to starter.
	GrantPurchased(ctx context.Context, accountID uuid.UUID, amount int) error

	// ConsumeFreeCredit decrements a free credit iff one remains.
	ConsumeFreeCredit(ctx context.Context, accountID uuid.UUID) (bool, error)

	// ConsumePurchasedCredit decrements a purchased credit iff one remains.
	ConsumePurchasedCredit(ctx context.Context, accountID uuid.UUID) (bool, error)

	// DemoteLapsed downgrades a cancel-at-period-end account whose period
	// has passed. Guarded so concurrent callers demote at most once.
	DemoteLapsed(ctx context.Context, accountID uuid.UUID, baseTier account.Tier, now time.Time) (bool, error)

	// AppendAbuseFlag adds a flag to the account unless already present.
	AppendAbuseFlag(ctx context.Context, accountID uuid.UUID, flag string) error

	// GetAccount reads the account row.
	GetAccount(ctx context.Context, accountID uuid.UUID) (*account.Account, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new billing repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateProcessedTransaction(ctx context.Context, tx *ProcessedTransaction) error {
	if err := r.db.WithContext(ctx).Create(tx).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEffect
		}
		return fmt.Errorf("create processed transaction: %w", err)
	}
	return nil
}

func (r *repository) GrantPurchased(ctx context.Context, accountID uuid.UUID, amount int) error {
	res := r.db.WithContext(ctx).
		Model(&account.Account{}).
		Where("id = ?", accountID).
		UpdateColumns(map[string]interface{}{
			"purchased_credits":       gorm.Expr("purchased_credits + ?", amount),
			"total_purchased_credits": gorm.Expr("total_purchased_credits + ?", amount),
			"tier":                    gorm.Expr("CASE WHEN tier = 'free' THEN 'starter' ELSE tier END"),
			"updated_at":              time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("grant purchased credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}

func (r *repository) ConsumeFreeCredit(ctx context.Context, accountID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&account.Account{}).
		Where("id = ? AND free_credits_remaining > 0", accountID).
		UpdateColumns(map[string]interface{}{
			"free_credits_remaining": gorm.Expr("free_credits_remaining - 1"),
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("consume free credit: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ConsumePurchasedCredit(ctx context.Context, accountID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&account.Account{}).
		Where("id = ? AND purchased_credits > 0", accountID).
		UpdateColumns(map[string]interface{}{
			"purchased_credits": gorm.Expr("purchased_credits - 1"),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("consume purchased credit: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DemoteLapsed(ctx context.Context, accountID uuid.UUID, baseTier account.Tier, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&account.Account{}).
		Where(
			"id = ? AND cancel_at_period_end = true AND current_period_end < ? AND subscription_status IN ?",
			accountID, now,
			[]account.SubscriptionStatus{account.SubscriptionStatusActive, account.SubscriptionStatusCancelled},
		).
		UpdateColumns(map[string]interface{}{
			"tier":                string(baseTier),
			"subscription_status": string(account.SubscriptionStatusExpired),
			"updated_at":          now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("demote lapsed account: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AppendAbuseFlag(ctx context.Context, accountID uuid.UUID, flag string) error {
	res := r.db.WithContext(ctx).
		Model(&account.Account{}).
		Where("id = ? AND (abuse_flags IS NULL OR NOT (? = ANY(abuse_flags)))", accountID, flag).
		UpdateColumn("abuse_flags", gorm.Expr("array_append(COALESCE(abuse_flags, '{}'), ?)", flag))
	if res.Error != nil {
		return fmt.Errorf("append abuse flag: %w", res.Error)
	}
	return nil
}

func (r *repository) GetAccount(ctx context.Context, accountID uuid.UUID) (*account.Account, error) {
	var acct account.Account
	err := r.db.WithContext(ctx).First(&acct, "id = ?", accountID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, account.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
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
