package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines usage aggregation data access.
type Repository interface {
	// Upsert folds one generation into the account's record for the period,
	// creating the row on first use. The increment runs in the database so
	// concurrent recorders never lose counts.
	Upsert(ctx context.Context, accountID uuid.UUID, periodStart, periodEnd time.Time, inputTokens, outputTokens int64, at time.Time) error

	GetByAccountPeriod(ctx context.Context, accountID uuid.UUID, periodStart time.Time) (*UsageRecord, error)
	SystemUsage(ctx context.Context, periodStart time.Time) (*SystemUsage, error)
	TopAccounts(ctx context.Context, periodStart time.Time, limit int) ([]AccountUsage, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new usage repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Upsert(ctx context.Context, accountID uuid.UUID, periodStart, periodEnd time.Time, inputTokens, outputTokens int64, at time.Time) error {
	rec := &UsageRecord{
		AccountID:    accountID,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		PromptCount:  1,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		LastPromptAt: at,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}, {Name: "period_start"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"prompt_count":   gorm.Expr("usage_records.prompt_count + 1"),
			"input_tokens":   gorm.Expr("usage_records.input_tokens + ?", inputTokens),
			"output_tokens":  gorm.Expr("usage_records.output_tokens + ?", outputTokens),
			"last_prompt_at": at,
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert usage record: %w", err)
	}
	return nil
}

func (r *repository) GetByAccountPeriod(ctx context.Context, accountID uuid.UUID, periodStart time.Time) (*UsageRecord, error) {
	var rec UsageRecord
	err := r.db.WithContext(ctx).
		First(&rec, "account_id = ? AND period_start = ?", accountID, periodStart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get usage record: %w", err)
	}
	return &rec, nil
}

func (r *repository) SystemUsage(ctx context.Context, periodStart time.Time) (*SystemUsage, error) {
	var out SystemUsage
	err := r.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Select("COALESCE(SUM(prompt_count), 0) AS total_prompts, COUNT(*) AS active_accounts, COALESCE(SUM(input_tokens), 0) AS input_tokens, COALESCE(SUM(output_tokens), 0) AS output_tokens").
		Where("period_start = ?", periodStart).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("system usage: %w", err)
	}
	out.PeriodStart = periodStart
	return &out, nil
}

func (r *repository) TopAccounts(ctx context.Context, periodStart time.Time, limit int) ([]AccountUsage, error) {
	var rows []AccountUsage
	err := r.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Select("account_id, prompt_count, last_prompt_at").
		Where("period_start = ?", periodStart).
		Order("prompt_count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("top accounts by usage: %w", err)
	}
	return rows, nil
}
