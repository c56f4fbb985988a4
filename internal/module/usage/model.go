package usage

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord aggregates one account's generations within one billing
// period. Created lazily on first use in a period, updated in place
// thereafter, never deleted.
type UsageRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	AccountID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_usage_account_period"`
	PeriodStart  time.Time `gorm:"not null;uniqueIndex:idx_usage_account_period"`
	PeriodEnd    time.Time `gorm:"not null"`
	PromptCount  int       `gorm:"not null;default:0"`
	InputTokens  int64     `gorm:"not null;default:0"`
	OutputTokens int64     `gorm:"not null;default:0"`
	LastPromptAt time.Time `gorm:"not null"`
}

// TableName returns the database table name.
func (UsageRecord) TableName() string {
	return "usage_records"
}

// SystemUsage is the system-wide rollup for the current period.
type SystemUsage struct {
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	TotalPrompts   int64     `json:"total_prompts"`
	ActiveAccounts int64     `json:"active_accounts"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
}

// AccountUsage is one row of the per-account rollup.
type AccountUsage struct {
	AccountID    uuid.UUID `json:"account_id"`
	PromptCount  int       `json:"prompt_count"`
	LastPromptAt time.Time `json:"last_prompt_at"`
}
