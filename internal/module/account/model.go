package account

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Tier represents the entitlement tier of an account.
type Tier string

const (
	TierFree    Tier = "free"
	TierStarter Tier = "starter"
	TierPro     Tier = "pro"
)

// Role represents the account role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// SubscriptionStatus represents the lifecycle status of the account's
// recurring subscription, as reported by the payment provider.
type SubscriptionStatus string

const (
	SubscriptionStatusNone      SubscriptionStatus = "none"
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Account is the billing view of a user. Created once at first
// authentication, mutated afterwards only by reconciliation ingress and
// admission debits.
type Account struct {
	ID    uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Email string    `json:"email" gorm:"uniqueIndex;not null"`
	Role  Role      `json:"role" gorm:"not null;default:user"`

	Tier                  Tier `json:"tier" gorm:"not null;default:free"`
	FreeCreditsRemaining  int  `json:"free_credits_remaining" gorm:"not null;default:0"`
	PurchasedCredits      int  `json:"purchased_credits" gorm:"not null;default:0"`
	TotalPurchasedCredits int  `json:"total_purchased_credits" gorm:"not null;default:0"`

	SubscriptionID     *string            `json:"subscription_id,omitempty" gorm:"index"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" gorm:"not null;default:none"`
	CurrentPeriodStart *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end" gorm:"default:false"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`

	AbuseFlags pq.StringArray `json:"abuse_flags,omitempty" gorm:"type:text[]"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Account) TableName() string {
	return "accounts"
}

// IsUnlimited reports whether the account currently generates without
// debiting credits.
func (a *Account) IsUnlimited(now time.Time) bool {
	if a.Tier != TierPro {
		return false
	}
	return !a.SubscriptionLapsed(now)
}

// SubscriptionLapsed reports whether a cancel-at-period-end subscription has
// run past its paid period. Demotion is lazy: the next admission check
// observes the lapse and demotes in place, no scheduler involved.
func (a *Account) SubscriptionLapsed(now time.Time) bool {
	if !a.CancelAtPeriodEnd || a.CurrentPeriodEnd == nil {
		return false
	}
	switch a.SubscriptionStatus {
	case SubscriptionStatusActive, SubscriptionStatusCancelled:
		return now.After(*a.CurrentPeriodEnd)
	default:
		return false
	}
}

// BaseTier returns the tier an account falls back to when it loses pro
// entitlement.
func (a *Account) BaseTier() Tier {
	if a.TotalPurchasedCredits > 0 {
		return TierStarter
	}
	return TierFree
}

// IsAdmin reports whether the account has the admin role.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}
