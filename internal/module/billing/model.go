package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EffectKind names the business effect an external transaction produces.
// The (transaction id, effect kind) pair uniquely identifies one real-world
// event across both ingress channels.
type EffectKind string

const (
	EffectKindCreditGrant       EffectKind = "credit-grant"
	EffectKindSubscriptionEvent EffectKind = "subscription-event"
)

// EffectKey uniquely names one real-world business event. Both the webhook
// and the return-callback path must compute the identical key for the same
// event, so the guard can absorb whichever arrives second.
type EffectKey struct {
	TransactionID string
	Kind          EffectKind
}

// CreditGrantKey builds the effect key for a one-time purchase, keyed by the
// provider's capture/order id.
func CreditGrantKey(transactionID string) EffectKey {
	return EffectKey{TransactionID: transactionID, Kind: EffectKindCreditGrant}
}

// SubscriptionEventKey builds the effect key for a subscription lifecycle
// transition. The provider does not guarantee a stable per-event id for
// every event type, so the key is subscription id + event type.
func SubscriptionEventKey(subscriptionID, eventType string) EffectKey {
	return EffectKey{
		TransactionID: fmt.Sprintf("%s:%s", subscriptionID, eventType),
		Kind:          EffectKindSubscriptionEvent,
	}
}

// String returns the key in log-friendly form.
func (k EffectKey) String() string {
	return string(k.Kind) + "/" + k.TransactionID
}

// ProcessedTransaction is the idempotency record: its existence is proof the
// effect was already applied. Rows are created once and never mutated.
type ProcessedTransaction struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TransactionID string     `gorm:"uniqueIndex:idx_processed_effect;not null"`
	EffectKind    EffectKind `gorm:"uniqueIndex:idx_processed_effect;not null"`
	Outcome       string     `gorm:"not null"`
	CreatedAt     time.Time
}

// TableName returns the database table name.
func (ProcessedTransaction) TableName() string {
	return "processed_transactions"
}

// Balance is the read-only view of an account's credit position.
type Balance struct {
	FreeCreditsRemaining  int  `json:"free_credits_remaining"`
	PurchasedCredits      int  `json:"purchased_credits"`
	TotalPurchasedCredits int  `json:"total_purchased_credits"`
	IsUnlimited           bool `json:"is_unlimited"`
}

// Decision is the admission pre-check result.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
