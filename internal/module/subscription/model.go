package subscription

import (
	"time"

	"github.com/google/uuid"
)

// EventType is a provider-reported subscription lifecycle transition.
type EventType string

const (
	EventActivated EventType = "activated"
	EventCancelled EventType = "cancelled"
	EventSuspended EventType = "suspended"
	EventExpired   EventType = "expired"
)

// Valid reports whether the event type is known.
func (t EventType) Valid() bool {
	switch t {
	case EventActivated, EventCancelled, EventSuspended, EventExpired:
		return true
	}
	return false
}

// Event is a normalized provider transition. Both ingress channels build
// the same Event for the same real-world change; the idempotency key is
// (subscription id, event type), so redelivery and cross-channel races are
// absorbed.
type Event struct {
	SubscriptionID string
	Type           EventType
	// AccountID resolves the account directly (return-callback path).
	// Nil means resolve through the subscription id binding.
	AccountID uuid.UUID
	// Period bounds from provider data, when the event carries them.
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	// Raw is an opaque snapshot of the provider payload for the audit log.
	Raw string
}

// SubscriptionEvent is the append-only audit record. Written once per
// applied transition, never read by the core logic.
type SubscriptionEvent struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AccountID              uuid.UUID `gorm:"type:uuid;not null;index"`
	EventType              EventType `gorm:"not null"`
	ExternalSubscriptionID string    `gorm:"not null;index"`
	Metadata               string    `gorm:"type:jsonb"`
	CreatedAt              time.Time
}

// TableName returns the database table name.
func (SubscriptionEvent) TableName() string {
	return "subscription_events"
}
