package payment

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus tracks a purchase order's lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// PurchaseOrder is our record of a credit pack checkout. It exists before
// the provider confirms anything; the credit grant itself is keyed on the
// provider's transaction ID, not on this row.
type PurchaseOrder struct {
	ID              uuid.UUID   `gorm:"type:uuid;primaryKey"`
	AccountID       uuid.UUID   `gorm:"type:uuid;not null;index"`
	Pack            string      `gorm:"size:64;not null"`
	Credits         int64       `gorm:"not null"`
	AmountCents     int64       `gorm:"not null"`
	Currency        string      `gorm:"size:8;not null"`
	Provider        string      `gorm:"size:32;not null"`
	ProviderOrderID string      `gorm:"size:255;index"`
	Status          OrderStatus `gorm:"size:16;not null;default:'pending'"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TableName returns the database table name.
func (PurchaseOrder) TableName() string {
	return "purchase_orders"
}
