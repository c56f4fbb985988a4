package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines purchase order data access.
type Repository interface {
	CreateOrder(ctx context.Context, order *PurchaseOrder) error
	GetOrder(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error)
	GetOrderByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*PurchaseOrder, error)
	ListOrdersByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]PurchaseOrder, error)

	// SetOrderStatus marks the order's lifecycle. Status is bookkeeping
	// only; it never gates the credit grant.
	SetOrderStatus(ctx context.Context, id uuid.UUID, status OrderStatus) error

	// SetOrderProviderID binds the provider's session/order ID once the
	// checkout has been created upstream.
	SetOrderProviderID(ctx context.Context, id uuid.UUID, providerOrderID string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateOrder(ctx context.Context, order *PurchaseOrder) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *repository) GetOrder(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error) {
	var order PurchaseOrder
	err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &order, nil
}

func (r *repository) GetOrderByProviderOrderID(ctx context.Context, provider, providerOrderID string) (*PurchaseOrder, error) {
	var order PurchaseOrder
	err := r.db.WithContext(ctx).
		First(&order, "provider = ? AND provider_order_id = ?", provider, providerOrderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by provider order id: %w", err)
	}
	return &order, nil
}

func (r *repository) ListOrdersByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]PurchaseOrder, error) {
	var orders []PurchaseOrder
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (r *repository) SetOrderProviderID(ctx context.Context, id uuid.UUID, providerOrderID string) error {
	err := r.db.WithContext(ctx).
		Model(&PurchaseOrder{}).
		Where("id = ?", id).
		Update("provider_order_id", providerOrderID).Error
	if err != nil {
		return fmt.Errorf("set order provider id: %w", err)
	}
	return nil
}

func (r *repository) SetOrderStatus(ctx context.Context, id uuid.UUID, status OrderStatus) error {
	err := r.db.WithContext(ctx).
		Model(&PurchaseOrder{}).
		Where("id = ?", id).
		Update("status", string(status)).Error
	if err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	return nil
}
