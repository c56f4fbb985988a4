package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/themeforge/server/internal/module/account"
	"github.com/themeforge/server/internal/module/billing"
	"github.com/themeforge/server/internal/module/payment/provider"
	"github.com/themeforge/server/internal/module/subscription"
)

// AccountGetter resolves accounts for checkout metadata.
type AccountGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

// Pack is one purchasable credit bundle.
type Pack struct {
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"price_cents"`
}

// Service turns provider-reported payment outcomes into account effects.
// Everything it learns from a provider arrives at least once and in no
// particular order, so every effect goes through the billing guard or the
// subscription service, both of which absorb redelivery.
type Service struct {
	repo     Repository
	registry *ProviderRegistry
	ledger   *billing.Service
	subs     *subscription.Service
	accounts AccountGetter
	logger   *zap.Logger

	packs      map[string]int64 // pack name (credit count) -> price cents
	proPriceID string
	baseURL    string
}

// NewService creates a new payment service.
func NewService(
	repo Repository,
	registry *ProviderRegistry,
	ledger *billing.Service,
	subs *subscription.Service,
	accounts AccountGetter,
	packs map[string]int64,
	proPriceID string,
	baseURL string,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:       repo,
		registry:   registry,
		ledger:     ledger,
		subs:       subs,
		accounts:   accounts,
		packs:      packs,
		proPriceID: proPriceID,
		baseURL:    baseURL,
		logger:     logger,
	}
}

// Packs lists the configured credit packs, smallest first.
func (s *Service) Packs() []Pack {
	out := make([]Pack, 0, len(s.packs))
	for name, price := range s.packs {
		credits, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Pack{Name: name, Credits: credits, PriceCents: price})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}

// CreateOrder starts a credit pack checkout with the named provider and
// returns the order plus the provider page to send the buyer to.
func (s *Service) CreateOrder(ctx context.Context, accountID uuid.UUID, providerName, pack string) (*PurchaseOrder, string, error) {
	price, ok := s.packs[pack]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownPack, pack)
	}
	credits, err := strconv.ParseInt(pack, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownPack, pack)
	}

	p, err := s.registry.Get(providerName)
	if err != nil {
		return nil, "", err
	}

	order := &PurchaseOrder{
		ID:          uuid.New(),
		AccountID:   accountID,
		Pack:        pack,
		Credits:     credits,
		AmountCents: price,
		Currency:    "usd",
		Provider:    p.Name(),
		Status:      OrderStatusPending,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, "", err
	}

	checkout, err := p.CreateCheckout(ctx, &provider.CheckoutParams{
		OrderID:     order.ID.String(),
		Amount:      price,
		Currency:    order.Currency,
		Description: fmt.Sprintf("ThemeForge %s credit pack", pack),
		SuccessURL:  s.baseURL + "/api/v1/payments/" + p.Name() + "/return?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:   s.baseURL + "/purchase/cancelled",
		Metadata:    map[string]string{"account_id": accountID.String()},
	})
	if err != nil {
		if statusErr := s.repo.SetOrderStatus(ctx, order.ID, OrderStatusFailed); statusErr != nil {
			s.logger.Error("failed to mark order failed", zap.Error(statusErr))
		}
		return nil, "", err
	}

	order.ProviderOrderID = checkout.ProviderOrderID
	if err := s.repo.SetOrderProviderID(ctx, order.ID, checkout.ProviderOrderID); err != nil {
		return nil, "", err
	}

	s.logger.Info("checkout created",
		zap.String("order_id", order.ID.String()),
		zap.String("provider", p.Name()),
		zap.String("pack", pack),
	)
	return order, checkout.ApproveURL, nil
}

// SettlePurchase captures (or confirms capture of) a checkout and grants
// the purchased credits. Safe to call from both the webhook and the
// return callback: the grant is keyed on the provider's capture ID, so
// the second caller finds the effect already recorded and does nothing.
func (s *Service) SettlePurchase(ctx context.Context, providerName, providerOrderID string) (*PurchaseOrder, bool, error) {
	p, err := s.registry.Get(providerName)
	if err != nil {
		return nil, false, err
	}

	order, err := s.repo.GetOrderByProviderOrderID(ctx, providerName, providerOrderID)
	if err != nil {
		return nil, false, err
	}

	capture, err := p.CaptureCheckout(ctx, providerOrderID)
	if err != nil {
		return nil, false, err
	}
	if !capture.Completed {
		return order, false, ErrCaptureIncomplete
	}

	granted, err := s.ledger.GrantPurchased(ctx, order.AccountID, int(order.Credits), capture.CaptureID)
	if err != nil {
		return nil, false, err
	}

	if order.Status != OrderStatusCompleted {
		if err := s.repo.SetOrderStatus(ctx, order.ID, OrderStatusCompleted); err != nil {
			s.logger.Error("failed to mark order completed", zap.Error(err))
		}
		order.Status = OrderStatusCompleted
	}

	if granted {
		s.logger.Info("purchase settled",
			zap.String("order_id", order.ID.String()),
			zap.String("capture_id", capture.CaptureID),
			zap.Int64("credits", order.Credits),
		)
	}
	return order, granted, nil
}

// StartSubscription creates a provider-hosted subscription checkout for
// the pro tier.
func (s *Service) StartSubscription(ctx context.Context, accountID uuid.UUID, providerName string) (string, error) {
	p, err := s.registry.Get(providerName)
	if err != nil {
		return "", err
	}

	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return "", err
	}

	checkout, err := p.CreateSubscriptionCheckout(ctx, &provider.SubscriptionParams{
		AccountID:  accountID.String(),
		PriceID:    s.proPriceID,
		Email:      acct.Email,
		SuccessURL: s.baseURL + "/api/v1/payments/" + p.Name() + "/subscription/return?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.baseURL + "/subscribe/cancelled",
	})
	if err != nil {
		return "", err
	}
	return checkout.ApproveURL, nil
}

// SyncSubscription reads the provider's current view of a subscription
// and folds it into the account.
func (s *Service) SyncSubscription(ctx context.Context, accountID uuid.UUID, subscriptionID string) error {
	p, err := s.registry.Get("stripe")
	if err != nil {
		return err
	}
	sub, err := p.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	_, err = s.ApplySubscriptionState(ctx, accountID, sub)
	return err
}

// HandleSubscriptionReturn settles a subscription checkout from the
// buyer's return redirect. The webhook may already have applied the
// activation; the subscription service absorbs the duplicate.
func (s *Service) HandleSubscriptionReturn(ctx context.Context, providerName, sessionID string) (bool, error) {
	p, err := s.registry.Get(providerName)
	if err != nil {
		return false, err
	}

	sub, accountRef, err := p.SubscriptionFromCheckout(ctx, sessionID)
	if err != nil {
		return false, err
	}
	accountID, err := uuid.Parse(accountRef)
	if err != nil {
		return false, fmt.Errorf("checkout %s has invalid account reference: %w", sessionID, err)
	}
	return s.ApplySubscriptionState(ctx, accountID, sub)
}

// ApplySubscriptionState folds the provider's current view of a
// subscription into the account. Both ingress channels end up here.
func (s *Service) ApplySubscriptionState(ctx context.Context, accountID uuid.UUID, sub *provider.Subscription) (bool, error) {
	ev := subscriptionEvent(accountID, sub)
	if ev == nil {
		s.logger.Info("provider subscription state has no local effect",
			zap.String("subscription_id", sub.ID),
			zap.String("status", sub.Status),
		)
		return false, nil
	}
	return s.subs.Apply(ctx, ev)
}

// CancelSubscription requests cancel-at-period-end from the provider and
// applies the cancellation locally without waiting for the webhook echo.
func (s *Service) CancelSubscription(ctx context.Context, accountID uuid.UUID) error {
	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if acct.SubscriptionID == nil {
		return ErrNoSubscription
	}

	// Subscriptions are a Stripe-only capability in this integration.
	p, err := s.registry.Get("stripe")
	if err != nil {
		return err
	}
	if err := p.CancelSubscription(ctx, *acct.SubscriptionID, false); err != nil {
		return fmt.Errorf("provider cancel: %w", err)
	}

	_, err = s.subs.Apply(ctx, &subscription.Event{
		SubscriptionID: *acct.SubscriptionID,
		Type:           subscription.EventCancelled,
		AccountID:      accountID,
	})
	return err
}

// Orders lists the account's recent purchase orders.
func (s *Service) Orders(ctx context.Context, accountID uuid.UUID, limit int) ([]PurchaseOrder, error) {
	return s.repo.ListOrdersByAccount(ctx, accountID, limit)
}

// subscriptionEvent maps the provider's subscription snapshot to the
// transition it implies. Returns nil when the snapshot carries no state
// we track (e.g. incomplete checkout).
func subscriptionEvent(accountID uuid.UUID, sub *provider.Subscription) *subscription.Event {
	start, end := sub.PeriodTimes()
	ev := &subscription.Event{
		SubscriptionID: sub.ID,
		AccountID:      accountID,
		PeriodStart:    start,
		PeriodEnd:      end,
	}
	if raw, err := json.Marshal(sub); err == nil {
		ev.Raw = string(raw)
	}

	switch sub.Status {
	case "active", "trialing":
		if sub.CancelAtPeriodEnd {
			ev.Type = subscription.EventCancelled
		} else {
			ev.Type = subscription.EventActivated
		}
	case "past_due", "unpaid":
		ev.Type = subscription.EventSuspended
	case "canceled":
		ev.Type = subscription.EventExpired
	default:
		return nil
	}
	return ev
}
