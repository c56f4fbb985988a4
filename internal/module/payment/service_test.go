package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/themeforge/server/internal/module/account"
	"github.com/themeforge/server/internal/module/billing"
	"github.com/themeforge/server/internal/module/payment/provider"
	"github.com/themeforge/server/internal/module/subscription"
)

// store is a single in-memory backend for the order repository, the
// billing repository and the subscription repository, so settlement tests
// run against the real ledger, guard and state machine.
type store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*account.Account
	effects  map[billing.EffectKey]struct{}
	events   []*subscription.SubscriptionEvent
	orders   map[uuid.UUID]*PurchaseOrder
}

func newStore() *store {
	return &store{
		accounts: make(map[uuid.UUID]*account.Account),
		effects:  make(map[billing.EffectKey]struct{}),
		orders:   make(map[uuid.UUID]*PurchaseOrder),
	}
}

func (s *store) AddAccount(acct *account.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.ID] = acct
}

// payment.Repository

func (s *store) CreateOrder(_ context.Context, order *PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *order
	s.orders[order.ID] = &copied
	return nil
}

func (s *store) GetOrder(_ context.Context, id uuid.UUID) (*PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *store) GetOrderByProviderOrderID(_ context.Context, providerName, providerOrderID string) (*PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, order := range s.orders {
		if order.Provider == providerName && order.ProviderOrderID == providerOrderID {
			copied := *order
			return &copied, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (s *store) ListOrdersByAccount(_ context.Context, accountID uuid.UUID, limit int) ([]PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PurchaseOrder
	for _, order := range s.orders {
		if order.AccountID == accountID {
			out = append(out, *order)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *store) SetOrderStatus(_ context.Context, id uuid.UUID, status OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = status
	return nil
}

func (s *store) SetOrderProviderID(_ context.Context, id uuid.UUID, providerOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.ProviderOrderID = providerOrderID
	return nil
}

// billing.Repository

func (s *store) CreateProcessedTransaction(_ context.Context, tx *billing.ProcessedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := billing.EffectKey{TransactionID: tx.TransactionID, Kind: tx.EffectKind}
	if _, exists := s.effects[key]; exists {
		return billing.ErrDuplicateEffect
	}
	s.effects[key] = struct{}{}
	return nil
}

func (s *store) GrantPurchased(_ context.Context, accountID uuid.UUID, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return account.ErrAccountNotFound
	}
	acct.PurchasedCredits += amount
	acct.TotalPurchasedCredits += amount
	if acct.Tier == account.TierFree {
		acct.Tier = account.TierStarter
	}
	return nil
}

func (s *store) ConsumeFreeCredit(_ context.Context, accountID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok || acct.FreeCreditsRemaining <= 0 {
		return false, nil
	}
	acct.FreeCreditsRemaining--
	return true, nil
}

func (s *store) ConsumePurchasedCredit(_ context.Context, accountID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok || acct.PurchasedCredits <= 0 {
		return false, nil
	}
	acct.PurchasedCredits--
	return true, nil
}

func (s *store) DemoteLapsed(_ context.Context, accountID uuid.UUID, baseTier account.Tier, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok || acct.SubscriptionStatus != account.SubscriptionStatusCancelled {
		return false, nil
	}
	acct.Tier = baseTier
	acct.SubscriptionStatus = account.SubscriptionStatusExpired
	return true, nil
}

func (s *store) AppendAbuseFlag(context.Context, uuid.UUID, string) error { return nil }

func (s *store) GetAccount(_ context.Context, accountID uuid.UUID) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	copied := *acct
	return &copied, nil
}

// subscription.Repository

func (s *store) GetAccountByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return s.GetAccount(ctx, id)
}

func (s *store) GetAccountBySubscriptionID(_ context.Context, subscriptionID string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range s.accounts {
		if acct.SubscriptionID != nil && *acct.SubscriptionID == subscriptionID {
			copied := *acct
			return &copied, nil
		}
	}
	return nil, account.ErrAccountNotFound
}

func (s *store) UpdateSubscriptionState(_ context.Context, acct *account.Account, prevStatus account.SubscriptionStatus, prevSubscriptionID *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.accounts[acct.ID]
	if !ok || current.SubscriptionStatus != prevStatus {
		return false, nil
	}
	switch {
	case current.SubscriptionID == nil && prevSubscriptionID == nil:
	case current.SubscriptionID != nil && prevSubscriptionID != nil && *current.SubscriptionID == *prevSubscriptionID:
	default:
		return false, nil
	}
	copied := *acct
	s.accounts[acct.ID] = &copied
	return true, nil
}

func (s *store) CreateEvent(_ context.Context, ev *subscription.SubscriptionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// account getter

func (s *store) Get(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return s.GetAccount(ctx, id)
}

// fakeProvider is a scriptable provider.Provider.
type fakeProvider struct {
	name string

	mu            sync.Mutex
	capture       *provider.CaptureResult
	captureCalls  int
	createErr     error
	verifyErr     error
	subscriptions map[string]*provider.Subscription
	cancelled     []string
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, subscriptions: make(map[string]*provider.Subscription)}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CreateCheckout(_ context.Context, params *provider.CheckoutParams) (*provider.CheckoutSession, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &provider.CheckoutSession{
		OrderID:         params.OrderID,
		ProviderOrderID: "sess_" + params.OrderID,
		ApproveURL:      "https://pay.example/checkout/" + params.OrderID,
		Amount:          params.Amount,
		Currency:        params.Currency,
	}, nil
}

func (f *fakeProvider) CaptureCheckout(_ context.Context, providerOrderID string) (*provider.CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captureCalls++
	if f.capture == nil {
		return &provider.CaptureResult{
			CaptureID:       "cap_" + providerOrderID,
			ProviderOrderID: providerOrderID,
			Completed:       true,
		}, nil
	}
	return f.capture, nil
}

func (f *fakeProvider) CreateSubscriptionCheckout(_ context.Context, params *provider.SubscriptionParams) (*provider.SubscriptionCheckout, error) {
	return &provider.SubscriptionCheckout{
		ProviderSessionID: "subsess_" + params.AccountID,
		ApproveURL:        "https://pay.example/subscribe/" + params.AccountID,
	}, nil
}

func (f *fakeProvider) SubscriptionFromCheckout(_ context.Context, providerSessionID string) (*provider.Subscription, string, error) {
	return nil, "", provider.ErrNotSupported
}

func (f *fakeProvider) GetSubscription(_ context.Context, subscriptionID string) (*provider.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

func (f *fakeProvider) CancelSubscription(_ context.Context, subscriptionID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, subscriptionID)
	return nil
}

func (f *fakeProvider) VerifyWebhookSignature([]byte, string) error { return f.verifyErr }

func newTestStack(t *testing.T) (*Service, *store, *fakeProvider) {
	t.Helper()
	logger := zap.NewNop()
	st := newStore()
	guard := billing.NewGuard(st, logger)
	ledger := billing.NewService(st, guard, logger)
	subs := subscription.NewService(st, guard, subscription.NewStateMachine(), logger)

	fp := newFakeProvider("stripe")
	registry := NewProviderRegistry()
	registry.Register(fp)

	packs := map[string]int64{"20": 499, "100": 1999, "500": 7999}
	svc := NewService(st, registry, ledger, subs, st, packs, "price_pro", "https://forge.example", logger)
	return svc, st, fp
}

func starterAccount() *account.Account {
	return &account.Account{
		ID:                 uuid.New(),
		Email:              "buyer@example.com",
		Tier:               account.TierFree,
		SubscriptionStatus: account.SubscriptionStatusNone,
	}
}

func TestPacks(t *testing.T) {
	svc, _, _ := newTestStack(t)

	packs := svc.Packs()
	require.Len(t, packs, 3)
	assert.Equal(t, int64(20), packs[0].Credits)
	assert.Equal(t, int64(499), packs[0].PriceCents)
	assert.Equal(t, int64(500), packs[2].Credits)
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a pending order and returns the provider page", func(t *testing.T) {
		svc, st, _ := newTestStack(t)
		acct := starterAccount()
		st.AddAccount(acct)

		order, approveURL, err := svc.CreateOrder(ctx, acct.ID, "stripe", "100")
		require.NoError(t, err)
		assert.Equal(t, int64(100), order.Credits)
		assert.Equal(t, int64(1999), order.AmountCents)
		assert.Contains(t, approveURL, "https://pay.example/checkout/")

		stored, err := st.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, OrderStatusPending, stored.Status)
		assert.Equal(t, "sess_"+order.ID.String(), stored.ProviderOrderID)
	})

	t.Run("unknown pack", func(t *testing.T) {
		svc, _, _ := newTestStack(t)

		_, _, err := svc.CreateOrder(ctx, uuid.New(), "stripe", "9999")
		assert.ErrorIs(t, err, ErrUnknownPack)
	})

	t.Run("unknown provider", func(t *testing.T) {
		svc, _, _ := newTestStack(t)

		_, _, err := svc.CreateOrder(ctx, uuid.New(), "square", "20")
		assert.ErrorIs(t, err, ErrProviderNotFound)
	})

	t.Run("provider failure marks the order failed", func(t *testing.T) {
		svc, st, fp := newTestStack(t)
		fp.createErr = errors.New("provider down")
		acct := starterAccount()
		st.AddAccount(acct)

		_, _, err := svc.CreateOrder(ctx, acct.ID, "stripe", "20")
		require.Error(t, err)

		orders, err := st.ListOrdersByAccount(ctx, acct.ID, 10)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, OrderStatusFailed, orders[0].Status)
	})
}

func TestSettlePurchase(t *testing.T) {
	ctx := context.Background()

	createOrder := func(t *testing.T, svc *Service, accountID uuid.UUID) *PurchaseOrder {
		t.Helper()
		order, _, err := svc.CreateOrder(ctx, accountID, "stripe", "100")
		require.NoError(t, err)
		return order
	}

	t.Run("capture grants the credits once", func(t *testing.T) {
		svc, st, _ := newTestStack(t)
		acct := starterAccount()
		st.AddAccount(acct)
		order := createOrder(t, svc, acct.ID)

		settled, granted, err := svc.SettlePurchase(ctx, "stripe", "sess_"+order.ID.String())
		require.NoError(t, err)
		assert.True(t, granted)
		assert.Equal(t, OrderStatusCompleted, settled.Status)

		stored, err := st.GetAccount(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, stored.PurchasedCredits)
		assert.Equal(t, account.TierStarter, stored.Tier)
	})

	t.Run("webhook and return callback settle the same order once", func(t *testing.T) {
		svc, st, _ := newTestStack(t)
		acct := starterAccount()
		st.AddAccount(acct)
		order := createOrder(t, svc, acct.ID)
		providerOrderID := "sess_" + order.ID.String()

		const racers = 8
		grants := make(chan bool, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, granted, err := svc.SettlePurchase(ctx, "stripe", providerOrderID)
				assert.NoError(t, err)
				grants <- granted
			}()
		}
		wg.Wait()
		close(grants)

		total := 0
		for granted := range grants {
			if granted {
				total++
			}
		}
		assert.Equal(t, 1, total)

		stored, err := st.GetAccount(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, stored.PurchasedCredits)
	})

	t.Run("incomplete capture leaves the order pending", func(t *testing.T) {
		svc, st, fp := newTestStack(t)
		acct := starterAccount()
		st.AddAccount(acct)
		order := createOrder(t, svc, acct.ID)
		fp.capture = &provider.CaptureResult{Completed: false}

		_, granted, err := svc.SettlePurchase(ctx, "stripe", "sess_"+order.ID.String())
		assert.ErrorIs(t, err, ErrCaptureIncomplete)
		assert.False(t, granted)

		stored, err := st.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, OrderStatusPending, stored.Status)

		after, err := st.GetAccount(ctx, acct.ID)
		require.NoError(t, err)
		assert.Zero(t, after.PurchasedCredits)
	})

	t.Run("unknown provider order", func(t *testing.T) {
		svc, _, _ := newTestStack(t)

		_, _, err := svc.SettlePurchase(ctx, "stripe", "sess_missing")
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestApplySubscriptionState(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()

	tests := []struct {
		name       string
		sub        *provider.Subscription
		wantStatus account.SubscriptionStatus
		wantTier   account.Tier
	}{
		{
			name:       "active subscription activates",
			sub:        &provider.Subscription{ID: "sub_1", Status: "active", CurrentPeriodStart: now, CurrentPeriodEnd: now + 3600},
			wantStatus: account.SubscriptionStatusActive,
			wantTier:   account.TierPro,
		},
		{
			name:       "trialing counts as active",
			sub:        &provider.Subscription{ID: "sub_1", Status: "trialing"},
			wantStatus: account.SubscriptionStatusActive,
			wantTier:   account.TierPro,
		},
		{
			name:       "active with cancel flag is a cancellation",
			sub:        &provider.Subscription{ID: "sub_1", Status: "active", CancelAtPeriodEnd: true, CurrentPeriodEnd: now + 3600},
			wantStatus: account.SubscriptionStatusCancelled,
			wantTier:   account.TierPro,
		},
		{
			name:       "past_due suspends",
			sub:        &provider.Subscription{ID: "sub_1", Status: "past_due"},
			wantStatus: account.SubscriptionStatusSuspended,
			wantTier:   account.TierFree,
		},
		{
			name:       "canceled expires",
			sub:        &provider.Subscription{ID: "sub_1", Status: "canceled"},
			wantStatus: account.SubscriptionStatusExpired,
			wantTier:   account.TierFree,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, st, _ := newTestStack(t)
			acct := starterAccount()
			st.AddAccount(acct)

			applied, err := svc.ApplySubscriptionState(ctx, acct.ID, tc.sub)
			require.NoError(t, err)
			assert.True(t, applied)

			stored, err := st.GetAccount(ctx, acct.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, stored.SubscriptionStatus)
			assert.Equal(t, tc.wantTier, stored.Tier)

			// The audit row keeps the provider snapshot that caused the
			// transition.
			require.Len(t, st.events, 1)
			assert.Contains(t, st.events[0].Metadata, tc.sub.ID)
			assert.Contains(t, st.events[0].Metadata, tc.sub.Status)
		})
	}

	t.Run("incomplete checkout has no local effect", func(t *testing.T) {
		svc, st, _ := newTestStack(t)
		acct := starterAccount()
		st.AddAccount(acct)

		applied, err := svc.ApplySubscriptionState(ctx, acct.ID, &provider.Subscription{ID: "sub_1", Status: "incomplete"})
		require.NoError(t, err)
		assert.False(t, applied)

		stored, err := st.GetAccount(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, account.SubscriptionStatusNone, stored.SubscriptionStatus)
	})
}

func TestCancelSubscription(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels upstream and applies locally", func(t *testing.T) {
		svc, st, fp := newTestStack(t)
		acct := starterAccount()
		subID := "sub_1"
		acct.SubscriptionID = &subID
		acct.SubscriptionStatus = account.SubscriptionStatusActive
		acct.Tier = account.TierPro
		st.AddAccount(acct)

		require.NoError(t, svc.CancelSubscription(ctx, acct.ID))
		assert.Equal(t, []string{"sub_1"}, fp.cancelled)

		stored, err := st.GetAccount(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, account.SubscriptionStatusCancelled, stored.SubscriptionStatus)
		assert.Equal(t, account.TierPro, stored.Tier)
		assert.True(t, stored.CancelAtPeriodEnd)
	})

	t.Run("no subscription", func(t *testing.T) {
		svc, st, _ := newTestStack(t)
		acct := starterAccount()
		st.AddAccount(acct)

		err := svc.CancelSubscription(ctx, acct.ID)
		assert.ErrorIs(t, err, ErrNoSubscription)
	})
}

func TestSyncSubscription(t *testing.T) {
	ctx := context.Background()
	svc, st, fp := newTestStack(t)
	acct := starterAccount()
	st.AddAccount(acct)
	fp.subscriptions["sub_1"] = &provider.Subscription{ID: "sub_1", Status: "active"}

	require.NoError(t, svc.SyncSubscription(ctx, acct.ID, "sub_1"))

	stored, err := st.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, account.TierPro, stored.Tier)
	assert.Equal(t, account.SubscriptionStatusActive, stored.SubscriptionStatus)
}
