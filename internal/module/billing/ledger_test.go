package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/themeforge/server/internal/module/account"
)

// MockRepository implements Repository in memory with the same guarded
// update semantics as the SQL statements it stands in for.
type MockRepository struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*account.Account
	effects  map[EffectKey]*ProcessedTransaction

	grantErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		accounts: make(map[uuid.UUID]*account.Account),
		effects:  make(map[EffectKey]*ProcessedTransaction),
	}
}

func (m *MockRepository) AddAccount(acct *account.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.ID] = acct
}

func (m *MockRepository) CreateProcessedTransaction(_ context.Context, tx *ProcessedTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := EffectKey{TransactionID: tx.TransactionID, Kind: tx.EffectKind}
	if _, exists := m.effects[key]; exists {
		return ErrDuplicateEffect
	}
	m.effects[key] = tx
	return nil
}

func (m *MockRepository) GrantPurchased(_ context.Context, accountID uuid.UUID, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grantErr != nil {
		return m.grantErr
	}
	acct, ok := m.accounts[accountID]
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

func (m *MockRepository) ConsumeFreeCredit(_ context.Context, accountID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok || acct.FreeCreditsRemaining <= 0 {
		return false, nil
	}
	acct.FreeCreditsRemaining--
	return true, nil
}

func (m *MockRepository) ConsumePurchasedCredit(_ context.Context, accountID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok || acct.PurchasedCredits <= 0 {
		return false, nil
	}
	acct.PurchasedCredits--
	return true, nil
}

func (m *MockRepository) DemoteLapsed(_ context.Context, accountID uuid.UUID, baseTier account.Tier, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return false, nil
	}
	if !acct.CancelAtPeriodEnd || acct.CurrentPeriodEnd == nil || !now.After(*acct.CurrentPeriodEnd) {
		return false, nil
	}
	switch acct.SubscriptionStatus {
	case account.SubscriptionStatusActive, account.SubscriptionStatusCancelled:
	default:
		return false, nil
	}
	acct.Tier = baseTier
	acct.SubscriptionStatus = account.SubscriptionStatusExpired
	return true, nil
}

func (m *MockRepository) AppendAbuseFlag(_ context.Context, accountID uuid.UUID, flag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return account.ErrAccountNotFound
	}
	for _, f := range acct.AbuseFlags {
		if f == flag {
			return nil
		}
	}
	acct.AbuseFlags = append(acct.AbuseFlags, flag)
	return nil
}

func (m *MockRepository) GetAccount(_ context.Context, accountID uuid.UUID) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, account.ErrAccountNotFound
	}
	copied := *acct
	return &copied, nil
}

func newTestService(repo *MockRepository) *Service {
	logger := zap.NewNop()
	return NewService(repo, NewGuard(repo, logger), logger)
}

func newStarterAccount(free, purchased int) *account.Account {
	return &account.Account{
		ID:                   uuid.New(),
		Email:                "user@example.com",
		Tier:                 account.TierStarter,
		FreeCreditsRemaining: free,
		PurchasedCredits:     purchased,
		SubscriptionStatus:   account.SubscriptionStatusNone,
	}
}

func TestGrantPurchased(t *testing.T) {
	ctx := context.Background()

	t.Run("grants once and promotes free tier", func(t *testing.T) {
		repo := NewMockRepository()
		acct := newStarterAccount(0, 0)
		acct.Tier = account.TierFree
		repo.AddAccount(acct)
		svc := newTestService(repo)

		added, err := svc.GrantPurchased(ctx, acct.ID, 100, "pi_123")
		require.NoError(t, err)
		assert.True(t, added)
		assert.Equal(t, 100, acct.PurchasedCredits)
		assert.Equal(t, 100, acct.TotalPurchasedCredits)
		assert.Equal(t, account.TierStarter, acct.Tier)
	})

	t.Run("redelivery is a no-op without error", func(t *testing.T) {
		repo := NewMockRepository()
		acct := newStarterAccount(0, 0)
		repo.AddAccount(acct)
		svc := newTestService(repo)

		added, err := svc.GrantPurchased(ctx, acct.ID, 100, "pi_123")
		require.NoError(t, err)
		assert.True(t, added)

		added, err = svc.GrantPurchased(ctx, acct.ID, 100, "pi_123")
		require.NoError(t, err)
		assert.False(t, added)
		assert.Equal(t, 100, acct.PurchasedCredits)
	})

	t.Run("distinct transactions both apply", func(t *testing.T) {
		repo := NewMockRepository()
		acct := newStarterAccount(0, 0)
		repo.AddAccount(acct)
		svc := newTestService(repo)

		_, err := svc.GrantPurchased(ctx, acct.ID, 100, "pi_1")
		require.NoError(t, err)
		_, err = svc.GrantPurchased(ctx, acct.ID, 50, "pi_2")
		require.NoError(t, err)
		assert.Equal(t, 150, acct.PurchasedCredits)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		repo := NewMockRepository()
		svc := newTestService(repo)

		_, err := svc.GrantPurchased(ctx, uuid.New(), 0, "pi_zero")
		assert.ErrorIs(t, err, ErrInvalidGrantAmount)
		_, err = svc.GrantPurchased(ctx, uuid.New(), -5, "pi_neg")
		assert.ErrorIs(t, err, ErrInvalidGrantAmount)
	})

	t.Run("both channels race, exactly one grant lands", func(t *testing.T) {
		repo := NewMockRepository()
		acct := newStarterAccount(0, 0)
		repo.AddAccount(acct)
		svc := newTestService(repo)

		const racers = 16
		var wg sync.WaitGroup
		applied := make(chan bool, racers)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				added, err := svc.GrantPurchased(ctx, acct.ID, 100, "pi_race")
				assert.NoError(t, err)
				applied <- added
			}()
		}
		wg.Wait()
		close(applied)

		grants := 0
		for added := range applied {
			if added {
				grants++
			}
		}
		assert.Equal(t, 1, grants)
		assert.Equal(t, 100, acct.PurchasedCredits)
	})
}

func TestConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("free credits drain before purchased", func(t *testing.T) {
		repo := NewMockRepository()
		acct := newStarterAccount(2, 1)
		repo.AddAccount(acct)
		svc := newTestService(repo)

		require.NoError(t, svc.Consume(ctx, acct.ID))
		require.NoError(t, svc.Consume(ctx, acct.ID))
		assert.Equal(t, 0, acct.FreeCreditsRemaining)
		assert.Equal(t, 1, acct.PurchasedCredits)

		require.NoError(t, svc.Consume(ctx, acct.ID))
		assert.Equal(t, 0, acct.PurchasedCredits)

		assert.ErrorIs(t, svc.Consume(ctx, acct.ID), ErrInsufficientCredits)
	})

	t.Run("pro subscription never debits", func(t *testing.T) {
		repo := NewMockRepository()
		acct := newStarterAccount(1, 1)
		acct.Tier = account.TierPro
		acct.SubscriptionStatus = account.SubscriptionStatusActive
		repo.AddAccount(acct)
		svc := newTestService(repo)

		for i := 0; i < 10; i++ {
			require.NoError(t, svc.Consume(ctx, acct.ID))
		}
		assert.Equal(t, 1, acct.FreeCreditsRemaining)
		assert.Equal(t, 1, acct.PurchasedCredits)
	})

	t.Run("unknown account", func(t *testing.T) {
		repo := NewMockRepository()
		svc := newTestService(repo)
		assert.ErrorIs(t, svc.Consume(ctx, uuid.New()), account.ErrAccountNotFound)
	})

	t.Run("n racers on k credits, exactly k succeed", func(t *testing.T) {
		repo := NewMockRepository()
		acct := newStarterAccount(2, 1)
		repo.AddAccount(acct)
		svc := newTestService(repo)

		const racers = 10
		results := make(chan error, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- svc.Consume(ctx, acct.ID)
			}()
		}
		wg.Wait()
		close(results)

		succeeded, denied := 0, 0
		for err := range results {
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, ErrInsufficientCredits):
				denied++
			}
		}
		assert.Equal(t, 3, succeeded)
		assert.Equal(t, racers-3, denied)
		assert.Equal(t, 0, acct.FreeCreditsRemaining)
		assert.Equal(t, 0, acct.PurchasedCredits)
	})
}

func TestLazyDemotion(t *testing.T) {
	ctx := context.Background()

	lapsedPro := func(purchasedLifetime int) *account.Account {
		end := time.Now().Add(-time.Hour)
		return &account.Account{
			ID:                    uuid.New(),
			Email:                 "pro@example.com",
			Tier:                  account.TierPro,
			TotalPurchasedCredits: purchasedLifetime,
			SubscriptionStatus:    account.SubscriptionStatusCancelled,
			CancelAtPeriodEnd:     true,
			CurrentPeriodEnd:      &end,
		}
	}

	t.Run("consume after lapse debits instead of unlimited", func(t *testing.T) {
		repo := NewMockRepository()
		acct := lapsedPro(100)
		acct.PurchasedCredits = 1
		repo.AddAccount(acct)
		svc := newTestService(repo)

		require.NoError(t, svc.Consume(ctx, acct.ID))
		assert.Equal(t, account.TierStarter, acct.Tier)
		assert.Equal(t, account.SubscriptionStatusExpired, acct.SubscriptionStatus)
		assert.Equal(t, 0, acct.PurchasedCredits)
	})

	t.Run("lapsed account without purchases falls to free", func(t *testing.T) {
		repo := NewMockRepository()
		acct := lapsedPro(0)
		repo.AddAccount(acct)
		svc := newTestService(repo)

		assert.ErrorIs(t, svc.Consume(ctx, acct.ID), ErrInsufficientCredits)
		assert.Equal(t, account.TierFree, acct.Tier)
		assert.Equal(t, account.SubscriptionStatusExpired, acct.SubscriptionStatus)
	})

	t.Run("cancelled but inside paid period stays unlimited", func(t *testing.T) {
		repo := NewMockRepository()
		end := time.Now().Add(24 * time.Hour)
		acct := lapsedPro(100)
		acct.CurrentPeriodEnd = &end
		repo.AddAccount(acct)
		svc := newTestService(repo)

		require.NoError(t, svc.Consume(ctx, acct.ID))
		assert.Equal(t, account.TierPro, acct.Tier)
		assert.Equal(t, account.SubscriptionStatusCancelled, acct.SubscriptionStatus)
	})
}

func TestBalance(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()
	acct := newStarterAccount(2, 30)
	acct.TotalPurchasedCredits = 50
	repo.AddAccount(acct)
	svc := newTestService(repo)

	balance, err := svc.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, balance.FreeCreditsRemaining)
	assert.Equal(t, 30, balance.PurchasedCredits)
	assert.Equal(t, 50, balance.TotalPurchasedCredits)
	assert.False(t, balance.IsUnlimited)
}
