package account

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockRepository implements Repository in memory with a unique email
// constraint.
type MockRepository struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*Account
}

func NewMockRepository() *MockRepository {
	return &MockRepository{accounts: make(map[uuid.UUID]*Account)}
}

func (m *MockRepository) Create(_ context.Context, acct *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Email == acct.Email {
			return ErrAccountExists
		}
	}
	m.accounts[acct.ID] = acct
	return nil
}

func (m *MockRepository) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

func (m *MockRepository) GetByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if acct.Email == email {
			return acct, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MockRepository) GetBySubscriptionID(_ context.Context, subscriptionID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if acct.SubscriptionID != nil && *acct.SubscriptionID == subscriptionID {
			return acct, nil
		}
	}
	return nil, ErrAccountNotFound
}

func TestProvision(t *testing.T) {
	ctx := context.Background()

	t.Run("first authentication creates the account with free credits", func(t *testing.T) {
		repo := NewMockRepository()
		svc := NewService(repo, 3, nil, zap.NewNop())

		acct, err := svc.Provision(ctx, "new@example.com")
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", acct.Email)
		assert.Equal(t, RoleUser, acct.Role)
		assert.Equal(t, TierFree, acct.Tier)
		assert.Equal(t, 3, acct.FreeCreditsRemaining)
		assert.Equal(t, SubscriptionStatusNone, acct.SubscriptionStatus)
	})

	t.Run("repeat authentication returns the existing account untouched", func(t *testing.T) {
		repo := NewMockRepository()
		svc := NewService(repo, 3, nil, zap.NewNop())

		first, err := svc.Provision(ctx, "new@example.com")
		require.NoError(t, err)
		first.FreeCreditsRemaining = 1

		again, err := svc.Provision(ctx, "new@example.com")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, 1, again.FreeCreditsRemaining)
	})

	t.Run("email is normalized before lookup", func(t *testing.T) {
		repo := NewMockRepository()
		svc := NewService(repo, 3, nil, zap.NewNop())

		first, err := svc.Provision(ctx, "User@Example.com")
		require.NoError(t, err)

		again, err := svc.Provision(ctx, "  user@example.com ")
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	})

	t.Run("allowlisted emails get the admin role", func(t *testing.T) {
		repo := NewMockRepository()
		svc := NewService(repo, 3, []string{"Ops@Example.com"}, zap.NewNop())

		acct, err := svc.Provision(ctx, "ops@example.com")
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, acct.Role)

		isAdmin, err := svc.IsAdmin(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, isAdmin)
	})

	t.Run("racing first logins converge on one account", func(t *testing.T) {
		repo := NewMockRepository()
		svc := NewService(repo, 3, nil, zap.NewNop())

		const racers = 8
		ids := make(chan uuid.UUID, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				acct, err := svc.Provision(ctx, "race@example.com")
				assert.NoError(t, err)
				ids <- acct.ID
			}()
		}
		wg.Wait()
		close(ids)

		first := uuid.Nil
		for id := range ids {
			if first == uuid.Nil {
				first = id
			}
			assert.Equal(t, first, id)
		}
		assert.Len(t, repo.accounts, 1)
	})
}
