package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/themeforge/server/internal/module/account"
)

// Service implements the credit ledger and admission control. All balance
// mutations go through single guarded statements in the repository; grants
// are additionally deduplicated by the idempotency guard.
type Service struct {
	repo   Repository
	guard  *Guard
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new billing service.
func NewService(repo Repository, guard *Guard, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		guard:  guard,
		logger: logger,
		now:    time.Now,
	}
}

// GrantPurchased credits a one-time purchase exactly once. Both ingress
// paths (webhook and return-callback) call this identically with the same
// transaction id; whichever claims the key first applies the grant, the
// other returns added=false with no error.
func (s *Service) GrantPurchased(ctx context.Context, accountID uuid.UUID, amount int, transactionID string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidGrantAmount
	}

	key := CreditGrantKey(transactionID)
	claimed, err := s.guard.Claim(ctx, key, "granted")
	if err != nil {
		return false, err
	}
	if !claimed {
		s.logger.Info("credit grant already processed",
			zap.String("account_id", accountID.String()),
			zap.String("effect_key", key.String()),
		)
		return false, nil
	}

	if err := s.repo.GrantPurchased(ctx, accountID, amount); err != nil {
		// The claim row exists but the grant did not land. Retrying would
		// degrade to a duplicate, so this is only recoverable by
		// reconciling against the provider's transaction history.
		s.logger.Error("grant failed after claim, needs out-of-band reconciliation",
			zap.String("account_id", accountID.String()),
			zap.String("effect_key", key.String()),
			zap.Error(err),
		)
		return false, err
	}

	s.logger.Info("purchased credits granted",
		zap.String("account_id", accountID.String()),
		zap.Int("amount", amount),
		zap.String("effect_key", key.String()),
	)
	return true, nil
}

// Consume atomically checks and decrements one credit. Pro accounts with a
// live subscription are unlimited and never debited. Free credits drain
// before purchased ones. Two concurrent calls never both succeed on the
// last credit: the decrement is guarded in the store.
func (s *Service) Consume(ctx context.Context, accountID uuid.UUID) error {
	acct, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	now := s.now()
	if acct.IsUnlimited(now) {
		return nil
	}
	s.demoteIfLapsed(ctx, acct, now)

	ok, err := s.repo.ConsumeFreeCredit(ctx, accountID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	ok, err = s.repo.ConsumePurchasedCredit(ctx, accountID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	return ErrInsufficientCredits
}

// Balance returns the account's current credit position.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	acct, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &Balance{
		FreeCreditsRemaining:  acct.FreeCreditsRemaining,
		PurchasedCredits:      acct.PurchasedCredits,
		TotalPurchasedCredits: acct.TotalPurchasedCredits,
		IsUnlimited:           acct.IsUnlimited(s.now()),
	}, nil
}

// demoteIfLapsed applies the lazy downgrade for cancel-at-period-end
// subscriptions whose paid period has passed. No scheduler exists; the next
// admission or consume call observes the lapse. Best effort: a failed
// demotion only delays the downgrade until the next call.
func (s *Service) demoteIfLapsed(ctx context.Context, acct *account.Account, now time.Time) {
	if !acct.SubscriptionLapsed(now) {
		return
	}
	demoted, err := s.repo.DemoteLapsed(ctx, acct.ID, acct.BaseTier(), now)
	if err != nil {
		s.logger.Error("failed to demote lapsed subscription",
			zap.String("account_id", acct.ID.String()),
			zap.Error(err),
		)
		return
	}
	if demoted {
		acct.Tier = acct.BaseTier()
		acct.SubscriptionStatus = account.SubscriptionStatusExpired
		s.logger.Info("lapsed subscription demoted",
			zap.String("account_id", acct.ID.String()),
			zap.String("tier", string(acct.Tier)),
		)
	}
}
