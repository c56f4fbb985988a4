package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/themeforge/server/internal/module/account"
	"github.com/themeforge/server/internal/module/billing"
)

// Service applies provider-reported subscription transitions exactly once.
// Both ingress channels (webhook and browser return) feed the same Apply
// with the same idempotency key space, so whichever arrives first wins and
// the other is absorbed silently.
type Service struct {
	repo   Repository
	guard  *billing.Guard
	sm     *StateMachine
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new subscription service.
func NewService(repo Repository, guard *billing.Guard, sm *StateMachine, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		guard:  guard,
		sm:     sm,
		logger: logger,
		now:    time.Now,
	}
}

// stateUpdateAttempts bounds the optimistic retry loop.
const stateUpdateAttempts = 3

// Apply reconciles one provider transition into account state. Returns
// applied=false (no error) when the transition was already handled.
func (s *Service) Apply(ctx context.Context, ev *Event) (bool, error) {
	if !ev.Type.Valid() {
		return false, fmt.Errorf("%w: %s", ErrUnknownEventType, ev.Type)
	}

	acct, err := s.resolveAccount(ctx, ev)
	if err != nil {
		return false, err
	}

	// An event for a superseded subscription must not clobber the current
	// binding; only a fresh activation may rebind.
	if acct.SubscriptionID != nil && *acct.SubscriptionID != ev.SubscriptionID && ev.Type != EventActivated {
		s.logger.Warn("ignoring event for superseded subscription",
			zap.String("account_id", acct.ID.String()),
			zap.String("subscription_id", ev.SubscriptionID),
			zap.String("event_type", string(ev.Type)),
		)
		return false, nil
	}

	key := billing.SubscriptionEventKey(ev.SubscriptionID, string(ev.Type))
	claimed, err := s.guard.Claim(ctx, key, "applied")
	if err != nil {
		return false, err
	}
	if !claimed {
		s.logger.Info("subscription event already processed",
			zap.String("effect_key", key.String()),
		)
		return false, nil
	}

	if err := s.applyWithRetry(ctx, acct, ev); err != nil {
		return false, err
	}

	// Metadata lands in a jsonb column; an absent snapshot must still be
	// valid JSON.
	meta := ev.Raw
	if meta == "" {
		meta = "{}"
	}
	audit := &SubscriptionEvent{
		AccountID:              acct.ID,
		EventType:              ev.Type,
		ExternalSubscriptionID: ev.SubscriptionID,
		Metadata:               meta,
	}
	if err := s.repo.CreateEvent(ctx, audit); err != nil {
		// Audit is write-only reporting; the transition itself landed.
		s.logger.Error("failed to append subscription audit event", zap.Error(err))
	}

	s.logger.Info("subscription event applied",
		zap.String("account_id", acct.ID.String()),
		zap.String("subscription_id", ev.SubscriptionID),
		zap.String("event_type", string(ev.Type)),
	)
	return true, nil
}

func (s *Service) resolveAccount(ctx context.Context, ev *Event) (*account.Account, error) {
	if ev.AccountID != uuid.Nil {
		return s.repo.GetAccountByID(ctx, ev.AccountID)
	}
	return s.repo.GetAccountBySubscriptionID(ctx, ev.SubscriptionID)
}

// applyWithRetry runs the state machine against a fresh read and writes it
// back compare-and-set, retrying when a concurrent transition interleaves.
func (s *Service) applyWithRetry(ctx context.Context, acct *account.Account, ev *Event) error {
	for attempt := 0; attempt < stateUpdateAttempts; attempt++ {
		prevStatus := acct.SubscriptionStatus
		prevSubID := acct.SubscriptionID

		next := *acct
		if err := s.sm.Apply(&next, ev, s.now()); err != nil {
			return err
		}

		ok, err := s.repo.UpdateSubscriptionState(ctx, &next, prevStatus, prevSubID)
		if err != nil {
			return err
		}
		if ok {
			*acct = next
			return nil
		}

		acct2, err := s.repo.GetAccountByID(ctx, acct.ID)
		if err != nil {
			return err
		}
		*acct = *acct2
	}
	return ErrUpdateConflict
}
