package billing

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Guard claims effect keys so that an at-least-once, any-order, dual-source
// event stream mutates account state at most once per real-world event.
//
// Claim relies on the store's unique constraint on the effect key: exactly
// one caller observes claimed=true for a given key, whether the competitors
// arrive before, during, or after. The record is persisted synchronously
// before the caller mutates account state, so a crash between claim and
// mutation drops the event instead of duplicating it.
type Guard struct {
	repo   Repository
	logger *zap.Logger
}

// NewGuard creates a new idempotency guard.
func NewGuard(repo Repository, logger *zap.Logger) *Guard {
	return &Guard{repo: repo, logger: logger}
}

// Claim attempts to claim the effect key. claimed=false with a nil error
// means another caller already handled this event.
func (g *Guard) Claim(ctx context.Context, key EffectKey, outcome string) (bool, error) {
	tx := &ProcessedTransaction{
		TransactionID: key.TransactionID,
		EffectKind:    key.Kind,
		Outcome:       outcome,
	}

	err := g.repo.CreateProcessedTransaction(ctx, tx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrDuplicateEffect) {
		g.logger.Debug("effect already claimed",
			zap.String("effect_key", key.String()),
		)
		return false, nil
	}
	return false, err
}
