package billing

import (
	"context"

	"github.com/google/uuid"
)

// Admission reasons returned on denial.
const (
	ReasonNoCredits = "no credits remaining"
)

// CanGenerate is the read-only admission pre-check. It lets callers
// short-circuit expensive upstream work before committing to a debit; it is
// not the atomic gate, Consume is. A caller that passes the pre-check can
// still lose the last credit to a concurrent request and see Consume fail.
func (s *Service) CanGenerate(ctx context.Context, accountID uuid.UUID) (*Decision, error) {
	acct, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.demoteIfLapsed(ctx, acct, now)

	if acct.IsUnlimited(now) {
		return &Decision{Allowed: true}, nil
	}
	if acct.FreeCreditsRemaining+acct.PurchasedCredits > 0 {
		return &Decision{Allowed: true}, nil
	}
	return &Decision{Allowed: false, Reason: ReasonNoCredits}, nil
}
