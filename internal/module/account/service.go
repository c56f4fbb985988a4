package account

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service implements account provisioning and lookup.
type Service struct {
	repo        Repository
	freeCredits int
	adminEmails map[string]struct{}
	logger      *zap.Logger
}

// NewService creates a new account service. adminEmails is the
// provisioning-time allowlist: it is a policy input, not a runtime global,
// so callers decide where it comes from (normally configuration).
func NewService(repo Repository, freeCredits int, adminEmails []string, logger *zap.Logger) *Service {
	allow := make(map[string]struct{}, len(adminEmails))
	for _, e := range adminEmails {
		allow[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return &Service{
		repo:        repo,
		freeCredits: freeCredits,
		adminEmails: allow,
		logger:      logger,
	}
}

// Provision returns the account for email, creating it on first
// authentication. The initial free credit grant happens exactly once here
// and is never replenished.
func (s *Service) Provision(ctx context.Context, email string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	acct, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	role := RoleUser
	if _, ok := s.adminEmails[email]; ok {
		role = RoleAdmin
	}

	acct = &Account{
		ID:                   uuid.New(),
		Email:                email,
		Role:                 role,
		Tier:                 TierFree,
		FreeCreditsRemaining: s.freeCredits,
		SubscriptionStatus:   SubscriptionStatusNone,
	}

	if err := s.repo.Create(ctx, acct); err != nil {
		// Two first-logins racing: the loser re-reads the winner's row.
		if errors.Is(err, ErrAccountExists) {
			return s.repo.GetByEmail(ctx, email)
		}
		return nil, err
	}

	s.logger.Info("account provisioned",
		zap.String("account_id", acct.ID.String()),
		zap.String("role", string(role)),
		zap.Int("free_credits", s.freeCredits),
	)

	return acct, nil
}

// Get returns an account by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.GetByID(ctx, id)
}

// IsAdmin reports whether the account holds the admin role.
func (s *Service) IsAdmin(ctx context.Context, id uuid.UUID) (bool, error) {
	acct, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return acct.IsAdmin(), nil
}
