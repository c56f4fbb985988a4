package billing

import "errors"

var (
	// ErrInsufficientCredits indicates a consume attempt with no credits
	// left. Surfaced to callers as a denial, never retried.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrDuplicateEffect indicates the effect key was already claimed.
	// Callers treat it as "already handled", not as a failure.
	ErrDuplicateEffect = errors.New("effect already processed")
	// ErrInvalidGrantAmount indicates a non-positive grant amount.
	ErrInvalidGrantAmount = errors.New("invalid grant amount")
)
