package payment

import "errors"

var (
	// ErrOrderNotFound indicates the purchase order does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrUnknownPack indicates the requested credit pack is not configured.
	ErrUnknownPack = errors.New("unknown credit pack")

	// ErrProviderNotFound indicates no provider is registered under the
	// requested name.
	ErrProviderNotFound = errors.New("payment provider not found")

	// ErrCaptureIncomplete indicates the provider reports the payment as
	// not settled yet.
	ErrCaptureIncomplete = errors.New("payment not completed at provider")

	// ErrNoSubscription indicates the account has no subscription bound.
	ErrNoSubscription = errors.New("no subscription on account")
)
