package provider

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned by providers for operations outside their
// capability set (e.g. subscriptions on a capture-only provider).
var ErrNotSupported = errors.New("operation not supported by provider")

// CheckoutSession is a provider-hosted payment page for a one-time
// credit pack purchase. The buyer is redirected to ApproveURL and comes
// back through the return callback.
type CheckoutSession struct {
	OrderID         string // our internal order ID
	ProviderOrderID string // provider's session/order ID
	ApproveURL      string // where to send the buyer
	Amount          int64  // cents
	Currency        string
}

// CaptureResult is the provider's answer to capturing a checkout session.
// CaptureID is the provider-unique transaction identifier used as the
// idempotency key for the credit grant.
type CaptureResult struct {
	CaptureID       string
	ProviderOrderID string
	OrderID         string
	Amount          int64
	Currency        string
	Completed       bool
}

// Subscription is the provider's view of a recurring subscription.
type Subscription struct {
	ID                 string
	Status             string
	CurrentPeriodStart int64 // unix seconds
	CurrentPeriodEnd   int64
	CancelAtPeriodEnd  bool
}

// SubscriptionCheckout is a provider-hosted page for starting a
// subscription.
type SubscriptionCheckout struct {
	ProviderSessionID string
	ApproveURL        string
}

// CheckoutParams describes a one-time purchase to create.
type CheckoutParams struct {
	OrderID     string // our internal order ID, round-tripped by the provider
	Amount      int64  // cents
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// SubscriptionParams describes a subscription checkout to create.
type SubscriptionParams struct {
	AccountID  string
	PriceID    string
	Email      string
	SuccessURL string
	CancelURL  string
}

// Provider is the payment-provider port. All amounts are integer cents;
// the provider adapters own the conversion to their wire formats.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// One-time purchases.
	CreateCheckout(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error)
	CaptureCheckout(ctx context.Context, providerOrderID string) (*CaptureResult, error)

	// Subscriptions. Providers without recurring billing return
	// ErrNotSupported.
	CreateSubscriptionCheckout(ctx context.Context, params *SubscriptionParams) (*SubscriptionCheckout, error)

	// SubscriptionFromCheckout resolves the subscription started by a
	// completed subscription checkout, plus the account reference that
	// was attached when the checkout was created.
	SubscriptionFromCheckout(ctx context.Context, providerSessionID string) (*Subscription, string, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error

	// VerifyWebhookSignature authenticates an async notification before
	// any of its content is trusted.
	VerifyWebhookSignature(payload []byte, signature string) error
}

// PeriodTimes converts the subscription's unix period bounds to times.
func (s *Subscription) PeriodTimes() (start, end *time.Time) {
	if s.CurrentPeriodStart > 0 {
		t := time.Unix(s.CurrentPeriodStart, 0).UTC()
		start = &t
	}
	if s.CurrentPeriodEnd > 0 {
		t := time.Unix(s.CurrentPeriodEnd, 0).UTC()
		end = &t
	}
	return start, end
}
