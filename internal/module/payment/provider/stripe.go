package provider

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/subscription"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// StripeProvider implements the Provider interface for Stripe using
// hosted Checkout. Stripe reports completions on both channels: the
// signed webhook and the buyer's return redirect.
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider creates a new Stripe provider.
func NewStripeProvider(config *StripeConfig) *StripeProvider {
	stripe.Key = config.APIKey
	return &StripeProvider{
		webhookSecret: config.WebhookSecret,
	}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(params.OrderID),
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(params.Currency),
					UnitAmount: stripe.Int64(params.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(params.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	for k, v := range params.Metadata {
		sessionParams.AddMetadata(k, v)
	}

	s, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &CheckoutSession{
		OrderID:         params.OrderID,
		ProviderOrderID: s.ID,
		ApproveURL:      s.URL,
		Amount:          s.AmountTotal,
		Currency:        string(s.Currency),
	}, nil
}

// CaptureCheckout reads the session back from Stripe. Checkout captures
// on completion, so this is a settlement check, not a charge. The
// payment intent ID is the provider-unique transaction identifier.
func (p *StripeProvider) CaptureCheckout(ctx context.Context, providerOrderID string) (*CaptureResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("payment_intent")

	s, err := session.Get(providerOrderID, params)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}

	result := &CaptureResult{
		ProviderOrderID: s.ID,
		OrderID:         s.ClientReferenceID,
		Amount:          s.AmountTotal,
		Currency:        string(s.Currency),
		Completed:       s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if s.PaymentIntent != nil {
		result.CaptureID = s.PaymentIntent.ID
	}
	return result, nil
}

func (p *StripeProvider) CreateSubscriptionCheckout(ctx context.Context, params *SubscriptionParams) (*SubscriptionCheckout, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(params.AccountID),
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if params.Email != "" {
		sessionParams.CustomerEmail = stripe.String(params.Email)
	}

	s, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("create subscription checkout: %w", err)
	}

	return &SubscriptionCheckout{
		ProviderSessionID: s.ID,
		ApproveURL:        s.URL,
	}, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return mapStripeSubscription(sub), nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error {
	if immediately {
		_, err := subscription.Cancel(subscriptionID, nil)
		return err
	}
	_, err := subscription.Update(subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	return err
}

func (p *StripeProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	_, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	return err
}

// SubscriptionFromCheckout resolves the subscription started by a
// completed subscription-mode checkout. Used by the return-callback path.
func (p *StripeProvider) SubscriptionFromCheckout(ctx context.Context, sessionID string) (*Subscription, string, error) {
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("subscription")

	s, err := session.Get(sessionID, params)
	if err != nil {
		return nil, "", fmt.Errorf("get checkout session: %w", err)
	}
	if s.Subscription == nil {
		return nil, s.ClientReferenceID, fmt.Errorf("checkout session %s has no subscription", sessionID)
	}
	return mapStripeSubscription(s.Subscription), s.ClientReferenceID, nil
}

func mapStripeSubscription(sub *stripe.Subscription) *Subscription {
	return &Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
}
