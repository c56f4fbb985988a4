package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/themeforge/server/internal/utils/metrics"
)

// breakerProvider wraps a Provider with a circuit breaker so a degraded
// payment provider fails fast instead of tying up request handlers. Only
// outbound API calls go through the breaker; signature verification is
// local and always runs.
type breakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker[any]
	metrics *metrics.Metrics
}

// WithBreaker wraps p with a circuit breaker and call metrics.
func WithBreaker(p Provider, m *metrics.Metrics) Provider {
	settings := gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Capability misses are answers, not provider failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotSupported)
		},
	}
	return &breakerProvider{
		inner:   p,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		metrics: m,
	}
}

func (b *breakerProvider) Name() string {
	return b.inner.Name()
}

func (b *breakerProvider) execute(op string, fn func() (any, error)) (any, error) {
	out, err := b.breaker.Execute(fn)
	status := "ok"
	if err != nil {
		status = "error"
	}
	b.metrics.ProviderCallsTotal.WithLabelValues(b.inner.Name(), op, status).Inc()
	return out, err
}

func (b *breakerProvider) CreateCheckout(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error) {
	out, err := b.execute("create_checkout", func() (any, error) {
		return b.inner.CreateCheckout(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	return out.(*CheckoutSession), nil
}

func (b *breakerProvider) CaptureCheckout(ctx context.Context, providerOrderID string) (*CaptureResult, error) {
	out, err := b.execute("capture_checkout", func() (any, error) {
		return b.inner.CaptureCheckout(ctx, providerOrderID)
	})
	if err != nil {
		return nil, err
	}
	return out.(*CaptureResult), nil
}

func (b *breakerProvider) CreateSubscriptionCheckout(ctx context.Context, params *SubscriptionParams) (*SubscriptionCheckout, error) {
	out, err := b.execute("create_subscription_checkout", func() (any, error) {
		return b.inner.CreateSubscriptionCheckout(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	return out.(*SubscriptionCheckout), nil
}

func (b *breakerProvider) SubscriptionFromCheckout(ctx context.Context, providerSessionID string) (*Subscription, string, error) {
	type pair struct {
		sub *Subscription
		ref string
	}
	out, err := b.execute("subscription_from_checkout", func() (any, error) {
		sub, ref, err := b.inner.SubscriptionFromCheckout(ctx, providerSessionID)
		if err != nil {
			return nil, err
		}
		return pair{sub: sub, ref: ref}, nil
	})
	if err != nil {
		return nil, "", err
	}
	p := out.(pair)
	return p.sub, p.ref, nil
}

func (b *breakerProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	out, err := b.execute("get_subscription", func() (any, error) {
		return b.inner.GetSubscription(ctx, subscriptionID)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Subscription), nil
}

func (b *breakerProvider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error {
	_, err := b.execute("cancel_subscription", func() (any, error) {
		return nil, b.inner.CancelSubscription(ctx, subscriptionID, immediately)
	})
	return err
}

func (b *breakerProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	return b.inner.VerifyWebhookSignature(payload, signature)
}
