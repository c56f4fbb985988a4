package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/paypal"
)

// PayPalConfig holds PayPal configuration.
type PayPalConfig struct {
	ClientID string
	Secret   string
	IsProd   bool
}

// PayPalProvider implements the Provider interface for PayPal orders.
// PayPal only confirms through the buyer's return redirect in this
// integration, so capture happens on the return callback. Recurring
// billing requires PayPal's separate billing-agreement flow and is not
// supported here.
type PayPalProvider struct {
	client *paypal.Client
}

// NewPayPalProvider creates a new PayPal provider.
func NewPayPalProvider(config *PayPalConfig) (*PayPalProvider, error) {
	client, err := paypal.NewClient(config.ClientID, config.Secret, config.IsProd)
	if err != nil {
		return nil, fmt.Errorf("create paypal client: %w", err)
	}
	return &PayPalProvider{client: client}, nil
}

// Name returns the provider name.
func (p *PayPalProvider) Name() string {
	return "paypal"
}

func (p *PayPalProvider) CreateCheckout(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error) {
	bm := make(gopay.BodyMap)
	bm.Set("intent", "CAPTURE").
		Set("purchase_units", []map[string]interface{}{
			{
				"reference_id": params.OrderID,
				"custom_id":    params.OrderID,
				"description":  params.Description,
				"amount": map[string]interface{}{
					"currency_code": params.Currency,
					"value":         centsToDecimal(params.Amount),
				},
			},
		}).
		Set("application_context", map[string]interface{}{
			"return_url": params.SuccessURL,
			"cancel_url": params.CancelURL,
		})

	ppRsp, err := p.client.CreateOrder(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("paypal create order: %w", err)
	}
	if ppRsp.Code != paypal.Success {
		return nil, fmt.Errorf("paypal create order failed: %s", ppRsp.Error)
	}

	approveURL := ""
	for _, link := range ppRsp.Response.Links {
		if link.Rel == "approve" {
			approveURL = link.Href
			break
		}
	}
	if approveURL == "" {
		return nil, fmt.Errorf("paypal order %s has no approve link", ppRsp.Response.Id)
	}

	return &CheckoutSession{
		OrderID:         params.OrderID,
		ProviderOrderID: ppRsp.Response.Id,
		ApproveURL:      approveURL,
		Amount:          params.Amount,
		Currency:        params.Currency,
	}, nil
}

// CaptureCheckout captures an approved PayPal order. The order ID is the
// provider-unique transaction identifier for the grant, so a repeat capture
// (the buyer refreshing the return URL) resolves to the same effect key.
func (p *PayPalProvider) CaptureCheckout(ctx context.Context, providerOrderID string) (*CaptureResult, error) {
	ppRsp, err := p.client.OrderCapture(ctx, providerOrderID, nil)
	if err != nil {
		return nil, fmt.Errorf("paypal capture order: %w", err)
	}
	status := ""
	if ppRsp.Code == paypal.Success {
		status = ppRsp.Response.Status
	}
	return paypalCaptureResult(ppRsp.Code, ppRsp.Error, providerOrderID, status)
}

// paypalCaptureResult maps a capture response onto the provider port.
// PayPal rejects a second capture of a settled order; that answer confirms
// the money moved, so it reports Completed rather than an error.
func paypalCaptureResult(code int, errBody, orderID, status string) (*CaptureResult, error) {
	if code != paypal.Success {
		if strings.Contains(errBody, "ORDER_ALREADY_CAPTURED") {
			return &CaptureResult{
				CaptureID:       orderID,
				ProviderOrderID: orderID,
				Completed:       true,
			}, nil
		}
		return nil, fmt.Errorf("paypal capture failed: %s", errBody)
	}
	return &CaptureResult{
		CaptureID:       orderID,
		ProviderOrderID: orderID,
		Completed:       status == "COMPLETED",
	}, nil
}

// --- Subscriptions (not supported for PayPal in this integration) ---

func (p *PayPalProvider) CreateSubscriptionCheckout(ctx context.Context, params *SubscriptionParams) (*SubscriptionCheckout, error) {
	return nil, fmt.Errorf("paypal subscriptions: %w", ErrNotSupported)
}

func (p *PayPalProvider) SubscriptionFromCheckout(ctx context.Context, providerSessionID string) (*Subscription, string, error) {
	return nil, "", fmt.Errorf("paypal subscriptions: %w", ErrNotSupported)
}

func (p *PayPalProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return nil, fmt.Errorf("paypal subscriptions: %w", ErrNotSupported)
}

func (p *PayPalProvider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) error {
	return fmt.Errorf("paypal subscriptions: %w", ErrNotSupported)
}

// VerifyWebhookSignature is a no-op: this integration confirms PayPal
// orders synchronously on capture, not through async notifications.
func (p *PayPalProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	return nil
}

func centsToDecimal(cents int64) string {
	return strconv.FormatInt(cents/100, 10) + "." + fmt.Sprintf("%02d", cents%100)
}
