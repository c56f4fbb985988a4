package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/themeforge/server/internal/module/payment/provider"
	"github.com/themeforge/server/internal/utils/metrics"
)

// WebhookHandler handles async provider notifications. The webhook is one
// of two delivery channels for the same facts; every effect applied here
// is idempotent against the return-callback channel.
type WebhookHandler struct {
	service  *Service
	registry *ProviderRegistry
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(service *Service, registry *ProviderRegistry, m *metrics.Metrics, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:  service,
		registry: registry,
		metrics:  m,
		logger:   logger,
	}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook handles incoming Stripe webhook events. Once the
// signature verifies, the event is always acked: a non-2xx here only buys
// a redelivery storm of payloads that would fail the same way, and the
// idempotency guard absorbs redelivery anyway. Business failures are
// logged for out-of-band reconciliation.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	p, err := h.registry.Get("stripe")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provider unavailable"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if err := p.VerifyWebhookSignature(payload, signature); err != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues("stripe", "invalid_signature").Inc()
		h.logger.Warn("invalid webhook signature", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("failed to parse webhook event", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	ctx := c.Request.Context()

	var processErr error
	switch event.Type {
	case "checkout.session.completed":
		processErr = h.handleCheckoutCompleted(ctx, &event)
	case "customer.subscription.updated":
		processErr = h.handleSubscriptionChanged(ctx, &event)
	case "customer.subscription.deleted":
		processErr = h.handleSubscriptionDeleted(ctx, &event)
	default:
		h.logger.Debug("unhandled webhook event type", zap.String("type", string(event.Type)))
	}

	if processErr != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues("stripe", "error").Inc()
		h.logger.Error("failed to process webhook event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Error(processErr),
		)
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	h.metrics.WebhookEventsTotal.WithLabelValues("stripe", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	switch cs.Mode {
	case stripe.CheckoutSessionModePayment:
		_, granted, err := h.service.SettlePurchase(ctx, "stripe", cs.ID)
		if errors.Is(err, ErrCaptureIncomplete) {
			// completed event for an async payment method; the follow-up
			// event carries the settled state
			return nil
		}
		if err != nil {
			return err
		}
		if granted {
			h.metrics.CreditGrantsTotal.WithLabelValues("granted").Inc()
		} else {
			h.metrics.CreditGrantsTotal.WithLabelValues("duplicate").Inc()
			h.metrics.DuplicateEffectsTotal.WithLabelValues("credit-grant").Inc()
		}
		return nil

	case stripe.CheckoutSessionModeSubscription:
		accountID, err := uuid.Parse(cs.ClientReferenceID)
		if err != nil {
			return fmt.Errorf("checkout session %s has invalid account reference: %w", cs.ID, err)
		}
		if cs.Subscription == nil {
			return fmt.Errorf("checkout session %s has no subscription", cs.ID)
		}
		return h.service.SyncSubscription(ctx, accountID, cs.Subscription.ID)
	}
	return nil
}

func (h *WebhookHandler) handleSubscriptionChanged(ctx context.Context, event *stripe.Event) error {
	sub, err := unmarshalSubscription(event)
	if err != nil {
		return err
	}
	// Account resolution happens through the stored subscription binding.
	_, err = h.service.ApplySubscriptionState(ctx, uuid.Nil, sub)
	return err
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	sub, err := unmarshalSubscription(event)
	if err != nil {
		return err
	}
	sub.Status = "canceled"
	_, err = h.service.ApplySubscriptionState(ctx, uuid.Nil, sub)
	return err
}

func unmarshalSubscription(event *stripe.Event) (*provider.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscription: %w", err)
	}
	return &provider.Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}, nil
}
