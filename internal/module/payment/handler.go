package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/themeforge/server/internal/utils/metrics"
	"github.com/themeforge/server/internal/utils/middleware"
)

// Handler exposes checkout and subscription management endpoints, plus
// the public browser return callbacks.
type Handler struct {
	service *Service
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		metrics: m,
		logger:  logger,
	}
}

// RegisterRoutes registers the authenticated payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payments/packs", h.ListPacks)
	r.POST("/payments/orders", h.CreateOrder)
	r.GET("/payments/orders", h.ListOrders)
	r.POST("/payments/subscription", h.StartSubscription)
	r.DELETE("/payments/subscription", h.CancelSubscription)
}

// RegisterCallbackRoutes registers the unauthenticated browser return
// callbacks. The caller proves nothing; every fact is re-read from the
// provider before any effect is applied.
func (h *Handler) RegisterCallbackRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:provider/return", h.HandleReturn)
	r.GET("/payments/:provider/subscription/return", h.HandleSubscriptionReturn)
}

// ListPacks returns the purchasable credit packs.
func (h *Handler) ListPacks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packs": h.service.Packs()})
}

// CreateOrder starts a credit pack checkout.
func (h *Handler) CreateOrder(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Provider string `json:"provider" binding:"required"`
		Pack     string `json:"pack" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, approveURL, err := h.service.CreateOrder(c.Request.Context(), accountID, req.Provider, req.Pack)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownPack), errors.Is(err, ErrProviderNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("failed to create order", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id":    order.ID,
		"approve_url": approveURL,
	})
}

// ListOrders returns the caller's recent purchase orders.
func (h *Handler) ListOrders(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return
	}

	orders, err := h.service.Orders(c.Request.Context(), accountID, 50)
	if err != nil {
		h.logger.Error("failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// StartSubscription starts a pro subscription checkout.
func (h *Handler) StartSubscription(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Provider string `json:"provider" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	approveURL, err := h.service.StartSubscription(c.Request.Context(), accountID, req.Provider)
	if err != nil {
		switch {
		case errors.Is(err, ErrProviderNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("failed to start subscription", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start subscription"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"approve_url": approveURL})
}

// CancelSubscription requests cancel-at-period-end. Entitlement persists
// until the paid period lapses.
func (h *Handler) CancelSubscription(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return
	}

	if err := h.service.CancelSubscription(c.Request.Context(), accountID); err != nil {
		switch {
		case errors.Is(err, ErrNoSubscription):
			c.JSON(http.StatusConflict, gin.H{"error": "no active subscription"})
		default:
			h.logger.Error("failed to cancel subscription", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel subscription"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancellation scheduled"})
}

// HandleReturn settles a purchase from the buyer's return redirect.
// Stripe round-trips the session id; PayPal calls it token.
func (h *Handler) HandleReturn(c *gin.Context) {
	providerName := c.Param("provider")
	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = c.Query("token")
	}
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session reference"})
		return
	}

	order, granted, err := h.service.SettlePurchase(c.Request.Context(), providerName, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, ErrCaptureIncomplete):
			h.metrics.CallbackEventsTotal.WithLabelValues(providerName, "incomplete").Inc()
			c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
		case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrProviderNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		default:
			h.metrics.CallbackEventsTotal.WithLabelValues(providerName, "error").Inc()
			h.logger.Error("failed to settle purchase", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to settle purchase"})
		}
		return
	}

	if granted {
		h.metrics.CreditGrantsTotal.WithLabelValues("granted").Inc()
	} else {
		h.metrics.CreditGrantsTotal.WithLabelValues("duplicate").Inc()
		h.metrics.DuplicateEffectsTotal.WithLabelValues("credit-grant").Inc()
	}
	h.metrics.CallbackEventsTotal.WithLabelValues(providerName, "ok").Inc()
	c.JSON(http.StatusOK, gin.H{
		"status":   "completed",
		"order_id": order.ID,
		"credits":  order.Credits,
		"granted":  granted,
	})
}

// HandleSubscriptionReturn settles a subscription checkout from the
// buyer's return redirect.
func (h *Handler) HandleSubscriptionReturn(c *gin.Context) {
	providerName := c.Param("provider")
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session reference"})
		return
	}

	applied, err := h.service.HandleSubscriptionReturn(c.Request.Context(), providerName, sessionID)
	if err != nil {
		h.metrics.CallbackEventsTotal.WithLabelValues(providerName, "error").Inc()
		h.logger.Error("failed to settle subscription return", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to settle subscription"})
		return
	}

	h.metrics.CallbackEventsTotal.WithLabelValues(providerName, "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"status": "active", "applied": applied})
}
