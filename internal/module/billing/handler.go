package billing

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/themeforge/server/internal/module/account"
	"github.com/themeforge/server/internal/utils/metrics"
	"github.com/themeforge/server/internal/utils/middleware"
)

// UsageRecorder records one usage event per successful generation.
type UsageRecorder interface {
	Record(ctx context.Context, accountID uuid.UUID, inputTokens, outputTokens int) error
}

// Handler exposes the ledger and admission endpoints.
type Handler struct {
	service *Service
	usage   UsageRecorder
	abuse   *AbuseMonitor
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new billing handler.
func NewHandler(service *Service, usage UsageRecorder, abuse *AbuseMonitor, m *metrics.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		usage:   usage,
		abuse:   abuse,
		metrics: m,
		logger:  logger,
	}
}

// RegisterRoutes registers the billing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/credits/balance", h.GetBalance)
	r.GET("/generations/allowance", h.GetAllowance)
	r.POST("/generations/consume", h.Consume)
}

// GetBalance returns the caller's credit balance.
func (h *Handler) GetBalance(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return
	}

	balance, err := h.service.Balance(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, balance)
}

// GetAllowance is the fast admission pre-check. Callers use it to avoid
// starting an expensive generation that would be denied; the debit itself
// happens in Consume.
func (h *Handler) GetAllowance(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return
	}

	decision, err := h.service.CanGenerate(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check allowance"})
		return
	}

	if !decision.Allowed {
		h.metrics.AdmissionDenials.Inc()
	}
	c.JSON(http.StatusOK, decision)
}

// Consume debits one credit for a completed generation and records usage.
// A denial is a business answer, not a server failure: it returns 402 with
// an upgrade prompt.
func (h *Handler) Consume(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		InputTokens  int `json:"input_tokens" binding:"min=0"`
		OutputTokens int `json:"output_tokens" binding:"min=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.service.Consume(ctx, accountID); err != nil {
		switch {
		case errors.Is(err, ErrInsufficientCredits):
			h.metrics.CreditConsumesTotal.WithLabelValues("denied").Inc()
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "insufficient credits",
				"upgrade": "purchase a credit pack or subscribe to pro for unlimited generations",
			})
		case errors.Is(err, account.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		default:
			h.metrics.CreditConsumesTotal.WithLabelValues("error").Inc()
			h.logger.Error("consume failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to consume credit"})
		}
		return
	}
	h.metrics.CreditConsumesTotal.WithLabelValues("ok").Inc()

	// Usage and abuse accounting are reporting concerns; their failure
	// never rolls back the debit.
	if err := h.usage.Record(ctx, accountID, req.InputTokens, req.OutputTokens); err != nil {
		h.logger.Error("failed to record usage", zap.Error(err))
	}
	h.abuse.Observe(ctx, accountID)

	c.JSON(http.StatusOK, gin.H{"status": "consumed"})
}
