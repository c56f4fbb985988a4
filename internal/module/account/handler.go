package account

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/themeforge/server/internal/utils/middleware"
)

// Handler exposes the account endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new account handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/me", h.GetMe)
}

// GetMe returns the caller's account.
func (h *Handler) GetMe(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return
	}

	acct, err := h.service.Get(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		h.logger.Error("failed to get account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get account"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                     acct.ID,
		"email":                  acct.Email,
		"role":                   acct.Role,
		"tier":                   acct.Tier,
		"free_credits_remaining": acct.FreeCreditsRemaining,
		"purchased_credits":      acct.PurchasedCredits,
		"subscription_status":    acct.SubscriptionStatus,
		"current_period_end":     acct.CurrentPeriodEnd,
		"cancel_at_period_end":   acct.CancelAtPeriodEnd,
		"created_at":             acct.CreatedAt,
	})
}
