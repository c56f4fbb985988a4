package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/themeforge/server/internal/module/account"
)

// Provisioner creates or fetches the account for an authenticated email.
type Provisioner interface {
	Provision(ctx context.Context, email string) (*account.Account, error)
}

// Handler exposes the token endpoint. Identity verification itself is
// delegated to the deployment's identity proxy; this endpoint exchanges
// a verified email for a signed API token and provisions the account on
// first sight.
type Handler struct {
	accounts Provisioner
	jwt      *JWTManager
	logger   *zap.Logger
}

// NewHandler creates a new auth handler.
func NewHandler(accounts Provisioner, jwt *JWTManager, logger *zap.Logger) *Handler {
	return &Handler{
		accounts: accounts,
		jwt:      jwt,
		logger:   logger,
	}
}

// RegisterRoutes registers the auth routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/token", h.IssueToken)
}

// IssueToken provisions the account if needed and returns a bearer token.
func (h *Handler) IssueToken(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acct, err := h.accounts.Provision(c.Request.Context(), req.Email)
	if err != nil {
		h.logger.Error("failed to provision account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to provision account"})
		return
	}

	token, expiresAt, err := h.jwt.GenerateToken(acct.ID, acct.Email)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"account_id": acct.ID,
	})
}
