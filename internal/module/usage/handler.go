package usage

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/themeforge/server/internal/utils/middleware"
)

// Handler exposes the usage rollup endpoints.
type Handler struct {
	recorder *Recorder
	logger   *zap.Logger
}

// NewHandler creates a new usage handler.
func NewHandler(recorder *Recorder, logger *zap.Logger) *Handler {
	return &Handler{recorder: recorder, logger: logger}
}

// RegisterRoutes registers the user-facing usage routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/usage/me", h.GetMyUsage)
}

// RegisterAdminRoutes registers the admin rollup routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/usage/system", h.GetSystemUsage)
	r.GET("/usage/top", h.GetTopAccounts)
}

// GetMyUsage returns the caller's aggregate for the current period.
func (h *Handler) GetMyUsage(c *gin.Context) {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return
	}

	rec, err := h.recorder.Current(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("failed to get usage", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get usage"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"prompt_count": 0, "input_tokens": 0, "output_tokens": 0})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"period_start":   rec.PeriodStart,
		"period_end":     rec.PeriodEnd,
		"prompt_count":   rec.PromptCount,
		"input_tokens":   rec.InputTokens,
		"output_tokens":  rec.OutputTokens,
		"last_prompt_at": rec.LastPromptAt,
	})
}

// GetSystemUsage returns the system-wide rollup for the current period.
func (h *Handler) GetSystemUsage(c *gin.Context) {
	out, err := h.recorder.System(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to get system usage", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get system usage"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetTopAccounts returns the heaviest accounts of the current period.
func (h *Handler) GetTopAccounts(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	rows, err := h.recorder.Top(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to get top accounts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get top accounts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": rows})
}
