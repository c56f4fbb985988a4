package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RoleChecker resolves whether an account holds the admin role.
type RoleChecker interface {
	IsAdmin(ctx context.Context, accountID uuid.UUID) (bool, error)
}

// RequireAdmin returns a middleware that rejects non-admin accounts.
// It must run after RequireAuth.
func RequireAdmin(roles RoleChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := AccountIDFromContext(c)
		if !ok {
			return
		}

		isAdmin, err := roles.IsAdmin(c.Request.Context(), accountID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{"code": "INTERNAL", "message": "failed to resolve role"},
			})
			return
		}
		if !isAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{"code": "FORBIDDEN", "message": "admin access required"},
			})
			return
		}

		c.Next()
	}
}
