package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// AccountIDKey is the context key for the account id.
	AccountIDKey = "account_id"
	// EmailKey is the context key for the email.
	EmailKey = "email"
)

// TokenVerifier resolves a bearer token to the account it authenticates.
// The middleware deliberately knows nothing about the token format; it only
// needs the identity the token proves.
type TokenVerifier interface {
	VerifyAccountToken(token string) (accountID uuid.UUID, email string, err error)
}

// RequireAuth returns a middleware that rejects requests without a valid
// bearer token. No state is touched on rejection.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Authorization header required",
				},
			})
			return
		}

		accountID, email, err := verifier.VerifyAccountToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "INVALID_TOKEN",
					"message": "Invalid or expired token",
				},
			})
			return
		}

		c.Set(AccountIDKey, accountID)
		c.Set(EmailKey, email)

		c.Next()
	}
}

// AccountIDFromContext returns the authenticated account id. Writes a 401
// response and returns false if the request was not authenticated.
func AccountIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(AccountIDKey)
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "UNAUTHORIZED",
				"message": "authentication required",
			},
		})
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    "UNAUTHORIZED",
				"message": "authentication required",
			},
		})
		return uuid.Nil, false
	}
	return id, true
}

// EmailFromContext returns the authenticated email, if any.
func EmailFromContext(c *gin.Context) (string, bool) {
	v, exists := c.Get(EmailKey)
	if !exists {
		return "", false
	}
	email, ok := v.(string)
	return email, ok
}

// extractBearerToken extracts the bearer token from the Authorization header.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader(AuthorizationHeader)
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(header, BearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(header, BearerPrefix)
}
