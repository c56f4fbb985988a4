package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken indicates the token failed verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims represents JWT token claims.
type Claims struct {
	jwt.RegisteredClaims
	AccountID uuid.UUID `json:"account_id"`
	Email     string    `json:"email"`
}

// Config holds JWT configuration.
type Config struct {
	Secret      string
	TokenExpiry time.Duration
	Issuer      string
}

// JWTManager verifies the opaque bearer tokens issued by the identity
// layer and resolves them to an account id.
type JWTManager struct {
	config *Config
}

// NewJWTManager creates a new JWT manager.
func NewJWTManager(config *Config) *JWTManager {
	return &JWTManager{config: config}
}

// GenerateToken generates a signed token for the account.
func (m *JWTManager) GenerateToken(accountID uuid.UUID, email string) (string, time.Time, error) {
	expiresAt := time.Now().Add(m.config.TokenExpiry)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
		AccountID: accountID,
		Email:     email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyAccountToken resolves a token to the identity it authenticates.
// This is the verification surface the HTTP middleware consumes.
func (m *JWTManager) VerifyAccountToken(token string) (uuid.UUID, string, error) {
	claims, err := m.VerifyToken(token)
	if err != nil {
		return uuid.Nil, "", err
	}
	return claims.AccountID, claims.Email, nil
}

// VerifyToken verifies a token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AccountID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing account id", ErrInvalidToken)
	}
	return claims, nil
}
