package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// SessionClaims are the claims carried by provider-issued session tokens
type SessionClaims struct {
	UserID string `json:"sub_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenValidator verifies session tokens issued by the external identity
// provider. This subsystem never signs session tokens; it only validates
// them with the shared secret.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator creates a new TokenValidator
func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

// Validate parses and verifies a session token, returning its claims
func (tv *TokenValidator) Validate(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tv.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, models.ErrAuthentication
	}

	return claims, nil
}
