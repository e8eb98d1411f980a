package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-session-token-secret"

func signTestToken(t *testing.T, secret string, claims *SessionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestTokenValidator_ValidToken(t *testing.T) {
	tv := NewTokenValidator(testSecret)

	signed := signTestToken(t, testSecret, &SessionClaims{
		UserID: "user1",
		Email:  "a@b.com",
		Role:   "job_seeker",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})

	claims, err := tv.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "user1", claims.UserID)
	assert.Equal(t, "a@b.com", claims.Email)
}

func TestTokenValidator_WrongSecret(t *testing.T) {
	tv := NewTokenValidator(testSecret)

	signed := signTestToken(t, "some-other-secret", &SessionClaims{
		UserID: "user1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := tv.Validate(signed)
	assert.Error(t, err)
}

func TestTokenValidator_ExpiredToken(t *testing.T) {
	tv := NewTokenValidator(testSecret)

	signed := signTestToken(t, testSecret, &SessionClaims{
		UserID: "user1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	_, err := tv.Validate(signed)
	assert.Error(t, err)
}

func TestTokenValidator_MissingSubjectRejected(t *testing.T) {
	tv := NewTokenValidator(testSecret)

	signed := signTestToken(t, testSecret, &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := tv.Validate(signed)
	assert.Error(t, err)
}

func TestTokenValidator_GarbageInput(t *testing.T) {
	tv := NewTokenValidator(testSecret)

	_, err := tv.Validate("not.a.token")
	assert.Error(t, err)
}
