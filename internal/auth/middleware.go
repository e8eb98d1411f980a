package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing session claims in context
	SessionContextKey contextKey = "session"
)

// Middleware validates bearer session tokens and injects claims into context
func Middleware(tv *TokenValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := tv.Validate(parts[1])
			if err != nil {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProfileFetcher loads the profile backing a session for role checks
type ProfileFetcher interface {
	GetByUserID(ctx context.Context, userID string) (*models.UserProfile, error)
}

// RequireRole enforces that the session's profile carries the given role.
// The role comes from the database, not the token, so a role change takes
// effect without waiting for token expiry.
func RequireRole(profiles ProfileFetcher, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetSessionFromContext(r)
			if claims == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			profile, err := profiles.GetByUserID(r.Context(), claims.UserID)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if profile.Role != role {
				http.Error(w, "forbidden: insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetSessionFromContext extracts session claims from request context
func GetSessionFromContext(r *http.Request) *SessionClaims {
	claims, ok := r.Context().Value(SessionContextKey).(*SessionClaims)
	if !ok {
		return nil
	}
	return claims
}
