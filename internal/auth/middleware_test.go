package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

type stubProfileFetcher struct {
	profile *models.UserProfile
	err     error
}

func (s *stubProfileFetcher) GetByUserID(_ context.Context, _ string) (*models.UserProfile, error) {
	return s.profile, s.err
}

func TestMiddleware_ValidTokenInjectsClaims(t *testing.T) {
	tv := NewTokenValidator(testSecret)
	signed := signTestToken(t, testSecret, &SessionClaims{
		UserID: "user1",
		Email:  "a@b.com",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	var seen *SessionClaims
	handler := Middleware(tv)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetSessionFromContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/profile", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user1", seen.UserID)
}

func TestMiddleware_MissingHeader(t *testing.T) {
	tv := NewTokenValidator(testSecret)
	handler := Middleware(tv)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest("GET", "/profile", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_MalformedHeader(t *testing.T) {
	tv := NewTokenValidator(testSecret)
	handler := Middleware(tv)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	for _, header := range []string{"Basic abc123", "Bearer", "bearer token"} {
		req := httptest.NewRequest("GET", "/profile", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}

func TestRequireRole_ChecksDatabaseRole(t *testing.T) {
	fetcher := &stubProfileFetcher{profile: &models.UserProfile{UserID: "user1", Role: models.RoleAdmin}}
	handler := RequireRole(fetcher, models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/admin/capabilities", nil)
	req = req.WithContext(context.WithValue(req.Context(), SessionContextKey, &SessionClaims{UserID: "user1"}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRole_RoleFromTokenIsIgnored(t *testing.T) {
	// The profile says job_seeker even though the token claims admin.
	fetcher := &stubProfileFetcher{profile: &models.UserProfile{UserID: "user1", Role: models.RoleJobSeeker}}
	handler := RequireRole(fetcher, models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest("GET", "/admin/capabilities", nil)
	req = req.WithContext(context.WithValue(req.Context(), SessionContextKey, &SessionClaims{UserID: "user1", Role: models.RoleAdmin}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRole_NoSession(t *testing.T) {
	fetcher := &stubProfileFetcher{err: models.ErrNotFound}
	handler := RequireRole(fetcher, models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest("GET", "/admin/capabilities", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
