package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

func newLimiterWithStore(store RateLimitStore) *RateLimitService {
	return NewRateLimitService(store, RateLimitConfig{
		WindowSize: 15 * time.Minute,
		Policies:   DefaultPolicies(5, 3, 3, 5, 3, 30),
	}, slog.Default())
}

func TestRateLimitService_AllowsUnderThreshold(t *testing.T) {
	svc := newTestLimiter(1)

	decision, err := svc.CheckAndConsume(context.Background(), "a@b.com", models.ActionLogin, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRateLimitService_DeniesOverThreshold(t *testing.T) {
	windowStart := time.Now().Add(-5 * time.Minute)
	store := &MockRateLimitStore{
		IncrementWindowFunc: func(ctx context.Context, identity, action, sourceAddress string, windowSize time.Duration) (*models.RateLimitWindow, error) {
			return &models.RateLimitWindow{Count: 6, WindowStart: windowStart}, nil
		},
	}
	svc := newLimiterWithStore(store)

	decision, err := svc.CheckAndConsume(context.Background(), "a@b.com", models.ActionLogin, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, windowStart.Add(15*time.Minute), decision.ResetAt)
}

func TestRateLimitService_ExactThresholdStillAllowed(t *testing.T) {
	// The Nth attempt of N is allowed; the N+1st is denied.
	store := &MockRateLimitStore{
		IncrementWindowFunc: func(ctx context.Context, identity, action, sourceAddress string, windowSize time.Duration) (*models.RateLimitWindow, error) {
			return &models.RateLimitWindow{Count: 5, WindowStart: time.Now()}, nil
		},
	}
	svc := newLimiterWithStore(store)

	decision, err := svc.CheckAndConsume(context.Background(), "a@b.com", models.ActionLogin, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRateLimitService_FailsClosedOnStoreError(t *testing.T) {
	store := &MockRateLimitStore{
		IncrementWindowFunc: func(ctx context.Context, identity, action, sourceAddress string, windowSize time.Duration) (*models.RateLimitWindow, error) {
			return nil, models.ErrPersistence
		},
	}
	svc := newLimiterWithStore(store)

	decision, err := svc.CheckAndConsume(context.Background(), "a@b.com", models.ActionLogin, "1.2.3.4")
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.False(t, decision.Allowed)
}

func TestRateLimitService_FailsOpenForPIIDecrypt(t *testing.T) {
	store := &MockRateLimitStore{
		IncrementWindowFunc: func(ctx context.Context, identity, action, sourceAddress string, windowSize time.Duration) (*models.RateLimitWindow, error) {
			return nil, models.ErrPersistence
		},
	}
	svc := newLimiterWithStore(store)

	decision, err := svc.CheckAndConsume(context.Background(), "user1", models.ActionPIIDecrypt, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRateLimitService_UnknownActionDenied(t *testing.T) {
	svc := newTestLimiter(1)

	decision, err := svc.CheckAndConsume(context.Background(), "a@b.com", "no_such_action", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}
