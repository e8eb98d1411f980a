package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// RateLimitStore defines the persistence interface for window counters
type RateLimitStore interface {
	IncrementWindow(ctx context.Context, identity, action, sourceAddress string, windowSize time.Duration) (*models.RateLimitWindow, error)
}

// RateLimitPolicy holds the threshold for one action and whether the limiter
// fails open when the store is unreachable. Authentication-sensitive actions
// fail closed; only low-risk read actions fail open.
type RateLimitPolicy struct {
	MaxAttempts int
	FailOpen    bool
}

// RateLimitConfig holds per-action policies and the shared window size
type RateLimitConfig struct {
	WindowSize time.Duration
	Policies   map[string]RateLimitPolicy
}

// DefaultPolicies builds the per-action policy table from configured limits.
// Only the PII-decrypt read path fails open on store errors: blocking a
// user's own profile on a counter outage is worse than briefly uncounted
// reads. Every authentication action fails closed.
func DefaultPolicies(maxLogin, maxRegister, maxOTPRequest, maxOTPVerify, maxPasswordReset, maxPIIDecrypt int) map[string]RateLimitPolicy {
	return map[string]RateLimitPolicy{
		models.ActionLogin:         {MaxAttempts: maxLogin},
		models.ActionRegister:      {MaxAttempts: maxRegister},
		models.ActionOTPRequest:    {MaxAttempts: maxOTPRequest},
		models.ActionOTPVerify:     {MaxAttempts: maxOTPVerify},
		models.ActionPasswordReset: {MaxAttempts: maxPasswordReset},
		models.ActionPIIDecrypt:    {MaxAttempts: maxPIIDecrypt, FailOpen: true},
	}
}

// RateLimitService implements sliding-window abuse control keyed by
// (identity, action, source address). Counters are incremented atomically at
// the persistence layer. The limiter runs before any existence check so its
// timing does not reveal whether an identity exists.
type RateLimitService struct {
	store  RateLimitStore
	config RateLimitConfig
	logger *slog.Logger
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(store RateLimitStore, config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		store:  store,
		config: config,
		logger: logger,
	}
}

// CheckAndConsume counts this attempt and decides whether it may proceed.
// When the decision is deny, ResetAt carries the end of the current window.
func (s *RateLimitService) CheckAndConsume(ctx context.Context, identity, action, sourceAddress string) (*models.RateLimitDecision, error) {
	policy, ok := s.config.Policies[action]
	if !ok {
		s.logger.Warn("rate limit check for unknown action, denying", slog.String("action", action))
		return &models.RateLimitDecision{Allowed: false, ResetAt: time.Now().Add(s.config.WindowSize)}, nil
	}

	window, err := s.store.IncrementWindow(ctx, identity, action, sourceAddress, s.config.WindowSize)
	if err != nil {
		s.logger.Error("rate limit store unavailable",
			slog.String("action", action),
			slog.Any("error", err))

		if policy.FailOpen {
			return &models.RateLimitDecision{Allowed: true}, nil
		}
		// Fail closed for authentication-sensitive actions.
		return &models.RateLimitDecision{Allowed: false, ResetAt: time.Now().Add(s.config.WindowSize)}, models.ErrPersistence
	}

	if window.Count > policy.MaxAttempts {
		resetAt := window.WindowStart.Add(s.config.WindowSize)
		s.logger.Warn("rate limit exceeded",
			slog.String("action", action),
			slog.Int("count", window.Count),
			slog.Time("reset_at", resetAt))
		return &models.RateLimitDecision{Allowed: false, ResetAt: resetAt}, nil
	}

	return &models.RateLimitDecision{Allowed: true}, nil
}
