package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/repositories"
)

// CleanupManager periodically removes expired OTP codes and stale rate-limit
// windows. Expired codes are already unusable through the atomic consume;
// this only bounds table growth.
type CleanupManager struct {
	otpRepo  *repositories.OTPRepository
	rateRepo *repositories.RateLimitRepository
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	otpRepo *repositories.OTPRepository,
	rateRepo *repositories.RateLimitRepository,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		otpRepo:  otpRepo,
		rateRepo: rateRepo,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	codes, err := cm.otpRepo.CleanupExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup expired otp codes", slog.Any("error", err))
	} else if codes > 0 {
		cm.logger.Info("expired otp cleanup completed", slog.Int64("rows_deleted", codes))
	}

	windows, err := cm.rateRepo.CleanupStale(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to cleanup stale rate limit windows", slog.Any("error", err))
	} else if windows > 0 {
		cm.logger.Info("stale window cleanup completed", slog.Int64("rows_deleted", windows))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
