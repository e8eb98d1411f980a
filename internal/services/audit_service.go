package services

import (
	"context"
	"log/slog"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// SecurityEventWriter defines the persistence interface for audit events
type SecurityEventWriter interface {
	Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)
}

// AuditService appends SecurityEvents with a dual-write pattern (slog +
// database). A persistence failure is reported through slog and swallowed:
// audit logging must never abort or roll back the primary operation it is
// recording.
type AuditService struct {
	repo   SecurityEventWriter
	logger *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo SecurityEventWriter, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// Record appends one security event. userID may be empty for events with no
// resolved identity (e.g. failed logins for unknown emails).
func (s *AuditService) Record(ctx context.Context, userID, eventType, sourceAddress, userAgent string, details models.EventDetails, riskLevel string) {
	if !models.ValidRiskLevel(riskLevel) {
		riskLevel = models.RiskMedium
	}

	event := &models.SecurityEvent{
		EventType:     eventType,
		SourceAddress: sourceAddress,
		UserAgent:     userAgent,
		Details:       details,
		RiskLevel:     riskLevel,
	}
	if userID != "" {
		event.UserID = &userID
	}

	level := slog.LevelInfo
	if riskLevel == models.RiskHigh || riskLevel == models.RiskCritical {
		level = slog.LevelWarn
	}
	s.logger.LogAttrs(ctx, level, "security event",
		slog.String("event_type", eventType),
		slog.String("risk_level", riskLevel),
		slog.String("user_id", userID),
		slog.String("source_address", sourceAddress),
	)

	if _, err := s.repo.Create(ctx, event); err != nil {
		// Secondary channel only; the caller's operation proceeds.
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", eventType),
			slog.String("risk_level", riskLevel),
			slog.Any("error", err),
		)
	}
}
