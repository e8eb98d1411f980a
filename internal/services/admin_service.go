package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// CapabilityStore defines the persistence interface for admin permission sets
type CapabilityStore interface {
	GetCapabilities(ctx context.Context, adminID string) (*models.AdminCapabilitySet, error)
}

// SecurityEventReader defines the read side of the audit trail used by
// capability-gated admin views
type SecurityEventReader interface {
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error)
	ListByRiskLevel(ctx context.Context, riskLevel string, since time.Time, limit int) ([]*models.SecurityEvent, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error)
}

// AdminService gates administrative operations behind capability checks.
// Every check is itself audited, grant and denial alike, so misuse attempts
// leave a trail. A failed check is terminal: no gated operation runs
// partially after a denial.
type AdminService struct {
	capabilities CapabilityStore
	events       SecurityEventReader
	pii          *PIIService
	audit        *AuditService
	logger       *slog.Logger
}

// NewAdminService creates a new AdminService
func NewAdminService(capabilities CapabilityStore, events SecurityEventReader, pii *PIIService, audit *AuditService, logger *slog.Logger) *AdminService {
	return &AdminService{
		capabilities: capabilities,
		events:       events,
		pii:          pii,
		audit:        audit,
		logger:       logger,
	}
}

// CheckPermission resolves whether an admin holds one capability. Unknown
// admin ids resolve to denied, not to an error the caller could distinguish.
func (s *AdminService) CheckPermission(ctx context.Context, adminID string, cap models.Capability, meta RequestMeta) (bool, error) {
	set, err := s.capabilities.GetCapabilities(ctx, adminID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.audit.Record(ctx, adminID, models.EventAdminPermissionCheck, meta.SourceAddress, meta.UserAgent,
				models.EventDetails{"capability": string(cap), "granted": false, "reason": "not_admin"}, models.RiskMedium)
			return false, nil
		}
		return false, fmt.Errorf("failed to load capabilities: %w", err)
	}

	granted := set.Has(cap)

	risk := models.RiskLow
	if !granted {
		risk = models.RiskMedium
	}
	s.audit.Record(ctx, adminID, models.EventAdminPermissionCheck, meta.SourceAddress, meta.UserAgent,
		models.EventDetails{"capability": string(cap), "granted": granted}, risk)

	return granted, nil
}

// requireCapability is the shared gate for the admin operations below
func (s *AdminService) requireCapability(ctx context.Context, adminID string, cap models.Capability, meta RequestMeta) error {
	granted, err := s.CheckPermission(ctx, adminID, cap, meta)
	if err != nil {
		return err
	}
	if !granted {
		return models.ErrPermissionDenied
	}
	return nil
}

// Capabilities returns the granted capability list for one admin
func (s *AdminService) Capabilities(ctx context.Context, adminID string) ([]models.Capability, error) {
	set, err := s.capabilities.GetCapabilities(ctx, adminID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return []models.Capability{}, nil
		}
		return nil, fmt.Errorf("failed to load capabilities: %w", err)
	}
	return set.Granted(), nil
}

// ListAuditEvents returns recent audit events, gated on view_audit_logs
func (s *AdminService) ListAuditEvents(ctx context.Context, adminID string, limit, offset int, meta RequestMeta) ([]*models.SecurityEvent, error) {
	if err := s.requireCapability(ctx, adminID, models.CapViewAuditLogs, meta); err != nil {
		return nil, err
	}
	return s.events.ListRecent(ctx, limit, offset)
}

// ListUserAuditEvents returns one user's audit trail, gated on view_audit_logs
func (s *AdminService) ListUserAuditEvents(ctx context.Context, adminID, userID string, limit, offset int, meta RequestMeta) ([]*models.SecurityEvent, error) {
	if err := s.requireCapability(ctx, adminID, models.CapViewAuditLogs, meta); err != nil {
		return nil, err
	}
	return s.events.ListByUser(ctx, userID, limit, offset)
}

// ListHighRiskEvents returns recent events at one risk level, gated on
// view_audit_logs
func (s *AdminService) ListHighRiskEvents(ctx context.Context, adminID, riskLevel string, since time.Time, limit int, meta RequestMeta) ([]*models.SecurityEvent, error) {
	if !models.ValidRiskLevel(riskLevel) {
		return nil, models.ErrValidation
	}
	if err := s.requireCapability(ctx, adminID, models.CapViewAuditLogs, meta); err != nil {
		return nil, err
	}
	return s.events.ListByRiskLevel(ctx, riskLevel, since, limit)
}

// RotatePIIKey advances the encryption key version, gated on manage_system.
// A concurrent rotation losing the compare-and-swap surfaces as ErrConflict.
func (s *AdminService) RotatePIIKey(ctx context.Context, adminID string, meta RequestMeta) (int, error) {
	if err := s.requireCapability(ctx, adminID, models.CapManageSystem, meta); err != nil {
		return 0, err
	}
	return s.pii.RotateKey(ctx, adminID, meta.SourceAddress, meta.UserAgent)
}

// ExportUserEvents exports one user's full audit trail, gated on export_data.
// The export itself is recorded at medium risk.
func (s *AdminService) ExportUserEvents(ctx context.Context, adminID, userID string, meta RequestMeta) ([]*models.SecurityEvent, error) {
	if err := s.requireCapability(ctx, adminID, models.CapExportData, meta); err != nil {
		return nil, err
	}

	const exportBatchLimit = 10000
	events, err := s.events.ListByUser(ctx, userID, exportBatchLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to export events: %w", err)
	}

	s.audit.Record(ctx, adminID, models.EventAdminExport, meta.SourceAddress, meta.UserAgent,
		models.EventDetails{"subject_user": userID, "event_count": len(events)}, models.RiskMedium)

	s.logger.Info("admin data export",
		slog.String("admin_id", adminID),
		slog.String("subject_user", userID),
		slog.Int("events", len(events)))

	return events, nil
}
