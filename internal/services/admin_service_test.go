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

func newAdminHarness(t *testing.T, set *models.AdminCapabilitySet) (*AdminService, *RecordingEventWriter) {
	writer := &RecordingEventWriter{}
	caps := &MockCapabilityStore{
		GetCapabilitiesFunc: func(ctx context.Context, adminID string) (*models.AdminCapabilitySet, error) {
			if set == nil {
				return nil, models.ErrNotFound
			}
			return set, nil
		},
	}
	pii, _ := newTestPII(t, writer)
	svc := NewAdminService(caps, &MockSecurityEventReader{}, pii, newTestAudit(writer), slog.Default())
	return svc, writer
}

func TestAdminService_CheckPermissionGrantedIsAudited(t *testing.T) {
	svc, writer := newAdminHarness(t, &models.AdminCapabilitySet{AdminID: "admin1", ViewAuditLogs: true})

	granted, err := svc.CheckPermission(context.Background(), "admin1", models.CapViewAuditLogs, testMeta())
	require.NoError(t, err)
	assert.True(t, granted)

	require.Len(t, writer.Events, 1)
	assert.Equal(t, models.EventAdminPermissionCheck, writer.Events[0].EventType)
	assert.Equal(t, models.RiskLow, writer.Events[0].RiskLevel)
}

func TestAdminService_CheckPermissionDeniedIsAuditedAtMedium(t *testing.T) {
	svc, writer := newAdminHarness(t, &models.AdminCapabilitySet{AdminID: "admin1"})

	granted, err := svc.CheckPermission(context.Background(), "admin1", models.CapExportData, testMeta())
	require.NoError(t, err)
	assert.False(t, granted)

	require.Len(t, writer.Events, 1)
	assert.Equal(t, models.RiskMedium, writer.Events[0].RiskLevel)
}

func TestAdminService_NonAdminResolvesToDenied(t *testing.T) {
	svc, writer := newAdminHarness(t, nil)

	granted, err := svc.CheckPermission(context.Background(), "stranger", models.CapManageUsers, testMeta())
	require.NoError(t, err)
	assert.False(t, granted)
	assert.True(t, writer.HasEvent(models.EventAdminPermissionCheck))
}

func TestAdminService_ExportDeniedWithoutCapability(t *testing.T) {
	svc, writer := newAdminHarness(t, &models.AdminCapabilitySet{AdminID: "admin1", ViewAuditLogs: true})

	_, err := svc.ExportUserEvents(context.Background(), "admin1", "user9", testMeta())
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	// The denial itself is on the record; no export event follows it.
	assert.True(t, writer.HasEvent(models.EventAdminPermissionCheck))
	assert.False(t, writer.HasEvent(models.EventAdminExport))
}

func TestAdminService_ExportRecordsExportEvent(t *testing.T) {
	svc, writer := newAdminHarness(t, &models.AdminCapabilitySet{AdminID: "admin1", ExportData: true})

	events, err := svc.ExportUserEvents(context.Background(), "admin1", "user9", testMeta())
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.True(t, writer.HasEvent(models.EventAdminExport))
}

func TestAdminService_ListAuditEventsGated(t *testing.T) {
	svc, _ := newAdminHarness(t, &models.AdminCapabilitySet{AdminID: "admin1"})

	_, err := svc.ListAuditEvents(context.Background(), "admin1", 50, 0, testMeta())
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
}

func TestAdminService_RotatePIIKeyGatedOnManageSystem(t *testing.T) {
	denied, _ := newAdminHarness(t, &models.AdminCapabilitySet{AdminID: "admin1", ExportData: true})
	_, err := denied.RotatePIIKey(context.Background(), "admin1", testMeta())
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	allowed, writer := newAdminHarness(t, &models.AdminCapabilitySet{AdminID: "admin1", ManageSystem: true})
	version, err := allowed.RotatePIIKey(context.Background(), "admin1", testMeta())
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.True(t, writer.HasEvent(models.EventKeyRotation))
}

func TestAdminService_CapabilitiesListsGrantedOnly(t *testing.T) {
	svc, _ := newAdminHarness(t, &models.AdminCapabilitySet{
		AdminID:       "admin1",
		ViewAuditLogs: true,
		ExportData:    true,
	})

	caps, err := svc.Capabilities(context.Background(), "admin1")
	require.NoError(t, err)
	assert.Equal(t, []models.Capability{models.CapViewAuditLogs, models.CapExportData}, caps)
}

func TestAdminService_InvalidRiskLevelRejected(t *testing.T) {
	svc, _ := newAdminHarness(t, &models.AdminCapabilitySet{AdminID: "admin1", ViewAuditLogs: true})

	_, err := svc.ListHighRiskEvents(context.Background(), "admin1", "extreme", time.Now().Add(-time.Hour), 10, testMeta())
	assert.ErrorIs(t, err, models.ErrValidation)
}
