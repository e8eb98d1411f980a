package services

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

func TestAuditService_RecordPersistsEvent(t *testing.T) {
	writer := &RecordingEventWriter{}
	svc := NewAuditService(writer, slog.Default())

	svc.Record(context.Background(), "user1", models.EventLoginSuccess, "1.2.3.4", "ua",
		models.EventDetails{"via": "password"}, models.RiskLow)

	require.Len(t, writer.Events, 1)
	event := writer.Events[0]
	assert.Equal(t, models.EventLoginSuccess, event.EventType)
	assert.Equal(t, "user1", *event.UserID)
	assert.Equal(t, models.RiskLow, event.RiskLevel)
	assert.Equal(t, "password", event.Details["via"])
}

func TestAuditService_EmptyUserIDStoredAsNull(t *testing.T) {
	writer := &RecordingEventWriter{}
	svc := NewAuditService(writer, slog.Default())

	svc.Record(context.Background(), "", models.EventLoginFailed, "1.2.3.4", "ua", nil, models.RiskMedium)

	require.Len(t, writer.Events, 1)
	assert.Nil(t, writer.Events[0].UserID)
}

func TestAuditService_InvalidRiskLevelDefaultsToMedium(t *testing.T) {
	writer := &RecordingEventWriter{}
	svc := NewAuditService(writer, slog.Default())

	svc.Record(context.Background(), "user1", models.EventLoginSuccess, "ip", "ua", nil, "catastrophic")

	require.Len(t, writer.Events, 1)
	assert.Equal(t, models.RiskMedium, writer.Events[0].RiskLevel)
}

func TestAuditService_PersistFailureDoesNotPropagate(t *testing.T) {
	writer := &RecordingEventWriter{Err: models.ErrPersistence}
	svc := NewAuditService(writer, slog.Default())

	// Record has no error return; the primary operation must never be
	// aborted by an audit write failure.
	svc.Record(context.Background(), "user1", models.EventPIIDecrypt, "ip", "ua", nil, models.RiskLow)

	assert.Empty(t, writer.Events)
}
