package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

func TestPIIService_RequiresMasterSecret(t *testing.T) {
	_, err := NewPIIService(NewFakeKeyVersionStore(), newTestAudit(&RecordingEventWriter{}), nil, "", 100000)
	assert.Error(t, err)
}

func TestPIIService_EncryptDecryptRoundtrip(t *testing.T) {
	writer := &RecordingEventWriter{}
	svc, _ := newTestPII(t, writer)

	field, err := svc.Encrypt(context.Background(), "Jane Example", "full_name", "user1", "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.Equal(t, 1, field.KeyVersion)
	assert.Equal(t, "full_name", field.FieldName)
	assert.Len(t, field.IV, 12)
	assert.Len(t, field.AuthTag, 16)
	assert.NotContains(t, string(field.Ciphertext), "Jane")

	plaintext, err := svc.Decrypt(context.Background(), field, "user1", "1.2.3.4", "ua")
	require.NoError(t, err)
	assert.Equal(t, "Jane Example", plaintext)

	assert.True(t, writer.HasEvent(models.EventPIIEncrypt))
	assert.True(t, writer.HasEvent(models.EventPIIDecrypt))
}

func TestPIIService_UniqueIVPerEncryption(t *testing.T) {
	svc, _ := newTestPII(t, &RecordingEventWriter{})

	a, err := svc.Encrypt(context.Background(), "same value", "phone", "u", "ip", "ua")
	require.NoError(t, err)
	b, err := svc.Encrypt(context.Background(), "same value", "phone", "u", "ip", "ua")
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestPIIService_TamperedCiphertextFailsIntegrity(t *testing.T) {
	writer := &RecordingEventWriter{}
	svc, _ := newTestPII(t, writer)

	field, err := svc.Encrypt(context.Background(), "555-0100", "phone", "user1", "ip", "ua")
	require.NoError(t, err)

	field.Ciphertext[0] ^= 0x01

	_, err = svc.Decrypt(context.Background(), field, "user1", "ip", "ua")
	require.Error(t, err)
	assert.True(t, models.IsIntegrityError(err))

	var ie *models.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "phone", ie.FieldName)
	assert.Equal(t, 1, ie.KeyVersion)

	assert.True(t, writer.HasEvent(models.EventPIIIntegrityFailure))
}

func TestPIIService_WrongFieldNameFailsIntegrity(t *testing.T) {
	svc, _ := newTestPII(t, &RecordingEventWriter{})

	field, err := svc.Encrypt(context.Background(), "secret value", "full_name", "u", "ip", "ua")
	require.NoError(t, err)

	// An envelope moved to a different field must not decrypt.
	field.FieldName = "phone"

	_, err = svc.Decrypt(context.Background(), field, "u", "ip", "ua")
	assert.True(t, models.IsIntegrityError(err))
}

func TestPIIService_RotateKeepsOldVersionsDecryptable(t *testing.T) {
	writer := &RecordingEventWriter{}
	svc, _ := newTestPII(t, writer)

	old, err := svc.Encrypt(context.Background(), "before rotation", "full_name", "u", "ip", "ua")
	require.NoError(t, err)

	newVersion, err := svc.RotateKey(context.Background(), "admin1", "ip", "ua")
	require.NoError(t, err)
	assert.Equal(t, 2, newVersion)
	assert.Equal(t, 2, svc.CurrentVersion())

	// New envelopes use the new version.
	fresh, err := svc.Encrypt(context.Background(), "after rotation", "full_name", "u", "ip", "ua")
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.KeyVersion)

	// Old envelopes still decrypt under their recorded version.
	plaintext, err := svc.Decrypt(context.Background(), old, "u", "ip", "ua")
	require.NoError(t, err)
	assert.Equal(t, "before rotation", plaintext)

	assert.True(t, writer.HasEvent(models.EventKeyRotation))
}

func TestPIIService_RotateLosesCompareAndSwap(t *testing.T) {
	writer := &RecordingEventWriter{}
	svc, store := newTestPII(t, writer)

	// Another process advances the pointer underneath us.
	store.mu.Lock()
	store.current = 5
	store.versions[5] = &models.KeyVersion{Version: 5, DerivationSalt: []byte("other-salt-32-bytes-padpadpadpad"), Iterations: 100000}
	store.mu.Unlock()

	_, err := svc.RotateKey(context.Background(), "admin1", "ip", "ua")
	assert.ErrorIs(t, err, models.ErrConflict)

	// The losing rotation is audited at high risk.
	found := false
	for _, e := range writer.Events {
		if e.EventType == models.EventKeyRotation && e.RiskLevel == models.RiskHigh {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPIIService_LazyLoadsUnknownVersion(t *testing.T) {
	writer := &RecordingEventWriter{}
	svc, store := newTestPII(t, writer)

	field, err := svc.Encrypt(context.Background(), "value", "phone", "u", "ip", "ua")
	require.NoError(t, err)

	// A second instance sharing the store starts with an empty cache and
	// must resolve the envelope's version from persisted parameters.
	other, err := NewPIIService(store, newTestAudit(writer), svc.logger, "unit-test-master-secret-value", 100000)
	require.NoError(t, err)
	require.NoError(t, other.Init(context.Background()))

	plaintext, err := other.Decrypt(context.Background(), field, "u", "ip", "ua")
	require.NoError(t, err)
	assert.Equal(t, "value", plaintext)
}

func TestPIIService_DecryptUnknownVersionAuditsFailure(t *testing.T) {
	writer := &RecordingEventWriter{}
	svc, _ := newTestPII(t, writer)

	field, err := svc.Encrypt(context.Background(), "value", "phone", "u", "ip", "ua")
	require.NoError(t, err)

	// Point the envelope at a version no store row backs.
	field.KeyVersion = 99

	_, err = svc.Decrypt(context.Background(), field, "u", "ip", "ua")
	require.Error(t, err)
	assert.False(t, models.IsIntegrityError(err))

	// The failed attempt still lands in the trail.
	found := false
	for _, e := range writer.Events {
		if e.EventType == models.EventPIIDecrypt && e.Details["outcome"] == "failed" {
			found = true
			assert.Equal(t, "phone", e.Details["field"])
			assert.Equal(t, models.RiskMedium, e.RiskLevel)
		}
	}
	assert.True(t, found)
}

func TestPIIService_BulkDecryptPartialSuccess(t *testing.T) {
	svc, _ := newTestPII(t, &RecordingEventWriter{})

	good, err := svc.Encrypt(context.Background(), "Jane", "full_name", "u", "ip", "ua")
	require.NoError(t, err)
	bad, err := svc.Encrypt(context.Background(), "555-0100", "phone", "u", "ip", "ua")
	require.NoError(t, err)
	bad.AuthTag[0] ^= 0xFF

	result := svc.BulkDecrypt(context.Background(), map[string]*models.EncryptedField{
		"full_name": good,
		"phone":     bad,
	}, "u", "ip", "ua")

	assert.Equal(t, "Jane", result.Decrypted["full_name"])
	assert.NotContains(t, result.Decrypted, "phone")
	assert.True(t, models.IsIntegrityError(result.Errors["phone"]))
}
