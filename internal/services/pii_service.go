package services

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// KeyVersionStore defines the persistence interface for key-derivation
// parameters and the current-version pointer
type KeyVersionStore interface {
	GetAll(ctx context.Context) ([]*models.KeyVersion, error)
	GetByVersion(ctx context.Context, version int) (*models.KeyVersion, error)
	CurrentVersion(ctx context.Context) (int, error)
	CreateAndAdvance(ctx context.Context, expectedCurrent int, kv *models.KeyVersion) (*models.KeyVersion, error)
	Bootstrap(ctx context.Context, kv *models.KeyVersion) error
}

const (
	dataKeyLength = 32 // AES-256
	saltLength    = 32
	gcmTagLength  = 16
)

// PIIService performs envelope encryption of individual PII field values.
// Data keys are derived per version from the externally supplied master
// secret via PBKDF2 and cached in process memory only; the cache is
// read-mostly and written solely by rotation and lazy version loads.
//
// The service is constructed once by the composition root and injected;
// there is no process-wide singleton and no default secret.
type PIIService struct {
	repo   KeyVersionStore
	audit  *AuditService
	logger *slog.Logger

	masterSecret []byte
	iterations   int

	mu      sync.RWMutex
	keys    map[int][]byte
	current int
}

// NewPIIService creates a new PIIService. Call Init before first use.
func NewPIIService(repo KeyVersionStore, audit *AuditService, logger *slog.Logger, masterSecret string, iterations int) (*PIIService, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret is required")
	}

	return &PIIService{
		repo:         repo,
		audit:        audit,
		logger:       logger,
		masterSecret: []byte(masterSecret),
		iterations:   iterations,
		keys:         make(map[int][]byte),
	}, nil
}

// Init loads every stored key version, derives and caches their data keys,
// and resolves the current pointer. When no versions exist yet it bootstraps
// version 1 with a fresh random salt.
func (s *PIIService) Init(ctx context.Context) error {
	versions, err := s.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load key versions: %w", err)
	}

	if len(versions) == 0 {
		salt := make([]byte, saltLength)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return fmt.Errorf("failed to generate derivation salt: %w", err)
		}

		first := &models.KeyVersion{Version: 1, DerivationSalt: salt, Iterations: s.iterations}
		if err := s.repo.Bootstrap(ctx, first); err != nil {
			return fmt.Errorf("failed to bootstrap key version: %w", err)
		}
		versions = []*models.KeyVersion{first}
	}

	s.mu.Lock()
	for _, kv := range versions {
		s.keys[kv.Version] = s.deriveKey(kv)
	}
	s.mu.Unlock()

	current, err := s.repo.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve current key version: %w", err)
	}

	s.mu.Lock()
	s.current = current
	s.mu.Unlock()

	s.logger.Info("pii encryption service initialized",
		slog.Int("key_versions", len(versions)),
		slog.Int("current_version", current))

	return nil
}

// deriveKey runs the slow KDF for one version. Iterations come from the
// version row so historical ciphertexts survive a configured iteration bump.
func (s *PIIService) deriveKey(kv *models.KeyVersion) []byte {
	return pbkdf2.Key(s.masterSecret, kv.DerivationSalt, kv.Iterations, dataKeyLength, sha256.New)
}

// Encrypt seals one plaintext value under the current key version.
// The field name is bound in as additional authenticated data, so an
// envelope moved between fields fails its integrity check on decrypt.
func (s *PIIService) Encrypt(ctx context.Context, plaintext, fieldName, userID, sourceAddress, userAgent string) (*models.EncryptedField, error) {
	if fieldName == "" {
		return nil, models.ErrValidation
	}

	s.mu.RLock()
	version := s.current
	key := s.keys[version]
	s.mu.RUnlock()

	if key == nil {
		s.auditFailure(ctx, models.EventPIIEncrypt, fieldName, version, userID, sourceAddress, userAgent)
		return nil, fmt.Errorf("no data key for current version %d", version)
	}

	aead, err := newGCM(key)
	if err != nil {
		s.auditFailure(ctx, models.EventPIIEncrypt, fieldName, version, userID, sourceAddress, userAgent)
		return nil, err
	}

	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		s.auditFailure(ctx, models.EventPIIEncrypt, fieldName, version, userID, sourceAddress, userAgent)
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, []byte(plaintext), []byte(fieldName))
	split := len(sealed) - gcmTagLength

	field := &models.EncryptedField{
		Ciphertext: sealed[:split],
		IV:         iv,
		AuthTag:    sealed[split:],
		KeyVersion: version,
		FieldName:  fieldName,
		Timestamp:  time.Now().UTC(),
	}

	s.audit.Record(ctx, userID, models.EventPIIEncrypt, sourceAddress, userAgent,
		models.EventDetails{"field": fieldName, "key_version": version}, models.RiskLow)

	return field, nil
}

// Decrypt opens one envelope. The GCM open recomputes the authentication
// tag over (ciphertext, iv, field name) and compares it in constant time;
// any mismatch returns an IntegrityError and no plaintext. Integrity
// failures are audited at high risk as security incidents.
func (s *PIIService) Decrypt(ctx context.Context, field *models.EncryptedField, userID, sourceAddress, userAgent string) (string, error) {
	key, err := s.keyForVersion(ctx, field.KeyVersion)
	if err != nil {
		s.auditFailure(ctx, models.EventPIIDecrypt, field.FieldName, field.KeyVersion, userID, sourceAddress, userAgent)
		return "", err
	}

	aead, err := newGCM(key)
	if err != nil {
		s.auditFailure(ctx, models.EventPIIDecrypt, field.FieldName, field.KeyVersion, userID, sourceAddress, userAgent)
		return "", err
	}

	sealed := make([]byte, 0, len(field.Ciphertext)+len(field.AuthTag))
	sealed = append(sealed, field.Ciphertext...)
	sealed = append(sealed, field.AuthTag...)

	plaintext, err := aead.Open(nil, field.IV, sealed, []byte(field.FieldName))
	if err != nil {
		s.audit.Record(ctx, userID, models.EventPIIIntegrityFailure, sourceAddress, userAgent,
			models.EventDetails{"field": field.FieldName, "key_version": field.KeyVersion}, models.RiskHigh)
		return "", &models.IntegrityError{FieldName: field.FieldName, KeyVersion: field.KeyVersion}
	}

	s.audit.Record(ctx, userID, models.EventPIIDecrypt, sourceAddress, userAgent,
		models.EventDetails{"field": field.FieldName, "key_version": field.KeyVersion}, models.RiskLow)

	return string(plaintext), nil
}

// BulkDecryptResult carries the outcome of a batch decrypt. Partial success
// is valid and reportable: each field succeeds or fails independently.
type BulkDecryptResult struct {
	Decrypted map[string]string
	Errors    map[string]error
}

// BulkDecrypt decrypts a map of named envelopes, collecting per-field errors
// without aborting the batch.
func (s *PIIService) BulkDecrypt(ctx context.Context, fields map[string]*models.EncryptedField, userID, sourceAddress, userAgent string) *BulkDecryptResult {
	result := &BulkDecryptResult{
		Decrypted: make(map[string]string, len(fields)),
		Errors:    make(map[string]error),
	}

	for name, field := range fields {
		plaintext, err := s.Decrypt(ctx, field, userID, sourceAddress, userAgent)
		if err != nil {
			result.Errors[name] = err
			continue
		}
		result.Decrypted[name] = plaintext
	}

	return result
}

// RotateKey derives a new key version and advances the current pointer via
// the repository's compare-and-swap. Existing records are not re-encrypted;
// old versions stay derivable indefinitely so historical ciphertexts remain
// readable. A concurrent rotation losing the CAS returns ErrConflict.
func (s *PIIService) RotateKey(ctx context.Context, userID, sourceAddress, userAgent string) (int, error) {
	s.mu.RLock()
	expected := s.current
	s.mu.RUnlock()

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return 0, fmt.Errorf("failed to generate derivation salt: %w", err)
	}

	next := &models.KeyVersion{
		Version:        expected + 1,
		DerivationSalt: salt,
		Iterations:     s.iterations,
	}

	created, err := s.repo.CreateAndAdvance(ctx, expected, next)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Warn("key rotation lost compare-and-swap",
				slog.Int("expected_version", expected))
		}
		s.audit.Record(ctx, userID, models.EventKeyRotation, sourceAddress, userAgent,
			models.EventDetails{"outcome": "failed"}, models.RiskHigh)
		return 0, err
	}

	key := s.deriveKey(created)

	s.mu.Lock()
	s.keys[created.Version] = key
	s.current = created.Version
	s.mu.Unlock()

	s.audit.Record(ctx, userID, models.EventKeyRotation, sourceAddress, userAgent,
		models.EventDetails{"new_version": created.Version}, models.RiskMedium)

	s.logger.Info("pii key rotated", slog.Int("new_version", created.Version))

	return created.Version, nil
}

// auditFailure records an encrypt or decrypt attempt that failed before the
// cipher could decide integrity, so the trail carries every call regardless
// of outcome. Tag mismatches use their own high-risk event type instead.
func (s *PIIService) auditFailure(ctx context.Context, eventType, fieldName string, version int, userID, sourceAddress, userAgent string) {
	s.audit.Record(ctx, userID, eventType, sourceAddress, userAgent,
		models.EventDetails{"field": fieldName, "key_version": version, "outcome": "failed"}, models.RiskMedium)
}

// CurrentVersion returns the cached current key version
func (s *PIIService) CurrentVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// keyForVersion resolves a data key from the cache, lazily deriving it from
// stored parameters on a miss. Version rows are never deleted, so any
// version recorded on an envelope resolves here.
func (s *PIIService) keyForVersion(ctx context.Context, version int) ([]byte, error) {
	s.mu.RLock()
	key, ok := s.keys[version]
	s.mu.RUnlock()
	if ok {
		return key, nil
	}

	kv, err := s.repo.GetByVersion(ctx, version)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("unknown key version %d", version)
		}
		return nil, fmt.Errorf("failed to load key version %d: %w", version, err)
	}

	key = s.deriveKey(kv)

	s.mu.Lock()
	s.keys[version] = key
	s.mu.Unlock()

	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	return aead, nil
}
