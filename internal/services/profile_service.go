package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// ProfileView is a profile with its PII fields decrypted for the caller.
// DecryptErrors carries per-field failures when a bulk decrypt partially
// succeeds.
type ProfileView struct {
	UserID         string
	Email          string
	Role           string
	FullName       string
	Phone          string
	EmailConfirmed bool
	MFAEnabled     bool
	ConsentVersion string
	DecryptErrors  map[string]string
}

// ProfileService reads and updates profiles, routing every PII value
// through the encryption service. Plaintext PII exists only in transit
// between here and the caller.
type ProfileService struct {
	profiles ProfileStore
	pii      *PIIService
	limiter  *RateLimitService
	logger   *slog.Logger
}

// NewProfileService creates a new ProfileService
func NewProfileService(profiles ProfileStore, pii *PIIService, limiter *RateLimitService, logger *slog.Logger) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		pii:      pii,
		limiter:  limiter,
		logger:   logger,
	}
}

// Get returns the decrypted profile view. A field whose envelope fails its
// integrity check is reported in DecryptErrors while the rest of the
// profile is still returned.
func (s *ProfileService) Get(ctx context.Context, userID string, meta RequestMeta) (*ProfileView, error) {
	decision, err := s.limiter.CheckAndConsume(ctx, userID, models.ActionPIIDecrypt, meta.SourceAddress)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &models.RateLimitedError{ResetAt: decision.ResetAt}
	}

	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &ProfileView{
		UserID:         profile.UserID,
		Email:          profile.Email,
		Role:           profile.Role,
		EmailConfirmed: profile.EmailConfirmed,
		MFAEnabled:     profile.MFAEnabled,
		ConsentVersion: profile.ConsentVersion,
	}

	envelopes := make(map[string]*models.EncryptedField)
	for name, raw := range map[string][]byte{
		"full_name": profile.FullName,
		"phone":     profile.Phone,
	} {
		if len(raw) == 0 {
			continue
		}
		field, err := models.UnmarshalEncryptedField(raw)
		if err != nil {
			s.logger.Error("malformed pii envelope",
				slog.String("user_id", userID),
				slog.String("field", name),
				slog.Any("error", err))
			continue
		}
		envelopes[name] = field
	}

	if len(envelopes) > 0 {
		result := s.pii.BulkDecrypt(ctx, envelopes, userID, meta.SourceAddress, meta.UserAgent)
		view.FullName = result.Decrypted["full_name"]
		view.Phone = result.Decrypted["phone"]
		if len(result.Errors) > 0 {
			view.DecryptErrors = make(map[string]string, len(result.Errors))
			for name, err := range result.Errors {
				view.DecryptErrors[name] = err.Error()
			}
		}
	}

	return view, nil
}

// UpdatePII re-encrypts and replaces the given PII fields. Empty values are
// skipped; envelopes are replaced wholesale, never patched.
func (s *ProfileService) UpdatePII(ctx context.Context, userID, fullName, phone string, meta RequestMeta) error {
	if _, err := s.profiles.GetByUserID(ctx, userID); err != nil {
		return err
	}

	for name, value := range map[string]string{
		"full_name": fullName,
		"phone":     phone,
	} {
		if value == "" {
			continue
		}

		field, err := s.pii.Encrypt(ctx, value, name, userID, meta.SourceAddress, meta.UserAgent)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s: %w", name, err)
		}
		envelope, err := field.Marshal()
		if err != nil {
			return fmt.Errorf("failed to serialize %s envelope: %w", name, err)
		}
		if err := s.profiles.UpdateEncryptedField(ctx, userID, name, envelope); err != nil {
			return fmt.Errorf("failed to store %s: %w", name, err)
		}
	}

	return nil
}

// RecordConsent stamps a new consent version on the profile
func (s *ProfileService) RecordConsent(ctx context.Context, userID, consentVersion string) error {
	if consentVersion == "" {
		return models.ErrValidation
	}
	if err := s.profiles.RecordConsent(ctx, userID, consentVersion); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to record consent: %w", err)
	}
	return nil
}
