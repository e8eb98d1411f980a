package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/identity"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// ProfileStore defines the persistence interface for user profiles
type ProfileStore interface {
	Create(ctx context.Context, p *models.UserProfile) (*models.UserProfile, error)
	GetByUserID(ctx context.Context, userID string) (*models.UserProfile, error)
	GetByEmail(ctx context.Context, email string) (*models.UserProfile, error)
	Delete(ctx context.Context, userID string) error
	RecordConsent(ctx context.Context, userID, consentVersion string) error
	SetEmailConfirmed(ctx context.Context, userID string) error
	UpdateEncryptedField(ctx context.Context, userID, fieldName string, envelope []byte) error
	SetMFAEnabled(ctx context.Context, userID string, enabled bool) error
}

// TOTPValidator checks authenticator-app codes against a shared secret
type TOTPValidator interface {
	Validate(code, secret string) bool
}

// RequestMeta carries the caller context threaded through every flow for
// rate limiting and audit attribution.
type RequestMeta struct {
	SourceAddress string
	UserAgent     string
}

// RegisterInput is the validated payload for a registration attempt
type RegisterInput struct {
	Email          string
	Password       string
	Role           string
	FullName       string
	Phone          string
	ConsentVersion string
}

// RegistrationResult reports a registration that is awaiting email
// verification. No session exists until the OTP is verified.
type RegistrationResult struct {
	UserID string
	Status string
}

// LoginResult is the outcome of a credential check. Exactly one of Session,
// RequiresOTP or RequiresMFA is meaningful: a session is only issued once
// every required challenge has passed.
type LoginResult struct {
	Session     *identity.Session
	RequiresOTP bool
	RequiresMFA bool
	MFAMethod   string
}

// MFA challenge methods
const (
	MFAMethodEmailOTP = "email_otp"
	MFAMethodTOTP     = "totp"
)

// AuthService orchestrates registration, login, OTP verification and
// password reset. It composes the rate limiter, the external identity
// provider, the OTP service, the mailer, the PII service and the audit
// trail; it holds no state of its own.
type AuthService struct {
	profiles  ProfileStore
	provider  identity.Provider
	otp       *OTPService
	mailer    EmailSender
	limiter   *RateLimitService
	pii       *PIIService
	audit     *AuditService
	totp      TOTPValidator
	logger    *slog.Logger
	otpExpiry time.Duration
}

// NewAuthService creates a new AuthService
func NewAuthService(
	profiles ProfileStore,
	provider identity.Provider,
	otp *OTPService,
	mailer EmailSender,
	limiter *RateLimitService,
	pii *PIIService,
	audit *AuditService,
	totp TOTPValidator,
	logger *slog.Logger,
	otpExpiry time.Duration,
) *AuthService {
	return &AuthService{
		profiles:  profiles,
		provider:  provider,
		otp:       otp,
		mailer:    mailer,
		limiter:   limiter,
		pii:       pii,
		audit:     audit,
		totp:      totp,
		logger:    logger,
		otpExpiry: otpExpiry,
	}
}

// checkLimit runs one rate-limit gate and converts a denial into a
// RateLimitedError. The gate runs before any account lookup so limiter
// timing reveals nothing about account existence.
func (s *AuthService) checkLimit(ctx context.Context, identityKey, action string, meta RequestMeta) error {
	decision, err := s.limiter.CheckAndConsume(ctx, identityKey, action, meta.SourceAddress)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		s.audit.Record(ctx, "", models.EventRateLimited, meta.SourceAddress, meta.UserAgent,
			models.EventDetails{"action": action}, models.RiskMedium)
		return &models.RateLimitedError{ResetAt: decision.ResetAt}
	}
	return nil
}

// Register runs the registration flow: rate limit, duplicate check, identity
// creation with the external provider, profile persistence, consent capture,
// PII encryption, then an email verification code. Any failure after the
// identity exists triggers compensation so no orphan credential survives.
// The duplicate answer is deliberately indistinguishable from success at the
// transport layer.
func (s *AuthService) Register(ctx context.Context, input RegisterInput, meta RequestMeta) (*RegistrationResult, error) {
	if err := s.checkLimit(ctx, input.Email, models.ActionRegister, meta); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, "", models.EventRegistrationStarted, meta.SourceAddress, meta.UserAgent,
		models.EventDetails{"role": input.Role}, models.RiskLow)

	if _, err := s.profiles.GetByEmail(ctx, input.Email); err == nil {
		s.audit.Record(ctx, "", models.EventRegistrationFailed, meta.SourceAddress, meta.UserAgent,
			models.EventDetails{"reason": "duplicate"}, models.RiskMedium)
		return nil, models.ErrDuplicateAccount
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing profile: %w", err)
	}

	ident, err := s.provider.CreateIdentity(ctx, input.Email, input.Password)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.audit.Record(ctx, "", models.EventRegistrationFailed, meta.SourceAddress, meta.UserAgent,
				models.EventDetails{"reason": "duplicate"}, models.RiskMedium)
			return nil, models.ErrDuplicateAccount
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	if err := s.completeRegistration(ctx, ident, input, meta); err != nil {
		s.compensate(ctx, ident.ID, meta)
		s.audit.Record(ctx, ident.ID, models.EventRegistrationFailed, meta.SourceAddress, meta.UserAgent,
			models.EventDetails{"reason": "provisioning_failed"}, models.RiskMedium)
		return nil, err
	}

	s.audit.Record(ctx, ident.ID, models.EventRegistrationCompleted, meta.SourceAddress, meta.UserAgent,
		models.EventDetails{"status": "pending_verification"}, models.RiskLow)

	return &RegistrationResult{UserID: ident.ID, Status: "pending_verification"}, nil
}

// completeRegistration provisions everything owned by this subsystem once
// the provider-side identity exists.
func (s *AuthService) completeRegistration(ctx context.Context, ident *identity.Identity, input RegisterInput, meta RequestMeta) error {
	role := input.Role
	if role == "" {
		role = models.RoleJobSeeker
	}

	profile := &models.UserProfile{
		UserID: ident.ID,
		Email:  input.Email,
		Role:   role,
	}
	if _, err := s.profiles.Create(ctx, profile); err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	if input.ConsentVersion != "" {
		if err := s.profiles.RecordConsent(ctx, ident.ID, input.ConsentVersion); err != nil {
			return fmt.Errorf("failed to record consent: %w", err)
		}
	}

	if input.FullName != "" {
		if err := s.storeEncrypted(ctx, ident.ID, "full_name", input.FullName, meta); err != nil {
			return err
		}
	}
	if input.Phone != "" {
		if err := s.storeEncrypted(ctx, ident.ID, "phone", input.Phone, meta); err != nil {
			return err
		}
	}

	return s.issueCode(ctx, ident.ID, input.Email, models.OTPPurposeRegistration, meta)
}

// storeEncrypted encrypts one PII value and persists the envelope
func (s *AuthService) storeEncrypted(ctx context.Context, userID, fieldName, plaintext string, meta RequestMeta) error {
	field, err := s.pii.Encrypt(ctx, plaintext, fieldName, userID, meta.SourceAddress, meta.UserAgent)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", fieldName, err)
	}

	envelope, err := field.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize %s envelope: %w", fieldName, err)
	}

	if err := s.profiles.UpdateEncryptedField(ctx, userID, fieldName, envelope); err != nil {
		return fmt.Errorf("failed to store %s: %w", fieldName, err)
	}
	return nil
}

// compensate unwinds a partial registration. Failures here are logged, not
// returned: the caller already has the primary error.
func (s *AuthService) compensate(ctx context.Context, userID string, meta RequestMeta) {
	if err := s.profiles.Delete(ctx, userID); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("registration compensation: profile delete failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
	if err := s.provider.DeleteIdentity(ctx, userID); err != nil {
		s.logger.Error("registration compensation: identity delete failed",
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
}

// issueCode generates, audits and mails one OTP. Issuance has its own limit
// so repeated resends cannot drive email volume past the login and register
// thresholds that gate the surrounding flows.
func (s *AuthService) issueCode(ctx context.Context, userID, email, purpose string, meta RequestMeta) error {
	if err := s.checkLimit(ctx, email, models.ActionOTPRequest, meta); err != nil {
		return err
	}

	code, err := s.otp.Generate(ctx, userID, email, purpose)
	if err != nil {
		return fmt.Errorf("failed to issue verification code: %w", err)
	}

	s.audit.Record(ctx, userID, models.EventOTPIssued, meta.SourceAddress, meta.UserAgent,
		models.EventDetails{"purpose": purpose}, models.RiskLow)

	if err := s.mailer.SendOTPEmail(ctx, email, code, purpose, time.Now().Add(s.otpExpiry)); err != nil {
		return fmt.Errorf("failed to send verification code: %w", err)
	}
	return nil
}

// Login runs the credential check and decides which challenge, if any, still
// stands between the caller and a session. Unverified emails get a fresh
// registration code; MFA-enabled accounts get a second-factor challenge.
// All credential failures surface as the same ErrAuthentication.
func (s *AuthService) Login(ctx context.Context, email, password string, meta RequestMeta) (*LoginResult, error) {
	if err := s.checkLimit(ctx, email, models.ActionLogin, meta); err != nil {
		return nil, err
	}

	ident, err := s.provider.VerifyCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, models.ErrAuthentication) {
			s.audit.Record(ctx, "", models.EventLoginFailed, meta.SourceAddress, meta.UserAgent,
				models.EventDetails{"reason": "bad_credentials"}, models.RiskMedium)
			return nil, models.ErrAuthentication
		}
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}

	profile, err := s.profiles.GetByUserID(ctx, ident.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	if !profile.EmailConfirmed {
		if err := s.issueCode(ctx, ident.ID, email, models.OTPPurposeRegistration, meta); err != nil {
			return nil, err
		}
		return &LoginResult{RequiresOTP: true}, nil
	}

	if profile.MFAEnabled {
		method := MFAMethodEmailOTP
		if profile.HasTOTP() {
			method = MFAMethodTOTP
		} else if err := s.issueCode(ctx, ident.ID, email, models.OTPPurposeLoginMFA, meta); err != nil {
			return nil, err
		}

		s.audit.Record(ctx, ident.ID, models.EventMFAChallenge, meta.SourceAddress, meta.UserAgent,
			models.EventDetails{"method": method}, models.RiskLow)
		return &LoginResult{RequiresMFA: true, MFAMethod: method}, nil
	}

	session, err := s.provider.IssueSession(ctx, ident.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	s.audit.Record(ctx, ident.ID, models.EventLoginSuccess, meta.SourceAddress, meta.UserAgent,
		nil, models.RiskLow)

	return &LoginResult{Session: session}, nil
}

// VerifyOTP consumes an emailed code. Registration codes confirm the email
// on both sides of the identity boundary; login MFA codes complete the
// challenge and yield a session. Password reset codes are consumed only by
// ResetPassword so the reset cannot be split across calls.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code, purpose string, meta RequestMeta) (*LoginResult, error) {
	if purpose == models.OTPPurposePasswordReset {
		return nil, models.ErrValidation
	}

	if err := s.checkLimit(ctx, email, models.ActionOTPVerify, meta); err != nil {
		return nil, err
	}

	consumed, err := s.otp.Verify(ctx, email, code, purpose)
	if err != nil {
		if errors.Is(err, models.ErrVerification) {
			s.audit.Record(ctx, "", models.EventOTPFailed, meta.SourceAddress, meta.UserAgent,
				models.EventDetails{"purpose": purpose}, models.RiskMedium)
		}
		return nil, err
	}

	s.audit.Record(ctx, consumed.UserID, models.EventOTPVerified, meta.SourceAddress, meta.UserAgent,
		models.EventDetails{"purpose": purpose}, models.RiskLow)

	switch purpose {
	case models.OTPPurposeRegistration:
		if err := s.profiles.SetEmailConfirmed(ctx, consumed.UserID); err != nil {
			return nil, fmt.Errorf("failed to confirm email: %w", err)
		}
		if err := s.provider.MarkEmailVerified(ctx, consumed.UserID); err != nil {
			return nil, fmt.Errorf("failed to mark email verified: %w", err)
		}
	case models.OTPPurposeLoginMFA:
		// MFA satisfied, fall through to session issuance.
	default:
		return nil, models.ErrValidation
	}

	session, err := s.provider.IssueSession(ctx, consumed.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	s.audit.Record(ctx, consumed.UserID, models.EventLoginSuccess, meta.SourceAddress, meta.UserAgent,
		models.EventDetails{"via": purpose}, models.RiskLow)

	return &LoginResult{Session: session}, nil
}

// VerifyTOTP completes a login challenge with an authenticator-app code.
// The stored secret is an encrypted envelope; a tampered envelope fails its
// integrity check here and never reaches the validator.
func (s *AuthService) VerifyTOTP(ctx context.Context, email, code string, meta RequestMeta) (*LoginResult, error) {
	if err := s.checkLimit(ctx, email, models.ActionOTPVerify, meta); err != nil {
		return nil, err
	}

	profile, err := s.profiles.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrVerification
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	secret, err := s.decryptTOTPSecret(ctx, profile, meta)
	if err != nil {
		return nil, err
	}

	if !s.totp.Validate(code, secret) {
		s.audit.Record(ctx, profile.UserID, models.EventOTPFailed, meta.SourceAddress, meta.UserAgent,
			models.EventDetails{"purpose": "totp"}, models.RiskMedium)
		return nil, models.ErrVerification
	}

	session, err := s.provider.IssueSession(ctx, profile.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	s.audit.Record(ctx, profile.UserID, models.EventLoginSuccess, meta.SourceAddress, meta.UserAgent,
		models.EventDetails{"via": "totp"}, models.RiskLow)

	return &LoginResult{Session: session}, nil
}

func (s *AuthService) decryptTOTPSecret(ctx context.Context, profile *models.UserProfile, meta RequestMeta) (string, error) {
	if !profile.HasTOTP() {
		return "", models.ErrVerification
	}

	field, err := models.UnmarshalEncryptedField(profile.TOTPSecret)
	if err != nil {
		return "", fmt.Errorf("failed to parse totp envelope: %w", err)
	}

	secret, err := s.pii.Decrypt(ctx, field, profile.UserID, meta.SourceAddress, meta.UserAgent)
	if err != nil {
		return "", err
	}
	return secret, nil
}

// RequestPasswordReset issues a reset code for known accounts. Unknown
// emails return success without sending anything, so the response cannot be
// used to probe for accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) error {
	if err := s.checkLimit(ctx, email, models.ActionPasswordReset, meta); err != nil {
		return err
	}

	profile, err := s.profiles.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.audit.Record(ctx, "", models.EventPasswordResetRequest, meta.SourceAddress, meta.UserAgent,
				models.EventDetails{"outcome": "unknown_account"}, models.RiskMedium)
			return nil
		}
		return fmt.Errorf("failed to load profile: %w", err)
	}

	s.audit.Record(ctx, profile.UserID, models.EventPasswordResetRequest, meta.SourceAddress, meta.UserAgent,
		nil, models.RiskLow)

	return s.issueCode(ctx, profile.UserID, email, models.OTPPurposePasswordReset, meta)
}

// ResetPassword consumes a reset code and replaces the credential with the
// provider in one call. The code is single use; a concurrent duplicate
// submission loses the atomic consume and gets ErrVerification.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string, meta RequestMeta) error {
	if err := s.checkLimit(ctx, email, models.ActionOTPVerify, meta); err != nil {
		return err
	}

	consumed, err := s.otp.Verify(ctx, email, code, models.OTPPurposePasswordReset)
	if err != nil {
		if errors.Is(err, models.ErrVerification) {
			s.audit.Record(ctx, "", models.EventOTPFailed, meta.SourceAddress, meta.UserAgent,
				models.EventDetails{"purpose": models.OTPPurposePasswordReset}, models.RiskMedium)
		}
		return err
	}

	if err := s.provider.UpdatePassword(ctx, consumed.UserID, newPassword); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.audit.Record(ctx, consumed.UserID, models.EventPasswordResetDone, meta.SourceAddress, meta.UserAgent,
		nil, models.RiskMedium)

	return nil
}

// EnrollTOTP stores a new authenticator secret as an encrypted envelope.
// MFA stays disabled until ActivateTOTP sees one valid code, proving the
// authenticator actually holds the secret.
func (s *AuthService) EnrollTOTP(ctx context.Context, userID, secret string, meta RequestMeta) error {
	if _, err := s.profiles.GetByUserID(ctx, userID); err != nil {
		return err
	}
	return s.storeEncrypted(ctx, userID, "totp_secret", secret, meta)
}

// ActivateTOTP turns MFA on after the first valid authenticator code
func (s *AuthService) ActivateTOTP(ctx context.Context, userID, code string, meta RequestMeta) error {
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}

	secret, err := s.decryptTOTPSecret(ctx, profile, meta)
	if err != nil {
		return err
	}

	if !s.totp.Validate(code, secret) {
		return models.ErrVerification
	}

	if err := s.profiles.SetMFAEnabled(ctx, userID, true); err != nil {
		return fmt.Errorf("failed to enable mfa: %w", err)
	}

	s.audit.Record(ctx, userID, models.EventMFAEnrolled, meta.SourceAddress, meta.UserAgent,
		models.EventDetails{"method": MFAMethodTOTP}, models.RiskLow)

	return nil
}
