package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// OTPRepository defines the persistence interface for one-time codes
type OTPRepository interface {
	CreateReplacingActive(ctx context.Context, userID, email, codeHash, purpose string, expiresAt time.Time) (*models.OTPCode, error)
	Consume(ctx context.Context, email, codeHash, purpose string) (*models.OTPCode, error)
}

// OTPService generates and verifies one-time numeric codes. Codes are
// persisted as SHA-256 hashes; the plaintext exists only in the Generate
// return value handed to the email sender.
type OTPService struct {
	repo   OTPRepository
	logger *slog.Logger
	expiry time.Duration
}

// NewOTPService creates a new OTPService
func NewOTPService(repo OTPRepository, logger *slog.Logger, expiry time.Duration) *OTPService {
	return &OTPService{
		repo:   repo,
		logger: logger,
		expiry: expiry,
	}
}

const otpDigits = 6

var otpModulus = big.NewInt(1000000)

// Generate produces a uniformly random 6-digit code, persists its hash, and
// returns the plaintext for out-of-band delivery. Generating a new code
// invalidates unexpired prior codes for the same (email, purpose) so only
// the newest request can verify.
func (s *OTPService) Generate(ctx context.Context, userID, email, purpose string) (string, error) {
	if !models.ValidOTPPurpose(purpose) {
		return "", models.ErrValidation
	}

	// crypto/rand with a power-of-ten modulus keeps the distribution uniform
	// over all one million codes.
	n, err := rand.Int(rand.Reader, otpModulus)
	if err != nil {
		s.logger.Error("failed to generate otp code", slog.Any("error", err))
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	code := fmt.Sprintf("%0*d", otpDigits, n.Int64())

	expiresAt := time.Now().Add(s.expiry)
	if _, err := s.repo.CreateReplacingActive(ctx, userID, email, hashCode(code), purpose, expiresAt); err != nil {
		s.logger.Error("failed to persist otp code",
			slog.String("purpose", purpose),
			slog.Any("error", err))
		return "", fmt.Errorf("failed to store code: %w", err)
	}

	s.logger.Info("otp code issued",
		slog.String("purpose", purpose),
		slog.Time("expires_at", expiresAt))

	return code, nil
}

// Verify consumes a code atomically. The repository's single UPDATE carries
// the whole validity predicate, so concurrent attempts with the same code
// yield exactly one success. Expired, used, and wrong codes all return the
// same ErrVerification.
func (s *OTPService) Verify(ctx context.Context, email, code, purpose string) (*models.OTPCode, error) {
	if !models.ValidOTPPurpose(purpose) || len(code) != otpDigits {
		return nil, models.ErrVerification
	}

	consumed, err := s.repo.Consume(ctx, email, hashCode(code), purpose)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("otp verification failed", slog.String("purpose", purpose))
			return nil, models.ErrVerification
		}
		s.logger.Error("otp verification store error",
			slog.String("purpose", purpose),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("otp verified",
		slog.String("purpose", purpose),
		slog.String("user_id", consumed.UserID))

	return consumed, nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
