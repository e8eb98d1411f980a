package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/database"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// ProfileRepository handles user profile data access. PII columns store
// EncryptedField envelopes produced by the PII service, never plaintext.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository creates a new ProfileRepository
func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{pool: db.Pool}
}

func scanProfileRow(row rowScanner) (*models.UserProfile, error) {
	var p models.UserProfile

	err := row.Scan(
		&p.UserID, &p.Email, &p.Role, &p.FullName, &p.Phone,
		&p.EmailConfirmed, &p.MFAEnabled, &p.TOTPSecret,
		&p.ConsentVersion, &p.ConsentedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &p, nil
}

const profileColumns = `user_id, email, role, full_name, phone, email_confirmed,
	mfa_enabled, totp_secret, consent_version, consented_at, created_at, updated_at`

// Create inserts a new profile row
func (r *ProfileRepository) Create(ctx context.Context, p *models.UserProfile) (*models.UserProfile, error) {
	query := `
		INSERT INTO user_profiles (user_id, email, role, full_name, phone)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + profileColumns

	profile, err := scanProfileRow(r.pool.QueryRow(
		ctx, query, p.UserID, p.Email, p.Role, p.FullName, p.Phone,
	))
	if err != nil {
		return nil, err
	}

	return profile, nil
}

// GetByUserID retrieves a profile by identity id
func (r *ProfileRepository) GetByUserID(ctx context.Context, userID string) (*models.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE user_id = $1`
	return scanProfileRow(r.pool.QueryRow(ctx, query, userID))
}

// GetByEmail retrieves a profile by email
func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE email = $1`
	return scanProfileRow(r.pool.QueryRow(ctx, query, email))
}

// Delete removes a profile. Used by registration compensation only.
func (r *ProfileRepository) Delete(ctx context.Context, userID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM user_profiles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RecordConsent stamps the consent version and time
func (r *ProfileRepository) RecordConsent(ctx context.Context, userID, consentVersion string) error {
	query := `
		UPDATE user_profiles
		SET consent_version = $2, consented_at = NOW(), updated_at = NOW()
		WHERE user_id = $1
	`

	result, err := r.pool.Exec(ctx, query, userID, consentVersion)
	if err != nil {
		return fmt.Errorf("failed to record consent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetEmailConfirmed marks the profile's email as confirmed
func (r *ProfileRepository) SetEmailConfirmed(ctx context.Context, userID string) error {
	query := `
		UPDATE user_profiles
		SET email_confirmed = true, updated_at = NOW()
		WHERE user_id = $1
	`

	result, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to confirm email: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateEncryptedField replaces one encrypted PII column wholesale. Fields
// are never patched in place after the authentication tag is computed.
func (r *ProfileRepository) UpdateEncryptedField(ctx context.Context, userID, fieldName string, envelope []byte) error {
	var column string
	switch fieldName {
	case "full_name":
		column = "full_name"
	case "phone":
		column = "phone"
	case "totp_secret":
		column = "totp_secret"
	default:
		return models.ErrValidation
	}

	query := fmt.Sprintf(`
		UPDATE user_profiles
		SET %s = $2, updated_at = NOW()
		WHERE user_id = $1
	`, column)

	result, err := r.pool.Exec(ctx, query, userID, envelope)
	if err != nil {
		return fmt.Errorf("failed to update encrypted field: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetMFAEnabled toggles the MFA flag
func (r *ProfileRepository) SetMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	query := `
		UPDATE user_profiles
		SET mfa_enabled = $2, updated_at = NOW()
		WHERE user_id = $1
	`

	result, err := r.pool.Exec(ctx, query, userID, enabled)
	if err != nil {
		return fmt.Errorf("failed to update mfa flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
