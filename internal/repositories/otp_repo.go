package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/database"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// OTPRepository handles one-time-code data access
type OTPRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

// NewOTPRepository creates a new OTPRepository
func NewOTPRepository(db *database.DB) *OTPRepository {
	return &OTPRepository{db: db, pool: db.Pool}
}

func scanOTPRow(row rowScanner) (*models.OTPCode, error) {
	var code models.OTPCode

	err := row.Scan(
		&code.ID, &code.UserID, &code.Email, &code.CodeHash,
		&code.Purpose, &code.ExpiresAt, &code.Used, &code.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &code, nil
}

// CreateReplacingActive inserts a new code and invalidates any unexpired,
// unused codes for the same (email, purpose) in the same transaction.
// Single-active-code semantics: the newest request is the only code that can
// verify, which bounds the guessing surface after repeated resends.
func (r *OTPRepository) CreateReplacingActive(ctx context.Context, userID, email, codeHash, purpose string, expiresAt time.Time) (*models.OTPCode, error) {
	var created *models.OTPCode

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE otp_codes
			SET used = true
			WHERE email = $1 AND purpose = $2 AND used = false AND expires_at > NOW()
		`, email, purpose)
		if err != nil {
			return fmt.Errorf("failed to invalidate prior codes: %w", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO otp_codes (user_id, email, code_hash, purpose, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, user_id, email, code_hash, purpose, expires_at, used, created_at
		`, userID, email, codeHash, purpose, expiresAt)

		created, err = scanOTPRow(row)
		if err != nil {
			return fmt.Errorf("failed to create otp code: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Consume atomically flips used=true for a matching live code. The WHERE
// clause carries the full validity predicate, so two concurrent attempts with
// the same code produce exactly one row update and therefore one success.
func (r *OTPRepository) Consume(ctx context.Context, email, codeHash, purpose string) (*models.OTPCode, error) {
	query := `
		UPDATE otp_codes
		SET used = true
		WHERE email = $1 AND code_hash = $2 AND purpose = $3
		  AND used = false AND expires_at > NOW()
		RETURNING id, user_id, email, code_hash, purpose, expires_at, used, created_at
	`

	code, err := scanOTPRow(r.pool.QueryRow(ctx, query, email, codeHash, purpose))
	if err != nil {
		return nil, err
	}

	return code, nil
}

// CleanupExpired deletes codes whose expiry passed more than a day ago.
// Recent expired rows are kept so verification failures remain explainable
// during support investigations.
func (r *OTPRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM otp_codes
		WHERE expires_at < NOW() - INTERVAL '1 day'
	`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired otp codes: %w", err)
	}

	return result.RowsAffected(), nil
}
