package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/database"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// KeyVersionRepository stores key-derivation parameters. Version rows are
// append-only: deleting one would orphan every ciphertext produced under it.
// The current pointer lives in a single-row table advanced by compare-and-swap.
type KeyVersionRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

// NewKeyVersionRepository creates a new KeyVersionRepository
func NewKeyVersionRepository(db *database.DB) *KeyVersionRepository {
	return &KeyVersionRepository{db: db, pool: db.Pool}
}

func scanKeyVersionRow(row rowScanner) (*models.KeyVersion, error) {
	var kv models.KeyVersion

	err := row.Scan(&kv.Version, &kv.DerivationSalt, &kv.Iterations, &kv.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &kv, nil
}

// GetAll returns every key version ever created, oldest first
func (r *KeyVersionRepository) GetAll(ctx context.Context) ([]*models.KeyVersion, error) {
	query := `
		SELECT version, derivation_salt, iterations, created_at
		FROM pii_key_versions
		ORDER BY version ASC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query key versions: %w", err)
	}
	defer rows.Close()

	versions := make([]*models.KeyVersion, 0)
	for rows.Next() {
		kv, err := scanKeyVersionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key version: %w", err)
		}
		versions = append(versions, kv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating key version rows: %w", err)
	}

	return versions, nil
}

// GetByVersion returns the derivation parameters for one version
func (r *KeyVersionRepository) GetByVersion(ctx context.Context, version int) (*models.KeyVersion, error) {
	query := `
		SELECT version, derivation_salt, iterations, created_at
		FROM pii_key_versions
		WHERE version = $1
	`

	return scanKeyVersionRow(r.pool.QueryRow(ctx, query, version))
}

// CurrentVersion returns the version the current pointer designates
func (r *KeyVersionRepository) CurrentVersion(ctx context.Context) (int, error) {
	query := `SELECT version FROM pii_current_key LIMIT 1`

	var version int
	if err := r.pool.QueryRow(ctx, query).Scan(&version); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return version, nil
}

// CreateAndAdvance inserts the new version row and advances the current
// pointer in one transaction, guarded by a compare-and-swap on the expected
// current version. Two concurrent rotations cannot both observe the same
// expected value, so exactly one wins and the other returns ErrConflict.
func (r *KeyVersionRepository) CreateAndAdvance(ctx context.Context, expectedCurrent int, kv *models.KeyVersion) (*models.KeyVersion, error) {
	var created *models.KeyVersion

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE pii_current_key SET version = $1 WHERE version = $2
		`, kv.Version, expectedCurrent)
		if err != nil {
			return fmt.Errorf("failed to advance current key version: %w", err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrConflict
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO pii_key_versions (version, derivation_salt, iterations)
			VALUES ($1, $2, $3)
			RETURNING version, derivation_salt, iterations, created_at
		`, kv.Version, kv.DerivationSalt, kv.Iterations)

		created, err = scanKeyVersionRow(row)
		if err != nil {
			return fmt.Errorf("failed to create key version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Bootstrap inserts version 1 and the current pointer if the tables are
// empty. Safe to call on every startup.
func (r *KeyVersionRepository) Bootstrap(ctx context.Context, kv *models.KeyVersion) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO pii_key_versions (version, derivation_salt, iterations)
			VALUES ($1, $2, $3)
			ON CONFLICT (version) DO NOTHING
		`, kv.Version, kv.DerivationSalt, kv.Iterations)
		if err != nil {
			return fmt.Errorf("failed to bootstrap key version: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO pii_current_key (singleton, version)
			VALUES (true, $1)
			ON CONFLICT (singleton) DO NOTHING
		`, kv.Version)
		if err != nil {
			return fmt.Errorf("failed to bootstrap current key pointer: %w", err)
		}
		return nil
	})
}
