package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/database"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// RateLimitRepository handles rate-limit window counters. The persistence
// layer is the single source of truth for counts, so concurrent callers
// always observe a consistent window.
type RateLimitRepository struct {
	pool *pgxpool.Pool
}

// NewRateLimitRepository creates a new RateLimitRepository
func NewRateLimitRepository(db *database.DB) *RateLimitRepository {
	return &RateLimitRepository{pool: db.Pool}
}

// IncrementWindow atomically increments the counter for a key, resetting the
// window when it has aged out. One upsert statement performs the
// check-and-update, so there is no read-modify-write race between requests.
func (r *RateLimitRepository) IncrementWindow(ctx context.Context, identity, action, sourceAddress string, windowSize time.Duration) (*models.RateLimitWindow, error) {
	query := `
		INSERT INTO rate_limit_windows (identity, action, source_address, count, window_start)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (identity, action, source_address) DO UPDATE
		SET count = CASE
				WHEN rate_limit_windows.window_start < NOW() - $4::interval THEN 1
				ELSE rate_limit_windows.count + 1
			END,
			window_start = CASE
				WHEN rate_limit_windows.window_start < NOW() - $4::interval THEN NOW()
				ELSE rate_limit_windows.window_start
			END
		RETURNING identity, action, source_address, count, window_start
	`

	var window models.RateLimitWindow
	err := r.pool.QueryRow(ctx, query, identity, action, sourceAddress, windowSize).Scan(
		&window.Identity, &window.Action, &window.SourceAddress,
		&window.Count, &window.WindowStart,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to increment rate limit window: %w", database.MapPostgresError(err))
	}

	return &window, nil
}

// CleanupStale removes windows that aged out more than a day ago
func (r *RateLimitRepository) CleanupStale(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM rate_limit_windows
		WHERE window_start < NOW() - INTERVAL '1 day'
	`

	result, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale rate limit windows: %w", err)
	}

	return result.RowsAffected(), nil
}
