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

// SecurityEventRepository handles the append-only audit trail. There are
// deliberately no update or delete methods.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func scanEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var event models.SecurityEvent

	err := row.Scan(
		&event.ID, &event.UserID, &event.EventType, &event.SourceAddress,
		&event.UserAgent, &event.Details, &event.RiskLevel, &event.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &event, nil
}

func scanEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)

	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

// Create appends one security event
func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	query := `
		INSERT INTO security_events (user_id, event_type, source_address, user_agent, details, risk_level)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, event_type, source_address, user_agent, details, risk_level, created_at
	`

	result, err := scanEventRow(r.pool.QueryRow(
		ctx, query,
		event.UserID, event.EventType, event.SourceAddress,
		event.UserAgent, event.Details, event.RiskLevel,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create security event: %w", err)
	}

	return result, nil
}

// ListByUser retrieves events for one user, newest first
func (r *SecurityEventRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, user_id, event_type, source_address, user_agent, details, risk_level, created_at
		FROM security_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}

	return scanEventRows(rows)
}

// ListByRiskLevel retrieves events at or above a point in time for a risk level
func (r *SecurityEventRepository) ListByRiskLevel(ctx context.Context, riskLevel string, since time.Time, limit int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, user_id, event_type, source_address, user_agent, details, risk_level, created_at
		FROM security_events
		WHERE risk_level = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, riskLevel, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events by risk: %w", err)
	}

	return scanEventRows(rows)
}

// ListRecent retrieves the newest events across all users
func (r *SecurityEventRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, user_id, event_type, source_address, user_agent, details, risk_level, created_at
		FROM security_events
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent security events: %w", err)
	}

	return scanEventRows(rows)
}

// CountByUser counts events recorded for one user
func (r *SecurityEventRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COUNT(*) FROM security_events WHERE user_id = $1`

	var count int64
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count security events: %w", err)
	}

	return count, nil
}
