package repositories

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/database"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// AdminRepository loads admin capability sets
type AdminRepository struct {
	pool *pgxpool.Pool
}

// NewAdminRepository creates a new AdminRepository
func NewAdminRepository(db *database.DB) *AdminRepository {
	return &AdminRepository{pool: db.Pool}
}

// GetCapabilities loads the capability set for one admin. Returns
// ErrNotFound when the id does not belong to an admin account.
func (r *AdminRepository) GetCapabilities(ctx context.Context, adminID string) (*models.AdminCapabilitySet, error) {
	query := `
		SELECT admin_id, manage_users, manage_partners, view_audit_logs,
		       manage_content, manage_system, export_data, delete_accounts
		FROM admin_capabilities
		WHERE admin_id = $1
	`

	var set models.AdminCapabilitySet
	err := r.pool.QueryRow(ctx, query, adminID).Scan(
		&set.AdminID, &set.ManageUsers, &set.ManagePartners, &set.ViewAuditLogs,
		&set.ManageContent, &set.ManageSystem, &set.ExportData, &set.DeleteAccounts,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &set, nil
}
