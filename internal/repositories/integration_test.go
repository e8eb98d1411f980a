package repositories

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/database"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
)

// setupTestDB starts a postgres container, applies the schema and returns a
// wrapped pool. Skipped under -short so unit runs stay container-free.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("identity_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schemaPath, err := filepath.Abs(filepath.Join("..", "..", "migrations", "001_init.sql"))
	require.NoError(t, err)
	schema, err := os.ReadFile(schemaPath)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	return database.NewFromPool(pool, slog.Default())
}

func TestOTPRepository_ConsumeIsSingleUse(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOTPRepository(db)
	ctx := context.Background()

	_, err := repo.CreateReplacingActive(ctx, "user1", "a@b.com", "hash1", models.OTPPurposeRegistration, time.Now().Add(10*time.Minute))
	require.NoError(t, err)

	consumed, err := repo.Consume(ctx, "a@b.com", "hash1", models.OTPPurposeRegistration)
	require.NoError(t, err)
	assert.True(t, consumed.Used)

	// Second consume of the same code finds nothing.
	_, err = repo.Consume(ctx, "a@b.com", "hash1", models.OTPPurposeRegistration)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOTPRepository_ConcurrentConsumeExactlyOneWins(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOTPRepository(db)
	ctx := context.Background()

	_, err := repo.CreateReplacingActive(ctx, "user1", "race@b.com", "hash-race", models.OTPPurposeRegistration, time.Now().Add(10*time.Minute))
	require.NoError(t, err)

	const attempts = 10
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Consume(ctx, "race@b.com", "hash-race", models.OTPPurposeRegistration); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestOTPRepository_ExpiredCodeNotConsumable(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOTPRepository(db)
	ctx := context.Background()

	_, err := repo.CreateReplacingActive(ctx, "user1", "e@f.com", "hash-exp", models.OTPPurposeRegistration, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	// The hash matches but the expiry predicate has already passed.
	_, err = repo.Consume(ctx, "e@f.com", "hash-exp", models.OTPPurposeRegistration)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOTPRepository_NewCodeInvalidatesPrior(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOTPRepository(db)
	ctx := context.Background()

	_, err := repo.CreateReplacingActive(ctx, "user1", "c@d.com", "old-hash", models.OTPPurposeLoginMFA, time.Now().Add(10*time.Minute))
	require.NoError(t, err)
	_, err = repo.CreateReplacingActive(ctx, "user1", "c@d.com", "new-hash", models.OTPPurposeLoginMFA, time.Now().Add(10*time.Minute))
	require.NoError(t, err)

	// The superseded code no longer verifies; the newest does.
	_, err = repo.Consume(ctx, "c@d.com", "old-hash", models.OTPPurposeLoginMFA)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = repo.Consume(ctx, "c@d.com", "new-hash", models.OTPPurposeLoginMFA)
	assert.NoError(t, err)
}

func TestRateLimitRepository_WindowCountsAndResets(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRateLimitRepository(db)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		window, err := repo.IncrementWindow(ctx, "a@b.com", models.ActionLogin, "1.2.3.4", 15*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, window.Count)
	}

	// A zero-length window is already aged out, so the next increment resets.
	window, err := repo.IncrementWindow(ctx, "a@b.com", models.ActionLogin, "1.2.3.4", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, window.Count)
}

func TestRateLimitRepository_ConcurrentIncrementsAllCounted(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRateLimitRepository(db)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.IncrementWindow(ctx, "conc@b.com", models.ActionOTPVerify, "5.6.7.8", 15*time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	window, err := repo.IncrementWindow(ctx, "conc@b.com", models.ActionOTPVerify, "5.6.7.8", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, attempts+1, window.Count)
}

func TestKeyVersionRepository_BootstrapAndCAS(t *testing.T) {
	db := setupTestDB(t)
	repo := NewKeyVersionRepository(db)
	ctx := context.Background()

	first := &models.KeyVersion{Version: 1, DerivationSalt: []byte("salt-one-32-bytes-padpadpadpadpa"), Iterations: 100000}
	require.NoError(t, repo.Bootstrap(ctx, first))
	// Bootstrap is idempotent.
	require.NoError(t, repo.Bootstrap(ctx, first))

	current, err := repo.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, current)

	next := &models.KeyVersion{Version: 2, DerivationSalt: []byte("salt-two-32-bytes-padpadpadpadpa"), Iterations: 100000}
	created, err := repo.CreateAndAdvance(ctx, 1, next)
	require.NoError(t, err)
	assert.Equal(t, 2, created.Version)

	// A rotation expecting the stale version loses the compare-and-swap.
	loser := &models.KeyVersion{Version: 3, DerivationSalt: []byte("salt-thr-32-bytes-padpadpadpadpa"), Iterations: 100000}
	_, err = repo.CreateAndAdvance(ctx, 1, loser)
	assert.ErrorIs(t, err, models.ErrConflict)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSecurityEventRepository_AppendAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSecurityEventRepository(db)
	ctx := context.Background()

	userID := "user1"
	for _, risk := range []string{models.RiskLow, models.RiskHigh} {
		_, err := repo.Create(ctx, &models.SecurityEvent{
			UserID:        &userID,
			EventType:     models.EventPIIDecrypt,
			SourceAddress: "1.2.3.4",
			UserAgent:     "ua",
			Details:       models.EventDetails{"field": "phone"},
			RiskLevel:     risk,
		})
		require.NoError(t, err)
	}

	events, err := repo.ListByUser(ctx, userID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, "phone", events[0].Details["field"])

	high, err := repo.ListByRiskLevel(ctx, models.RiskHigh, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, high, 1)

	count, err := repo.CountByUser(ctx, userID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestProfileRepository_CRUDAndEncryptedColumns(t *testing.T) {
	db := setupTestDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.UserProfile{
		UserID: "user1",
		Email:  "a@b.com",
		Role:   models.RoleJobSeeker,
	})
	require.NoError(t, err)
	assert.False(t, created.EmailConfirmed)

	// Duplicate email maps to conflict.
	_, err = repo.Create(ctx, &models.UserProfile{UserID: "user2", Email: "a@b.com", Role: models.RoleJobSeeker})
	assert.ErrorIs(t, err, models.ErrConflict)

	require.NoError(t, repo.UpdateEncryptedField(ctx, "user1", "full_name", []byte(`{"ciphertext":"abc"}`)))
	assert.ErrorIs(t, repo.UpdateEncryptedField(ctx, "user1", "email", []byte("x")), models.ErrValidation)

	require.NoError(t, repo.SetEmailConfirmed(ctx, "user1"))
	require.NoError(t, repo.RecordConsent(ctx, "user1", "v2"))
	require.NoError(t, repo.SetMFAEnabled(ctx, "user1", true))

	profile, err := repo.GetByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, profile.EmailConfirmed)
	assert.True(t, profile.MFAEnabled)
	assert.Equal(t, "v2", profile.ConsentVersion)
	assert.NotEmpty(t, profile.FullName)

	require.NoError(t, repo.Delete(ctx, "user1"))
	_, err = repo.GetByUserID(ctx, "user1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAdminRepository_GetCapabilities(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAdminRepository(db)
	ctx := context.Background()

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO admin_capabilities (admin_id, view_audit_logs, export_data)
		VALUES ('admin1', true, true)
	`)
	require.NoError(t, err)

	set, err := repo.GetCapabilities(ctx, "admin1")
	require.NoError(t, err)
	assert.True(t, set.Has(models.CapViewAuditLogs))
	assert.True(t, set.Has(models.CapExportData))
	assert.False(t, set.Has(models.CapManageSystem))

	_, err = repo.GetCapabilities(ctx, "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
