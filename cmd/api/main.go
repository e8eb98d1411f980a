package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/auth"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/background"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/config"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/database"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/handlers"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/identity"
	middlewareCustom "github.com/thependalorian/climate-economy-assistant-sub003/internal/middleware"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/repositories"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/routes"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/services"
	pkghttp "github.com/thependalorian/climate-economy-assistant-sub003/pkg/http"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration. Startup fails here when PII_MASTER_SECRET or
	// SESSION_TOKEN_SECRET are missing or weak.
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	otpRepo := repositories.NewOTPRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)
	rateRepo := repositories.NewRateLimitRepository(db)
	keyRepo := repositories.NewKeyVersionRepository(db)
	profileRepo := repositories.NewProfileRepository(db)
	adminRepo := repositories.NewAdminRepository(db)

	// Audit trail
	auditService := services.NewAuditService(eventRepo, logger)

	// Rate limiting
	rateLimitService := services.NewRateLimitService(rateRepo, services.RateLimitConfig{
		WindowSize: cfg.Security.RateLimitWindow,
		Policies: services.DefaultPolicies(
			cfg.Security.MaxLoginAttempts,
			cfg.Security.MaxRegistrations,
			cfg.Security.MaxOTPRequests,
			cfg.Security.MaxOTPVerifies,
			cfg.Security.MaxPasswordResets,
			cfg.Security.MaxPIIDecrypts,
		),
	}, logger)

	// PII encryption
	piiService, err := services.NewPIIService(keyRepo, auditService, logger,
		cfg.Security.MasterSecret, cfg.Security.KDFIterations)
	if err != nil {
		logger.Error("failed to create pii service", slog.Any("error", err))
		os.Exit(1)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := piiService.Init(initCtx); err != nil {
		initCancel()
		logger.Error("failed to initialize pii service", slog.Any("error", err))
		os.Exit(1)
	}
	initCancel()

	// External identity provider
	provider := identity.NewHTTPProvider(
		cfg.Identity.BaseURL,
		cfg.Identity.ServiceKey,
		cfg.Identity.Timeout,
		logger,
	)

	// AWS SES email sender
	emailSender, err := services.NewAWSSESEmailSender(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize email sender", slog.Any("error", err))
		os.Exit(1)
	}

	// OTP and TOTP
	otpService := services.NewOTPService(otpRepo, logger, cfg.Security.OTPExpiry)
	totpManager := auth.NewTOTPManager(cfg.Security.TOTPIssuer)

	// Flows
	authService := services.NewAuthService(
		profileRepo, provider, otpService, emailSender,
		rateLimitService, piiService, auditService, totpManager,
		logger, cfg.Security.OTPExpiry,
	)
	profileService := services.NewProfileService(profileRepo, piiService, rateLimitService, logger)
	adminService := services.NewAdminService(adminRepo, eventRepo, piiService, auditService, logger)

	// Session token validation
	tokenValidator := auth.NewTokenValidator(cfg.Security.SessionTokenSecret)

	// Handlers
	ipConfig := &pkghttp.IPConfig{
		TrustedProxies: []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"},
	}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	profileHandler := handlers.NewProfileHandler(profileService, ipConfig)
	mfaHandler := handlers.NewMFAHandler(authService, totpManager, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService, ipConfig)

	// Background cleanup
	cleanupManager := background.NewCleanupManager(otpRepo, rateRepo, logger, cfg.Security.CleanupInterval)

	// Setup router
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, profileHandler, mfaHandler, adminHandler, tokenValidator, profileRepo)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
