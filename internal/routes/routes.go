package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/auth"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/handlers"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/middleware"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/repositories"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	profileHandler *handlers.ProfileHandler,
	mfaHandler *handlers.MFAHandler,
	adminHandler *handlers.AdminHandler,
	tokenValidator *auth.TokenValidator,
	profileRepo *repositories.ProfileRepository,
) {
	// Per-IP rate limiting for unauthenticated auth endpoints; the
	// per-account sliding windows are enforced inside the services.
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))

		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/verify-otp", authHandler.VerifyOTP)
		r.Post("/auth/verify-totp", authHandler.VerifyTOTP)
		r.Post("/auth/password-reset/request", authHandler.RequestPasswordReset)
		r.Post("/auth/password-reset/confirm", authHandler.ResetPassword)
	})

	// Protected routes - valid session required
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenValidator))

		r.Get("/profile", profileHandler.Get)
		r.Put("/profile/pii", profileHandler.UpdatePII)
		r.Post("/profile/consent", profileHandler.RecordConsent)

		r.Post("/mfa/enroll", mfaHandler.Enroll)
		r.Post("/mfa/activate", mfaHandler.Activate)

		// Admin routes: the role gate filters non-admins early; each
		// operation still runs its own audited capability check.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(profileRepo, models.RoleAdmin))

			r.Get("/admin/capabilities", adminHandler.Capabilities)
			r.Get("/admin/permissions/{capability}", adminHandler.CheckPermission)
			r.Get("/admin/audit-events", adminHandler.ListAuditEvents)
			r.Get("/admin/users/{userID}/audit-events", adminHandler.ListUserAuditEvents)
			r.Get("/admin/users/{userID}/export", adminHandler.ExportUserEvents)
			r.Post("/admin/keys/rotate", adminHandler.RotateKey)
		})
	})
}
