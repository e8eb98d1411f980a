package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/auth"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/services"
	pkghttp "github.com/thependalorian/climate-economy-assistant-sub003/pkg/http"
)

// ProfileHandler serves the authenticated user's profile and PII updates
type ProfileHandler struct {
	service  *services.ProfileService
	ipConfig *pkghttp.IPConfig
}

// NewProfileHandler creates a new ProfileHandler
func NewProfileHandler(service *services.ProfileService, ipConfig *pkghttp.IPConfig) *ProfileHandler {
	return &ProfileHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// UpdatePIIRequest represents the request body for PII updates
type UpdatePIIRequest struct {
	FullName string `json:"full_name" validate:"omitempty,max=200"`
	Phone    string `json:"phone" validate:"omitempty,e164"`
}

// ConsentRequest represents the request body for consent updates
type ConsentRequest struct {
	ConsentVersion string `json:"consent_version" validate:"required"`
}

// ProfileResponse is the decrypted profile returned to its owner
type ProfileResponse struct {
	UserID         string            `json:"user_id"`
	Email          string            `json:"email"`
	Role           string            `json:"role"`
	FullName       string            `json:"full_name,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	EmailConfirmed bool              `json:"email_confirmed"`
	MFAEnabled     bool              `json:"mfa_enabled"`
	ConsentVersion string            `json:"consent_version,omitempty"`
	FieldErrors    map[string]string `json:"field_errors,omitempty"`
}

func (h *ProfileHandler) meta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		SourceAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:     r.Header.Get("User-Agent"),
	}
}

// Get handles GET /profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	view, err := h.service.Get(r.Context(), claims.UserID, h.meta(r))
	if err != nil {
		writeProfileError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ProfileResponse{
		UserID:         view.UserID,
		Email:          view.Email,
		Role:           view.Role,
		FullName:       view.FullName,
		Phone:          view.Phone,
		EmailConfirmed: view.EmailConfirmed,
		MFAEnabled:     view.MFAEnabled,
		ConsentVersion: view.ConsentVersion,
		FieldErrors:    view.DecryptErrors,
	})
}

// UpdatePII handles PUT /profile/pii
func (h *ProfileHandler) UpdatePII(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req UpdatePIIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.UpdatePII(r.Context(), claims.UserID,
		strings.TrimSpace(req.FullName), strings.TrimSpace(req.Phone), h.meta(r))
	if err != nil {
		writeProfileError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// RecordConsent handles POST /profile/consent
func (h *ProfileHandler) RecordConsent(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.RecordConsent(r.Context(), claims.UserID, req.ConsentVersion); err != nil {
		writeProfileError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "consent_recorded"})
}

func writeProfileError(w http.ResponseWriter, err error) {
	var rle *models.RateLimitedError

	switch {
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", rle.ResetAt.UTC().Format(http.TimeFormat))
		pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Profile not found")
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
