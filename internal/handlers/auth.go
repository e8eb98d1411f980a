package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/services"
	pkghttp "github.com/thependalorian/climate-economy-assistant-sub003/pkg/http"
)

// AuthHandler handles registration, login, OTP and password reset requests
type AuthHandler struct {
	service  *services.AuthService
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service *services.AuthService, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=12"`
	Role           string `json:"role" validate:"omitempty,oneof=job_seeker partner"`
	FullName       string `json:"full_name" validate:"omitempty,max=200"`
	Phone          string `json:"phone" validate:"omitempty,e164"`
	ConsentVersion string `json:"consent_version" validate:"required"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// VerifyOTPRequest represents the request body for OTP verification
type VerifyOTPRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Code    string `json:"code" validate:"required,len=6,numeric"`
	Purpose string `json:"purpose" validate:"required,oneof=registration login_mfa"`
}

// VerifyTOTPRequest represents the request body for authenticator verification
type VerifyTOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// PasswordResetRequest represents the request body for requesting a reset code
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,min=12"`
}

// ActivateTOTPRequest represents the request body for activating an authenticator
type ActivateTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

func (h *AuthHandler) meta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		SourceAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:     r.Header.Get("User-Agent"),
	}
}

// writeAuthError maps service errors onto transport responses without
// leaking whether an account exists.
func writeAuthError(w http.ResponseWriter, err error) {
	var rle *models.RateLimitedError

	switch {
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", rle.ResetAt.UTC().Format(http.TimeFormat))
		pkghttp.WriteTooManyRequests(w, "Too many attempts. Please try again later.")
	case errors.Is(err, models.ErrAuthentication), errors.Is(err, models.ErrVerification):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// Register handles POST /auth/register. The duplicate-account outcome is
// indistinguishable from success at this layer.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	result, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:          req.Email,
		Password:       req.Password,
		Role:           req.Role,
		FullName:       strings.TrimSpace(req.FullName),
		Phone:          strings.TrimSpace(req.Phone),
		ConsentVersion: req.ConsentVersion,
	}, h.meta(r))
	if err != nil {
		if errors.Is(err, models.ErrDuplicateAccount) {
			// Same status and body as success so the response cannot be used
			// to probe for registered emails.
			writeJSON(w, http.StatusAccepted, map[string]string{
				"status": "pending_verification",
			})
			return
		}
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  result.Status,
		"user_id": result.UserID,
	})
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	result, err := h.service.Login(r.Context(), req.Email, req.Password, h.meta(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeLoginResult(w, result)
}

// VerifyOTP handles POST /auth/verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	result, err := h.service.VerifyOTP(r.Context(), req.Email, req.Code, req.Purpose, h.meta(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeLoginResult(w, result)
}

// VerifyTOTP handles POST /auth/verify-totp
func (h *AuthHandler) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	result, err := h.service.VerifyTOTP(r.Context(), req.Email, req.Code, h.meta(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeLoginResult(w, result)
}

// RequestPasswordReset handles POST /auth/password-reset/request. The
// response is the same whether or not the account exists.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := h.service.RequestPasswordReset(r.Context(), req.Email, h.meta(r)); err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "reset_code_sent",
	})
}

// ResetPassword handles POST /auth/password-reset/confirm
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := h.service.ResetPassword(r.Context(), req.Email, req.Code, req.NewPassword, h.meta(r)); err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "password_updated",
	})
}

func writeLoginResult(w http.ResponseWriter, result *services.LoginResult) {
	if result.RequiresOTP {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "verification_required",
		})
		return
	}
	if result.RequiresMFA {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "mfa_required",
			"mfa_method": result.MFAMethod,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "authenticated",
		"access_token":  result.Session.AccessToken,
		"refresh_token": result.Session.RefreshToken,
		"expires_at":    result.Session.ExpiresAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
