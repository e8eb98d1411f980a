package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/auth"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/services"
	pkghttp "github.com/thependalorian/climate-economy-assistant-sub003/pkg/http"
)

// MFAHandler manages authenticator-app enrollment for the session user
type MFAHandler struct {
	authService *services.AuthService
	totp        *auth.TOTPManager
	ipConfig    *pkghttp.IPConfig
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(authService *services.AuthService, totp *auth.TOTPManager, ipConfig *pkghttp.IPConfig) *MFAHandler {
	return &MFAHandler{
		authService: authService,
		totp:        totp,
		ipConfig:    ipConfig,
	}
}

// EnrollResponse carries the provisioning material for a new authenticator.
// The secret appears here exactly once and is stored encrypted.
type EnrollResponse struct {
	Secret    string `json:"secret"`
	QRDataURL string `json:"qr_data_url"`
}

func (h *MFAHandler) meta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		SourceAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:     r.Header.Get("User-Agent"),
	}
}

// Enroll handles POST /mfa/enroll. MFA stays off until Activate sees a
// valid code from the enrolled authenticator.
func (h *MFAHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	enrollment, err := h.totp.GenerateEnrollment(claims.Email)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if err := h.authService.EnrollTOTP(r.Context(), claims.UserID, enrollment.Secret, h.meta(r)); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Profile not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, EnrollResponse{
		Secret:    enrollment.Secret,
		QRDataURL: enrollment.QRDataURL,
	})
}

// Activate handles POST /mfa/activate
func (h *MFAHandler) Activate(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ActivateTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.authService.ActivateTOTP(r.Context(), claims.UserID, req.Code, h.meta(r)); err != nil {
		switch {
		case errors.Is(err, models.ErrVerification):
			pkghttp.WriteUnauthorized(w, "Invalid authenticator code")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Profile not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "mfa_enabled"})
}
