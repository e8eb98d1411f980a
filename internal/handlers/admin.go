package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/thependalorian/climate-economy-assistant-sub003/internal/auth"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/models"
	"github.com/thependalorian/climate-economy-assistant-sub003/internal/services"
	pkghttp "github.com/thependalorian/climate-economy-assistant-sub003/pkg/http"
)

// AdminHandler serves capability-gated administrative endpoints
type AdminHandler struct {
	service  *services.AdminService
	ipConfig *pkghttp.IPConfig
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service *services.AdminService, ipConfig *pkghttp.IPConfig) *AdminHandler {
	return &AdminHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

func (h *AdminHandler) meta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		SourceAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:     r.Header.Get("User-Agent"),
	}
}

func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrPermissionDenied):
		pkghttp.WriteForbidden(w, "Insufficient permissions")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Operation conflicted with a concurrent change")
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// Capabilities handles GET /admin/capabilities
func (h *AdminHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	caps, err := h.service.Capabilities(r.Context(), claims.UserID)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"capabilities": caps})
}

// CheckPermission handles GET /admin/permissions/{capability}
func (h *AdminHandler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	cap := models.Capability(chi.URLParam(r, "capability"))

	granted, err := h.service.CheckPermission(r.Context(), claims.UserID, cap, h.meta(r))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"capability": string(cap),
		"granted":    granted,
	})
}

// ListAuditEvents handles GET /admin/audit-events
func (h *AdminHandler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	limit, offset := pagination(r)

	var (
		events []*models.SecurityEvent
		err    error
	)
	if riskLevel := r.URL.Query().Get("risk_level"); riskLevel != "" {
		since := time.Now().Add(-24 * time.Hour)
		if s := r.URL.Query().Get("since"); s != "" {
			if parsed, perr := time.Parse(time.RFC3339, s); perr == nil {
				since = parsed
			}
		}
		events, err = h.service.ListHighRiskEvents(r.Context(), claims.UserID, riskLevel, since, limit, h.meta(r))
	} else {
		events, err = h.service.ListAuditEvents(r.Context(), claims.UserID, limit, offset, h.meta(r))
	}
	if err != nil {
		writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// ListUserAuditEvents handles GET /admin/users/{userID}/audit-events
func (h *AdminHandler) ListUserAuditEvents(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	limit, offset := pagination(r)
	userID := chi.URLParam(r, "userID")

	events, err := h.service.ListUserAuditEvents(r.Context(), claims.UserID, userID, limit, offset, h.meta(r))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// ExportUserEvents handles GET /admin/users/{userID}/export
func (h *AdminHandler) ExportUserEvents(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	userID := chi.URLParam(r, "userID")

	events, err := h.service.ExportUserEvents(r.Context(), claims.UserID, userID, h.meta(r))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject_user": userID,
		"event_count":  len(events),
		"events":       events,
	})
}

// RotateKey handles POST /admin/keys/rotate
func (h *AdminHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetSessionFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	version, err := h.service.RotatePIIKey(r.Context(), claims.UserID, h.meta(r))
	if err != nil {
		writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "rotated",
		"key_version": version,
	})
}
