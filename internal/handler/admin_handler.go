package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"nutri-auth/internal/domain"
	"nutri-auth/internal/guard"
	"nutri-auth/internal/middleware"
	apperrors "nutri-auth/pkg/errors"
	"nutri-auth/pkg/logger"
)

// ProfileAdmin is the profile store surface behind the admin API
type ProfileAdmin interface {
	ListByType(ctx context.Context, userType domain.UserType, limit int) ([]domain.Profile, error)
	SetUserType(ctx context.Context, identity string, userType domain.UserType) error
}

// AdminHandler lists profiles and approves experts. Routes must sit behind
// guard.Require with an admin-only rule.
type AdminHandler struct {
	profiles ProfileAdmin
	logger   *logger.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(profiles ProfileAdmin, log *logger.Logger) *AdminHandler {
	return &AdminHandler{profiles: profiles, logger: log}
}

// ProfilesResponse is one page of profiles
type ProfilesResponse struct {
	Success  bool             `json:"success"`
	UserType domain.UserType  `json:"userType"`
	Profiles []domain.Profile `json:"profiles"`
}

// ListProfiles handles GET /api/admin/profiles?type=&limit=
func (h *AdminHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userType := domain.UserTypeExpert
	if raw := q.Get("type"); raw != "" {
		userType = domain.ParseUserType(raw)
		if !userType.Known() {
			middleware.WriteError(w, r, apperrors.NewValidationError("Unknown user type", map[string]interface{}{
				"type": raw,
			}), h.logger)
			return
		}
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			middleware.WriteError(w, r, apperrors.NewValidationError("limit must be a positive integer", nil), h.logger)
			return
		}
		limit = n
	}

	profiles, err := h.profiles.ListByType(r.Context(), userType, limit)
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}
	if profiles == nil {
		profiles = []domain.Profile{}
	}

	if err := middleware.WriteJSON(w, http.StatusOK, ProfilesResponse{
		Success:  true,
		UserType: userType,
		Profiles: profiles,
	}); err != nil {
		h.logger.WithError(err).Error("Failed to encode profiles response")
	}
}

// ApproveExpert handles POST /api/admin/profiles/{identity}/approve
func (h *AdminHandler) ApproveExpert(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	if identity == "" {
		middleware.WriteError(w, r, apperrors.NewValidationError("identity is required", nil), h.logger)
		return
	}

	if err := h.profiles.SetUserType(r.Context(), identity, domain.UserTypeExpert); err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	fields := map[string]interface{}{"identity": identity}
	if admin, ok := guard.SessionFrom(r.Context()); ok {
		fields["approved_by"] = admin.Identity
	}
	h.logger.WithFields(fields).Info("Expert approved")

	if err := middleware.WriteJSON(w, http.StatusOK, MessageResponse{
		Success: true,
		Message: "Expert approved",
	}); err != nil {
		h.logger.WithError(err).Error("Failed to encode approve response")
	}
}
