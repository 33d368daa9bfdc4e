package handler

import (
	"net/http"

	"nutri-auth/internal/domain"
	"nutri-auth/internal/guard"
	"nutri-auth/internal/middleware"
	apperrors "nutri-auth/pkg/errors"
	"nutri-auth/pkg/logger"
)

// GuardHandler answers route decisions for client-side navigation
type GuardHandler struct {
	sessions Sessions
	routes   *guard.Table
	logger   *logger.Logger
}

// NewGuardHandler creates a new guard handler
func NewGuardHandler(sessions Sessions, routes *guard.Table, log *logger.Logger) *GuardHandler {
	return &GuardHandler{sessions: sessions, routes: routes, logger: log}
}

// GuardResponse is the decision for one requested path
type GuardResponse struct {
	Success bool `json:"success"`
	guard.Decision
	Rule guard.Rule `json:"rule"`
}

// Check handles GET /api/guard?path=
func (h *GuardHandler) Check(w http.ResponseWriter, r *http.Request) {
	clientID, err := requireClient(r)
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	requested := r.URL.Query().Get("path")
	if requested == "" || requested[0] != '/' {
		middleware.WriteError(w, r, apperrors.NewValidationError("path must be an absolute path", nil), h.logger)
		return
	}

	rule := h.routes.Match(requested)

	// protected routes re-check a verified session against the profile store
	var sess domain.Session
	if rule.RequireAuth {
		sess, err = h.sessions.ForNavigation(r.Context(), clientID)
	} else {
		sess, err = h.sessions.Current(r.Context(), clientID)
	}
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	decision := guard.Decide(sess, rule, requested)

	if err := middleware.WriteJSON(w, http.StatusOK, GuardResponse{
		Success:  true,
		Decision: decision,
		Rule:     rule,
	}); err != nil {
		h.logger.WithError(err).Error("Failed to encode guard response")
	}
}
