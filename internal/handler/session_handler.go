package handler

import (
	"net/http"

	"nutri-auth/internal/domain"
	"nutri-auth/internal/middleware"
	"nutri-auth/internal/reconcile"
	"nutri-auth/pkg/logger"
)

// SessionHandler serves the client's reconciled session
type SessionHandler struct {
	sessions Sessions
	logger   *logger.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions Sessions, log *logger.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: log}
}

// SessionResponse wraps the committed session
type SessionResponse struct {
	Success    bool           `json:"success"`
	Session    domain.Session `json:"session"`
	Authorized bool           `json:"authorized"`
}

// ReconcileRequest carries the page location the client landed on
type ReconcileRequest struct {
	Location string `json:"location"`
}

// ReconcileResponse wraps a reconciliation outcome
type ReconcileResponse struct {
	Success bool `json:"success"`
	reconcile.Outcome
	Authorized bool `json:"authorized"`
}

// Get handles GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	clientID, err := requireClient(r)
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	sess, err := h.sessions.Current(r.Context(), clientID)
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	if err := middleware.WriteJSON(w, http.StatusOK, SessionResponse{
		Success:    true,
		Session:    sess,
		Authorized: sess.Authorized(),
	}); err != nil {
		h.logger.WithError(err).Error("Failed to encode session response")
	}
}

// Reconcile handles POST /api/session/reconcile
func (h *SessionHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	clientID, err := requireClient(r)
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	var req ReconcileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	out, err := h.sessions.Reconcile(r.Context(), clientID, req.Location)
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"client_id": clientID,
		"action":    out.Action,
		"source":    out.Session.Source,
		"stale":     out.Stale,
	}).Debug("Session reconciled")

	if err := middleware.WriteJSON(w, http.StatusOK, ReconcileResponse{
		Success:    true,
		Outcome:    out,
		Authorized: out.Session.Authorized(),
	}); err != nil {
		h.logger.WithError(err).Error("Failed to encode reconcile response")
	}
}
