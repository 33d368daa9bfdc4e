package handler

import (
	"net/http"

	"nutri-auth/internal/domain"
	"nutri-auth/internal/middleware"
	"nutri-auth/internal/reconcile"
	"nutri-auth/pkg/logger"
)

// AuthHandler handles sign-in, registration, sign-out and password reset
type AuthHandler struct {
	accounts Accounts
	logger   *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(accounts Accounts, log *logger.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, logger: log}
}

// LoginRequest is the sign-in form
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the registration form
type RegisterRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	UserType         string `json:"userType"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	Phone            string `json:"phone"`
	AcceptsMarketing bool   `json:"acceptsMarketing"`
}

// PasswordResetRequest names the account to reset
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// LoginResponse wraps a sign-in result
type LoginResponse struct {
	Success bool `json:"success"`
	reconcile.LoginResult
}

// RegisterResponse wraps a registration result
type RegisterResponse struct {
	Success bool `json:"success"`
	reconcile.RegisterResult
}

// MessageResponse is a bare acknowledgement
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	clientID, err := requireClient(r)
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.accounts.Login(r.Context(), clientID, req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	h.respond(w, http.StatusOK, LoginResponse{Success: true, LoginResult: res})
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	clientID, err := requireClient(r)
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	reg := reconcile.Registration{
		Email:            req.Email,
		Password:         req.Password,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Phone:            req.Phone,
		AcceptsMarketing: req.AcceptsMarketing,
	}
	if req.UserType != "" {
		reg.UserType = domain.ParseUserType(req.UserType)
	}

	res, err := h.accounts.Register(r.Context(), clientID, reg)
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	h.respond(w, http.StatusCreated, RegisterResponse{Success: true, RegisterResult: res})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clientID, err := requireClient(r)
	if err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.accounts.Logout(r.Context(), clientID); err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	h.respond(w, http.StatusOK, MessageResponse{Success: true, Message: "Signed out"})
}

// PasswordReset handles POST /api/auth/password-reset
func (h *AuthHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		middleware.WriteError(w, r, err, h.logger)
		return
	}

	h.respond(w, http.StatusOK, MessageResponse{
		Success: true,
		Message: "Check your email for a link to reset your password.",
	})
}

func (h *AuthHandler) respond(w http.ResponseWriter, status int, v interface{}) {
	if err := middleware.WriteJSON(w, status, v); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}
