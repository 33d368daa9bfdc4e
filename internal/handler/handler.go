// Package handler exposes the session, guard, auth and admin operations over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"nutri-auth/internal/domain"
	"nutri-auth/internal/middleware"
	"nutri-auth/internal/reconcile"
	apperrors "nutri-auth/pkg/errors"
)

const maxBodyBytes = 64 << 10

// Sessions is the slice of the reconciliation engine the session and guard
// handlers use
type Sessions interface {
	Reconcile(ctx context.Context, clientID, location string) (reconcile.Outcome, error)
	Current(ctx context.Context, clientID string) (domain.Session, error)
	ForNavigation(ctx context.Context, clientID string) (domain.Session, error)
}

// Accounts is the slice of the reconciliation engine the auth handlers use
type Accounts interface {
	Login(ctx context.Context, clientID, email, password string) (reconcile.LoginResult, error)
	Register(ctx context.Context, clientID string, reg reconcile.Registration) (reconcile.RegisterResult, error)
	Logout(ctx context.Context, clientID string) error
	RequestPasswordReset(ctx context.Context, email string) error
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewValidationError("Invalid request body", nil)
	}
	return nil
}

// requireClient returns the client id set by the client cookie middleware
func requireClient(r *http.Request) (string, error) {
	clientID := middleware.ClientIDFrom(r.Context())
	if clientID == "" {
		return "", apperrors.NewAuthenticationError("Missing client session.")
	}
	return clientID, nil
}
