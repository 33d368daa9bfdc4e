package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutri-auth/internal/domain"
	"nutri-auth/internal/middleware"
	apperrors "nutri-auth/pkg/errors"
)

type stubAuthorizer struct {
	sess domain.Session
	err  error
}

func (s stubAuthorizer) Authorize(context.Context, string) (domain.Session, error) {
	return s.sess, s.err
}

func TestRequire(t *testing.T) {
	adminOnly := Rule{Path: "/api/admin", RequireAuth: true, AllowedUserTypes: []domain.UserType{domain.UserTypeAdmin}}

	tests := []struct {
		name       string
		authz      stubAuthorizer
		clientID   string
		wantStatus int
		wantType   apperrors.ErrorType
	}{
		{
			name:       "Admin passes",
			authz:      stubAuthorizer{sess: session(domain.UserTypeAdmin)},
			clientID:   "c1",
			wantStatus: http.StatusOK,
		},
		{
			name:       "No client cookie",
			authz:      stubAuthorizer{sess: session(domain.UserTypeAdmin)},
			wantStatus: http.StatusUnauthorized,
			wantType:   apperrors.ErrorTypeAuthentication,
		},
		{
			name:       "Signed out",
			authz:      stubAuthorizer{err: apperrors.NewAuthenticationError("Please sign in.")},
			clientID:   "c1",
			wantStatus: http.StatusUnauthorized,
			wantType:   apperrors.ErrorTypeAuthentication,
		},
		{
			name:       "Expert is forbidden",
			authz:      stubAuthorizer{sess: session(domain.UserTypeExpert)},
			clientID:   "c1",
			wantStatus: http.StatusForbidden,
			wantType:   apperrors.ErrorTypeAuthorization,
		},
		{
			name:       "Profile store down fails closed",
			authz:      stubAuthorizer{err: apperrors.NewStoreUnavailableError(nil)},
			clientID:   "c1",
			wantStatus: http.StatusServiceUnavailable,
			wantType:   apperrors.ErrorTypeStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen domain.Session
			h := Require(tt.authz, adminOnly, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = SessionFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/admin/profiles", nil)
			if tt.clientID != "" {
				req = req.WithContext(context.WithValue(req.Context(), middleware.ClientIDContextKey, tt.clientID))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantType == "" {
				assert.Equal(t, domain.UserTypeAdmin, seen.UserType)
				return
			}
			var body apperrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body.Error.Type)
		})
	}
}
