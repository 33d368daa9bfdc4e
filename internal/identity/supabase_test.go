package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "nutri-auth/pkg/errors"
	"nutri-auth/pkg/logger"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *SupabaseProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewSupabaseProvider(SupabaseConfig{
		URL:             server.URL,
		AnonKey:         "anon-key",
		IDTokenProvider: "storefront",
	}, logger.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSupabaseProvider_SignIn(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		response    interface{}
		wantErrType apperrors.ErrorType
	}{
		{
			name:   "success",
			status: http.StatusOK,
			response: map[string]interface{}{
				"access_token":  "at",
				"refresh_token": "rt",
				"expires_in":    3600,
				"user":          map[string]string{"id": "uid1", "email": "A@X.com"},
			},
		},
		{
			name:        "invalid credentials",
			status:      http.StatusBadRequest,
			response:    map[string]interface{}{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"},
			wantErrType: apperrors.ErrorTypeInvalidCredentials,
		},
		{
			name:        "legacy invalid grant",
			status:      http.StatusBadRequest,
			response:    map[string]interface{}{"error": "invalid_grant", "error_description": "Invalid login credentials"},
			wantErrType: apperrors.ErrorTypeInvalidCredentials,
		},
		{
			name:        "banned",
			status:      http.StatusBadRequest,
			response:    map[string]interface{}{"error_code": "user_banned", "msg": "User is banned"},
			wantErrType: apperrors.ErrorTypeUserDisabled,
		},
		{
			name:        "rate limited",
			status:      http.StatusTooManyRequests,
			response:    map[string]interface{}{"error_code": "over_request_rate_limit"},
			wantErrType: apperrors.ErrorTypeRateLimit,
		},
		{
			name:        "server error",
			status:      http.StatusInternalServerError,
			response:    "boom",
			wantErrType: apperrors.ErrorTypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/auth/v1/token", r.URL.Path)
				assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
				assert.Equal(t, "anon-key", r.Header.Get("apikey"))
				assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))

				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "a@x.com", body["email"])

				writeJSON(w, tt.status, tt.response)
			})

			ps, err := p.SignIn(context.Background(), " A@x.com", "secret")
			if tt.wantErrType != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErrType, apperrors.TypeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "uid1", ps.Identity)
			assert.Equal(t, "a@x.com", ps.Email)
			assert.Equal(t, "at", ps.AccessToken)
			assert.WithinDuration(t, time.Now().Add(time.Hour), ps.ExpiresAt, 5*time.Second)
		})
	}
}

func TestSupabaseProvider_SignUp(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		response    interface{}
		wantErrType apperrors.ErrorType
		wantTokens  bool
	}{
		{
			name:   "autoconfirmed session",
			status: http.StatusOK,
			response: map[string]interface{}{
				"access_token": "at",
				"expires_at":   time.Now().Add(time.Hour).Unix(),
				"user":         map[string]string{"id": "uid2", "email": "b@x.com"},
			},
			wantTokens: true,
		},
		{
			name:     "confirmation required returns bare user",
			status:   http.StatusOK,
			response: map[string]interface{}{"id": "uid2", "email": "b@x.com"},
		},
		{
			name:        "already registered",
			status:      http.StatusUnprocessableEntity,
			response:    map[string]interface{}{"error_code": "user_already_exists", "msg": "User already registered"},
			wantErrType: apperrors.ErrorTypeEmailInUse,
		},
		{
			name:        "weak password",
			status:      http.StatusUnprocessableEntity,
			response:    map[string]interface{}{"error_code": "weak_password", "msg": "Password should be at least 8 characters."},
			wantErrType: apperrors.ErrorTypeWeakPassword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/v1/signup", r.URL.Path)
				writeJSON(w, tt.status, tt.response)
			})

			ps, err := p.SignUp(context.Background(), "b@x.com", "Str0ng!pass")
			if tt.wantErrType != "" {
				assert.Equal(t, tt.wantErrType, apperrors.TypeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "uid2", ps.Identity)
			assert.Equal(t, tt.wantTokens, ps.AccessToken != "")
		})
	}
}

func TestSupabaseProvider_SignInWithToken(t *testing.T) {
	t.Run("exchange", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "id_token", r.URL.Query().Get("grant_type"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "storefront", body["provider"])
			assert.Equal(t, "sso-token", body["id_token"])
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token": "at",
				"user":         map[string]string{"id": "uid1", "email": "a@x.com"},
			})
		})
		ps, err := p.SignInWithToken(context.Background(), "sso-token")
		require.NoError(t, err)
		assert.Equal(t, "uid1", ps.Identity)
	})

	t.Run("rejected token", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error_code": "bad_jwt"})
		})
		_, err := p.SignInWithToken(context.Background(), "sso-token")
		assert.Equal(t, apperrors.ErrorTypeTokenInvalid, apperrors.TypeOf(err))
	})
}

func TestSupabaseProvider_SignOutAndRecover(t *testing.T) {
	var paths []string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/auth/v1/logout" {
			assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{})
	})

	require.NoError(t, p.SignOut(context.Background(), "user-token"))
	require.NoError(t, p.SignOut(context.Background(), ""))
	require.NoError(t, p.RequestPasswordReset(context.Background(), "a@x.com"))

	assert.Equal(t, []string{"/auth/v1/logout", "/auth/v1/recover"}, paths)
}

func TestSupabaseProvider_Unreachable(t *testing.T) {
	p := NewSupabaseProvider(SupabaseConfig{URL: "http://127.0.0.1:1", Timeout: time.Second}, logger.NewNop())
	_, err := p.SignIn(context.Background(), "a@x.com", "x")
	assert.Equal(t, apperrors.ErrorTypeInternal, apperrors.TypeOf(err))
}
