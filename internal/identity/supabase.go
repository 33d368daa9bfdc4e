package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"nutri-auth/internal/domain"
	apperrors "nutri-auth/pkg/errors"
	"nutri-auth/pkg/logger"
)

// SupabaseConfig configures the GoTrue REST client
type SupabaseConfig struct {
	URL     string
	AnonKey string
	// IDTokenProvider is the provider name GoTrue expects for the id_token grant
	IDTokenProvider string
	Timeout         time.Duration
}

// SupabaseProvider implements Provider against the GoTrue REST API
type SupabaseProvider struct {
	config     SupabaseConfig
	httpClient *http.Client
	logger     *logger.Logger
	now        func() time.Time
}

// NewSupabaseProvider creates a new GoTrue client
func NewSupabaseProvider(cfg SupabaseConfig, logger *logger.Logger) *SupabaseProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SupabaseProvider{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
		now:    time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	// Sign-up without auto-confirm returns the bare user
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (r tokenResponse) session(now time.Time) *domain.ProviderSession {
	ps := &domain.ProviderSession{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
	}
	if r.User != nil {
		ps.Identity = r.User.ID
		ps.Email = domain.NormalizeEmail(r.User.Email)
	} else {
		ps.Identity = r.ID
		ps.Email = domain.NormalizeEmail(r.Email)
	}
	switch {
	case r.ExpiresAt > 0:
		ps.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		ps.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return ps
}

// SignIn uses the password grant
func (s *SupabaseProvider) SignIn(ctx context.Context, email, password string) (*domain.ProviderSession, error) {
	body := map[string]string{"email": domain.NormalizeEmail(email), "password": password}
	var resp tokenResponse
	if err := s.post(ctx, opSignIn, "/auth/v1/token?grant_type=password", "", body, &resp); err != nil {
		return nil, err
	}
	return resp.session(s.now()), nil
}

// SignUp creates a new identity with the given password
func (s *SupabaseProvider) SignUp(ctx context.Context, email, password string) (*domain.ProviderSession, error) {
	body := map[string]string{"email": domain.NormalizeEmail(email), "password": password}
	var resp tokenResponse
	if err := s.post(ctx, opSignUp, "/auth/v1/signup", "", body, &resp); err != nil {
		return nil, err
	}
	ps := resp.session(s.now())
	if ps.Identity == "" {
		return nil, apperrors.NewInternalError("Identity provider returned no user", nil)
	}
	return ps, nil
}

// SignInWithToken exchanges an SSO token using the id_token grant
func (s *SupabaseProvider) SignInWithToken(ctx context.Context, token string) (*domain.ProviderSession, error) {
	body := map[string]string{"provider": s.config.IDTokenProvider, "id_token": token}
	var resp tokenResponse
	if err := s.post(ctx, opTokenExchange, "/auth/v1/token?grant_type=id_token", "", body, &resp); err != nil {
		return nil, err
	}
	return resp.session(s.now()), nil
}

// Refresh exchanges a refresh token for a new session
func (s *SupabaseProvider) Refresh(ctx context.Context, refreshToken string) (*domain.ProviderSession, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var resp tokenResponse
	if err := s.post(ctx, opRefresh, "/auth/v1/token?grant_type=refresh_token", "", body, &resp); err != nil {
		return nil, err
	}
	return resp.session(s.now()), nil
}

// SignOut revokes the session behind accessToken
func (s *SupabaseProvider) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	return s.post(ctx, opSignOut, "/auth/v1/logout", accessToken, nil, nil)
}

// RequestPasswordReset asks GoTrue to email a recovery link
func (s *SupabaseProvider) RequestPasswordReset(ctx context.Context, email string) error {
	body := map[string]string{"email": domain.NormalizeEmail(email)}
	return s.post(ctx, opRecover, "/auth/v1/recover", "", body, nil)
}

// post sends a JSON request and decodes a 2xx body into out. Failures are
// logged with the raw vendor code and returned normalised.
func (s *SupabaseProvider) post(ctx context.Context, op operation, path, bearer string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return apperrors.NewInternalError("Failed to encode request", err)
		}
		reader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL+path, reader)
	if err != nil {
		return apperrors.NewInternalError("Failed to create request", err)
	}

	if bearer == "" {
		bearer = s.config.AnonKey
	}
	req.Header.Set("apikey", s.config.AnonKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.WithError(err).WithField("path", path).Error("Identity provider request failed")
		return apperrors.NewInternalError("Identity provider is temporarily unavailable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewInternalError("Failed to read identity provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var gerr gotrueError
		_ = json.Unmarshal(body, &gerr)
		appErr := normalize(op, resp.StatusCode, gerr)
		s.logger.WithFields(map[string]interface{}{
			"path":        path,
			"status_code": resp.StatusCode,
			"vendor_code": gerr.code(),
			"mapped_type": appErr.Type,
			"duration":    time.Since(start).String(),
		}).Info("Identity provider rejected request")
		return appErr
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"path":        path,
			"status_code": resp.StatusCode,
		}).Error("Failed to parse identity provider response")
		return apperrors.NewInternalError("Failed to parse identity provider response", err)
	}
	return nil
}
