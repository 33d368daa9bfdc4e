// Package identity adapts the hosted identity provider (Supabase GoTrue) and
// tracks the provider session of each client.
package identity

import (
	"context"

	"nutri-auth/internal/domain"
)

// Provider is the identity provider surface the reconciliation engine consumes.
// Every error returned is an *errors.AppError from the closed taxonomy.
type Provider interface {
	// SignIn fails with invalid_credentials, user_disabled or rate_limit
	SignIn(ctx context.Context, email, password string) (*domain.ProviderSession, error)
	// SignUp fails with email_in_use or weak_password. The returned session has
	// no tokens when the provider requires email confirmation.
	SignUp(ctx context.Context, email, password string) (*domain.ProviderSession, error)
	// SignInWithToken exchanges an SSO token for a provider session; fails with token_invalid
	SignInWithToken(ctx context.Context, token string) (*domain.ProviderSession, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.ProviderSession, error)
	SignOut(ctx context.Context, accessToken string) error
	RequestPasswordReset(ctx context.Context, email string) error
}
