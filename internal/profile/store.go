// Package profile adapts the profile store: the canonical per-identity record
// holding the user type and commerce linkage.
package profile

import (
	"context"

	"nutri-auth/internal/domain"
)

// Store is the profile store surface. Backend failures are returned as
// store_unavailable; callers must treat them as "unknown", never as a type.
type Store interface {
	// GetUserType returns false when no record exists for identity
	GetUserType(ctx context.Context, identity string) (domain.UserType, bool, error)
	// CreateProfile creates or replaces the record for identity
	CreateProfile(ctx context.Context, identity, email string, userType domain.UserType, extra domain.ProfileExtra) error
	// LinkCommerceIdentity merges the commerce fields only. Linking the same id twice is a no-op.
	LinkCommerceIdentity(ctx context.Context, identity, customerID string) error
	// FindByEmail returns the most recently updated record for email, or nil
	FindByEmail(ctx context.Context, email string) (*domain.Profile, error)
	ListByType(ctx context.Context, userType domain.UserType, limit int) ([]domain.Profile, error)
	// SetUserType changes the type of an existing record; not_found otherwise
	SetUserType(ctx context.Context, identity string, userType domain.UserType) error
	// Reassign moves a record to a new identity, remembering the old one
	Reassign(ctx context.Context, fromIdentity, toIdentity string) error
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
