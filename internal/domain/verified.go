package domain

import "time"

// VerifiedSession is a short-lived trust assertion written after the commerce
// platform confirmed a customer out of band. It is never trusted past its TTL.
type VerifiedSession struct {
	Email              string    `json:"email"`
	Identity           string    `json:"identity"`
	CommerceCustomerID string    `json:"commerceCustomerId"`
	UserType           UserType  `json:"userType"`
	Verified           bool      `json:"verified"`
	Timestamp          time.Time `json:"timestamp"`
}

// Expired reports whether the record is older than ttl at now.
// A record that was never marked verified counts as expired.
func (v VerifiedSession) Expired(now time.Time, ttl time.Duration) bool {
	if !v.Verified || v.Timestamp.IsZero() {
		return true
	}
	return now.Sub(v.Timestamp) > ttl
}

// ProviderSession is the identity provider's own session for one client
type ProviderSession struct {
	Identity     string    `json:"identity"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the access token needs a refresh
func (p ProviderSession) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}
