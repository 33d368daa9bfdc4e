package domain

import "time"

// SSOClaims is the decoded payload of an inbound single-sign-on token
type SSOClaims struct {
	Email     string
	Identity  string
	ExpiresAt time.Time
	Raw       string
}

// TransferParams are the commerce session-transfer query parameters
type TransferParams struct {
	Email      string
	CustomerID string
}

// Fingerprint identifies one transfer so reprocessing the same URL is a no-op
func (p TransferParams) Fingerprint() string {
	return NormalizeEmail(p.Email) + "|" + p.CustomerID
}
