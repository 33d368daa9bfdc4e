package domain

// EventKind enumerates the discrete inputs of the session reducer
type EventKind string

const (
	// EventProviderChanged carries the provider's current identity, or nil on sign-out
	EventProviderChanged EventKind = "provider_changed"
	// EventUserTypeResolved carries the profile store answer for the current identity
	EventUserTypeResolved EventKind = "user_type_resolved"
	// EventVerifiedSession installs a commerce-verified session
	EventVerifiedSession EventKind = "verified_session"
	// EventSSOAuthenticated installs a session obtained from an SSO token
	EventSSOAuthenticated EventKind = "sso_authenticated"
	// EventSignedOut resets to the anonymous session
	EventSignedOut EventKind = "signed_out"
)

// SessionEvent is one input to the reducer. Epoch is the reconciliation
// generation that produced the event.
type SessionEvent struct {
	Kind     EventKind
	Epoch    uint64
	Provider *ProviderSession
	UserType UserType
	Verified *VerifiedSession
	SSO      *SSOClaims
}
