package domain

import "strings"

// UserType is the canonical role held by the profile store
type UserType string

const (
	UserTypeUser    UserType = "user"
	UserTypeExpert  UserType = "expert"
	UserTypeAdmin   UserType = "admin"
	UserTypeUnknown UserType = "unknown"
)

// ParseUserType maps a stored value onto a known type. Anything unrecognised is unknown.
func ParseUserType(s string) UserType {
	switch UserType(strings.ToLower(strings.TrimSpace(s))) {
	case UserTypeUser:
		return UserTypeUser
	case UserTypeExpert:
		return UserTypeExpert
	case UserTypeAdmin:
		return UserTypeAdmin
	default:
		return UserTypeUnknown
	}
}

// Known reports whether t is one of user, expert or admin
func (t UserType) Known() bool {
	return t == UserTypeUser || t == UserTypeExpert || t == UserTypeAdmin
}

// Source records which path produced a session. Diagnostics only.
type Source string

const (
	SourceProvider         Source = "provider"
	SourceCommerceVerified Source = "commerce-verified"
	SourceSSOToken         Source = "sso-token"
	SourceNone             Source = "none"
)

// Session is the reconciled view of one client
type Session struct {
	Identity           string   `json:"identity,omitempty"`
	Email              string   `json:"email,omitempty"`
	UserType           UserType `json:"userType"`
	Authenticated      bool     `json:"authenticated"`
	Source             Source   `json:"source"`
	CommerceCustomerID string   `json:"commerceCustomerId,omitempty"`

	// Pending is true while userType resolution is still in flight
	Pending bool `json:"pending"`
}

// Anonymous returns the empty, unauthenticated session
func Anonymous() Session {
	return Session{UserType: UserTypeUnknown, Source: SourceNone}
}

// Authorized reports whether the session may be used to gate protected routes.
// An authenticated session whose type could not be resolved fails closed.
func (s Session) Authorized() bool {
	return s.Authenticated && !s.Pending && s.Email != "" && s.UserType.Known()
}

// NormalizeEmail lowercases and trims an address. Email is the cross-system join key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
