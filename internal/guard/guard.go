// Package guard decides what a navigation to a front-end route should do
// given the client's reconciled session.
package guard

import (
	"net/url"
	"strings"

	"nutri-auth/internal/domain"
	"nutri-auth/internal/sso"
)

// Kind is the outcome of a route decision
type Kind string

const (
	// KindChecking means the user type is still resolving; render a placeholder
	KindChecking Kind = "checking"
	KindAllow    Kind = "allow"
	// KindRedirectAuth sends the client to sign-in, keeping the requested path
	KindRedirectAuth Kind = "redirect_auth"
	// KindRedirectDashboard sends the client to the dashboard of its user type
	KindRedirectDashboard Kind = "redirect_dashboard"
)

// AuthPath is the sign-in page
const AuthPath = "/auth"

// Rule describes how one route is protected
type Rule struct {
	Path             string            `yaml:"path" json:"path"`
	RequireAuth      bool              `yaml:"requireAuth" json:"requireAuth"`
	GuestOnly        bool              `yaml:"guestOnly" json:"guestOnly"`
	AllowedUserTypes []domain.UserType `yaml:"allowedUserTypes" json:"allowedUserTypes,omitempty"`
}

// Allows reports whether userType may open the route
func (r Rule) Allows(userType domain.UserType) bool {
	if len(r.AllowedUserTypes) == 0 {
		return true
	}
	for _, t := range r.AllowedUserTypes {
		if t == userType {
			return true
		}
	}
	return false
}

// Decision is what the front end should do with a navigation
type Decision struct {
	Kind     Kind   `json:"kind"`
	Location string `json:"location,omitempty"`
}

// DashboardFor returns the default landing page of a user type
func DashboardFor(userType domain.UserType) string {
	switch userType {
	case domain.UserTypeExpert:
		return "/expert-dashboard"
	case domain.UserTypeAdmin:
		return "/admin/panel"
	default:
		return "/user-dashboard"
	}
}

// Decide evaluates one navigation to requested (path plus query) under rule.
// A pending session never produces a redirect.
func Decide(sess domain.Session, rule Rule, requested string) Decision {
	if rule.GuestOnly {
		return decideGuest(sess, requested)
	}
	if !rule.RequireAuth {
		return Decision{Kind: KindAllow}
	}
	if sess.Pending {
		return Decision{Kind: KindChecking}
	}
	if !sess.Authorized() {
		return Decision{Kind: KindRedirectAuth, Location: authLocation(requested)}
	}
	if !rule.Allows(sess.UserType) {
		return Decision{Kind: KindRedirectDashboard, Location: DashboardFor(sess.UserType)}
	}
	return Decision{Kind: KindAllow}
}

// decideGuest bounces a signed-in client off the sign-in and registration
// pages to the return path it was sent there with, or to its dashboard.
func decideGuest(sess domain.Session, requested string) Decision {
	if sess.Pending {
		return Decision{Kind: KindChecking}
	}
	if !sess.Authorized() {
		return Decision{Kind: KindAllow}
	}

	if u, err := url.Parse(requested); err == nil {
		if target := sso.SafeReturnPath(u.Query().Get("redirect")); target != "" && !isGuestPath(target) {
			return Decision{Kind: KindRedirectDashboard, Location: target}
		}
	}
	return Decision{Kind: KindRedirectDashboard, Location: DashboardFor(sess.UserType)}
}

// authLocation builds the sign-in URL for requested. Session-transfer
// parameters are lifted onto the sign-in URL so they are processed there.
func authLocation(requested string) string {
	q := url.Values{}
	if ret := sso.SafeReturnPath(requested); ret != "" {
		q.Set("redirect", ret)
	}
	if p := sso.ParseLocation(requested); p.Transfer != nil {
		q.Set("sessionTransfer", "true")
		q.Set("email", p.Transfer.Email)
		q.Set("customerId", p.Transfer.CustomerID)
	}
	if len(q) == 0 {
		return AuthPath
	}
	return AuthPath + "?" + q.Encode()
}

func isGuestPath(p string) bool {
	p = strings.SplitN(p, "?", 2)[0]
	return p == AuthPath || p == "/register"
}
