package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nutri-auth/internal/domain"
)

func TestReduce(t *testing.T) {
	ps := &domain.ProviderSession{Identity: "uid1", Email: "A@x.com"}
	resolved := domain.Session{
		Identity:      "uid1",
		Email:         "a@x.com",
		UserType:      domain.UserTypeExpert,
		Authenticated: true,
		Source:        domain.SourceProvider,
	}
	verified := domain.Session{
		Identity:           "uid2",
		Email:              "b@x.com",
		UserType:           domain.UserTypeUser,
		Authenticated:      true,
		Source:             domain.SourceCommerceVerified,
		CommerceCustomerID: "42",
	}
	pending := domain.Session{
		Identity:      "uid1",
		Email:         "a@x.com",
		UserType:      domain.UserTypeUnknown,
		Authenticated: true,
		Source:        domain.SourceProvider,
		Pending:       true,
	}

	tests := []struct {
		name     string
		prev     domain.Session
		ev       domain.SessionEvent
		expected domain.Session
	}{
		{
			name:     "New provider identity is pending",
			prev:     domain.Anonymous(),
			ev:       domain.SessionEvent{Kind: domain.EventProviderChanged, Provider: ps},
			expected: pending,
		},
		{
			name:     "Refresh of the same identity keeps the resolved type",
			prev:     resolved,
			ev:       domain.SessionEvent{Kind: domain.EventProviderChanged, Provider: ps},
			expected: resolved,
		},
		{
			name: "Different provider identity replaces the session",
			prev: resolved,
			ev: domain.SessionEvent{Kind: domain.EventProviderChanged, Provider: &domain.ProviderSession{
				Identity: "uid9", Email: "z@x.com",
			}},
			expected: domain.Session{
				Identity: "uid9", Email: "z@x.com", UserType: domain.UserTypeUnknown,
				Authenticated: true, Source: domain.SourceProvider, Pending: true,
			},
		},
		{
			name:     "Provider sign-out ends a provider session",
			prev:     resolved,
			ev:       domain.SessionEvent{Kind: domain.EventProviderChanged},
			expected: domain.Anonymous(),
		},
		{
			name:     "Provider sign-out leaves a verified session alone",
			prev:     verified,
			ev:       domain.SessionEvent{Kind: domain.EventProviderChanged},
			expected: verified,
		},
		{
			name:     "User type resolves a pending session",
			prev:     pending,
			ev:       domain.SessionEvent{Kind: domain.EventUserTypeResolved, Provider: ps, UserType: domain.UserTypeExpert},
			expected: resolved,
		},
		{
			name: "Missing profile resolves to unknown, not pending",
			prev: pending,
			ev:   domain.SessionEvent{Kind: domain.EventUserTypeResolved, Provider: ps, UserType: domain.UserTypeUnknown},
			expected: domain.Session{
				Identity: "uid1", Email: "a@x.com", UserType: domain.UserTypeUnknown,
				Authenticated: true, Source: domain.SourceProvider,
			},
		},
		{
			name: "Answer for another identity is ignored",
			prev: pending,
			ev: domain.SessionEvent{Kind: domain.EventUserTypeResolved, UserType: domain.UserTypeAdmin,
				Provider: &domain.ProviderSession{Identity: "uid9"}},
			expected: pending,
		},
		{
			name:     "Late answer after sign-out is ignored",
			prev:     domain.Anonymous(),
			ev:       domain.SessionEvent{Kind: domain.EventUserTypeResolved, Provider: ps, UserType: domain.UserTypeExpert},
			expected: domain.Anonymous(),
		},
		{
			name:     "Provider answer does not retype a verified session",
			prev:     verified,
			ev:       domain.SessionEvent{Kind: domain.EventUserTypeResolved, Provider: ps, UserType: domain.UserTypeAdmin},
			expected: verified,
		},
		{
			name: "Re-validation retypes a verified session",
			prev: verified,
			ev:   domain.SessionEvent{Kind: domain.EventUserTypeResolved, UserType: domain.UserTypeExpert},
			expected: func() domain.Session {
				s := verified
				s.UserType = domain.UserTypeExpert
				return s
			}(),
		},
		{
			name: "Verified session event installs a commerce-verified session",
			prev: resolved,
			ev: domain.SessionEvent{Kind: domain.EventVerifiedSession, Verified: &domain.VerifiedSession{
				Email: "B@x.com", Identity: "uid2", CommerceCustomerID: "42", UserType: domain.UserTypeUser,
				Verified: true, Timestamp: time.Now(),
			}},
			expected: verified,
		},
		{
			name: "SSO event uses the provider identity and stored type",
			prev: verified,
			ev: domain.SessionEvent{
				Kind:     domain.EventSSOAuthenticated,
				Provider: ps,
				SSO:      &domain.SSOClaims{Email: "a@x.com", Identity: "legacy"},
				UserType: domain.UserTypeExpert,
			},
			expected: domain.Session{
				Identity: "uid1", Email: "a@x.com", UserType: domain.UserTypeExpert,
				Authenticated: true, Source: domain.SourceSSOToken,
			},
		},
		{
			name: "Unrecognised stored type is unknown",
			prev: domain.Anonymous(),
			ev: domain.SessionEvent{
				Kind:     domain.EventSSOAuthenticated,
				SSO:      &domain.SSOClaims{Email: "a@x.com", Identity: "uid1"},
				UserType: domain.UserType("superuser"),
			},
			expected: domain.Session{
				Identity: "uid1", Email: "a@x.com", UserType: domain.UserTypeUnknown,
				Authenticated: true, Source: domain.SourceSSOToken,
			},
		},
		{
			name:     "Signed out resets everything",
			prev:     verified,
			ev:       domain.SessionEvent{Kind: domain.EventSignedOut},
			expected: domain.Anonymous(),
		},
		{
			name:     "Event without payload changes nothing",
			prev:     resolved,
			ev:       domain.SessionEvent{Kind: domain.EventVerifiedSession},
			expected: resolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Reduce(tt.prev, tt.ev))
		})
	}
}

func TestReduce_NeverAuthorizesUnknown(t *testing.T) {
	s := Reduce(domain.Anonymous(), domain.SessionEvent{
		Kind:     domain.EventProviderChanged,
		Provider: &domain.ProviderSession{Identity: "uid1", Email: "a@x.com"},
	})
	assert.True(t, s.Authenticated)
	assert.False(t, s.Authorized())

	s = Reduce(s, domain.SessionEvent{Kind: domain.EventUserTypeResolved, UserType: domain.UserTypeUnknown})
	assert.True(t, s.Authenticated)
	assert.False(t, s.Pending)
	assert.False(t, s.Authorized())
}
