package reconcile

import "nutri-auth/internal/domain"

// Reduce folds one event into the previous session. It performs no I/O.
func Reduce(prev domain.Session, ev domain.SessionEvent) domain.Session {
	switch ev.Kind {
	case domain.EventProviderChanged:
		return reduceProvider(prev, ev.Provider)

	case domain.EventUserTypeResolved:
		if !prev.Authenticated {
			return prev
		}
		if ev.Provider != nil && (prev.Source == domain.SourceCommerceVerified || ev.Provider.Identity != prev.Identity) {
			// answer for an identity the session has moved away from
			return prev
		}
		next := prev
		next.UserType = resolvedType(ev.UserType)
		next.Pending = false
		return next

	case domain.EventVerifiedSession:
		if ev.Verified == nil {
			return prev
		}
		vs := ev.Verified
		return domain.Session{
			Identity:           vs.Identity,
			Email:              domain.NormalizeEmail(vs.Email),
			UserType:           resolvedType(vs.UserType),
			Authenticated:      true,
			Source:             domain.SourceCommerceVerified,
			CommerceCustomerID: vs.CommerceCustomerID,
		}

	case domain.EventSSOAuthenticated:
		if ev.SSO == nil {
			return prev
		}
		identity := ev.SSO.Identity
		if ev.Provider != nil && ev.Provider.Identity != "" {
			identity = ev.Provider.Identity
		}
		return domain.Session{
			Identity:      identity,
			Email:         domain.NormalizeEmail(ev.SSO.Email),
			UserType:      resolvedType(ev.UserType),
			Authenticated: true,
			Source:        domain.SourceSSOToken,
		}

	case domain.EventSignedOut:
		return domain.Anonymous()
	}
	return prev
}

func reduceProvider(prev domain.Session, ps *domain.ProviderSession) domain.Session {
	if ps == nil {
		// a verified session does not depend on the provider
		if prev.Authenticated && prev.Source == domain.SourceCommerceVerified {
			return prev
		}
		return domain.Anonymous()
	}

	if prev.Authenticated && prev.Source != domain.SourceCommerceVerified && prev.Identity == ps.Identity {
		// token refresh for the same identity keeps the resolved type
		next := prev
		next.Email = domain.NormalizeEmail(ps.Email)
		return next
	}

	return domain.Session{
		Identity:      ps.Identity,
		Email:         domain.NormalizeEmail(ps.Email),
		UserType:      domain.UserTypeUnknown,
		Authenticated: true,
		Source:        domain.SourceProvider,
		Pending:       true,
	}
}

func resolvedType(t domain.UserType) domain.UserType {
	return domain.ParseUserType(string(t))
}
