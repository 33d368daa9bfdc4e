package reconcile

import (
	"context"

	"nutri-auth/internal/domain"
	apperrors "nutri-auth/pkg/errors"
)

// LoginResult is the outcome of a manual sign-in
type LoginResult struct {
	Session domain.Session `json:"session"`
	// RetryRequired asks the front end to submit the same credentials once more
	RetryRequired bool   `json:"retryRequired"`
	AutoCreated   bool   `json:"autoCreated,omitempty"`
	Message       string `json:"message,omitempty"`
	// Stale is set when the client signed out while the sign-in was in flight
	Stale bool `json:"stale,omitempty"`
}

const migratedMessage = "We connected your store account. Please sign in again with the same credentials."

// Login signs the client in with email and password. When the provider
// rejects the credentials but the commerce platform accepts them, the account
// is migrated once and the caller must retry.
func (e *Engine) Login(ctx context.Context, clientID, email, password string) (LoginResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, apperrors.NewValidationError("Email and password are required.", nil)
	}
	ctx = withPass(ctx)
	epoch := e.epochs.begin(clientID)

	ps, adopted, err := e.tracker.SignIn(ctx, clientID, email, password, e.adoption(ctx, clientID, &epoch, nil, nil))
	if err == nil {
		if !adopted {
			sess, err := e.state.Session(ctx, clientID)
			if err != nil {
				return LoginResult{}, apperrors.NewInternalError("Failed to read session", err)
			}
			return LoginResult{Session: sess, Stale: true}, nil
		}
		if err := e.state.DiscardVerifiedSession(ctx, clientID); err != nil {
			e.logger.WithError(err).Warn("Failed to discard verified session")
		}
		e.repairProfile(ctx, ps, password)
		out, err := e.resolve(ctx, clientID, epoch, ps)
		if err != nil {
			return LoginResult{}, err
		}
		e.logger.WithEmail(email).WithField("user_type", out.Session.UserType).Info("User signed in")
		return LoginResult{Session: out.Session, Stale: out.Stale}, nil
	}
	if !apperrors.Is(err, apperrors.ErrorTypeInvalidCredentials) {
		return LoginResult{}, err
	}

	res, err := e.commerceFallback(ctx, email, password, err)
	if err != nil {
		return LoginResult{}, err
	}
	if res.Session, err = e.state.Session(ctx, clientID); err != nil {
		return LoginResult{}, apperrors.NewInternalError("Failed to read session", err)
	}
	return res, nil
}

// commerceFallback tries the commerce platform after the provider rejected
// the credentials. providerErr is returned whenever the fallback cannot help.
func (e *Engine) commerceFallback(ctx context.Context, email, password string, providerErr error) (LoginResult, error) {
	log := e.logger.WithEmail(email)

	existing, err := e.profiles.FindByEmail(ctx, email)
	if err != nil {
		log.WithError(err).Warn("Profile lookup failed, skipping commerce fallback")
		return LoginResult{}, providerErr
	}
	if existing != nil && existing.UserType == domain.UserTypeExpert {
		// expert accounts never originate on the commerce side
		return LoginResult{}, providerErr
	}

	customer, err := e.commerce.Authenticate(ctx, email, password)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrorTypeInvalidCredentials) {
			return LoginResult{}, apperrors.NewInvalidCredentialsError(
				"Email or password is incorrect. If you have a store account, please use your store password.", err)
		}
		log.WithError(err).Warn("Commerce fallback unavailable")
		return LoginResult{}, providerErr
	}

	v, err, shared := e.flight.Do(email, func() (interface{}, error) {
		return e.migrate(ctx, email, password, customer, existing)
	})
	if shared {
		log.Debug("Joined an account migration already in flight")
	}
	if err != nil {
		return LoginResult{}, err
	}
	return v.(LoginResult), nil
}

// migrate converges a commerce-only account onto a provider identity. It is
// guarded by a global per-email marker so it runs at most once.
func (e *Engine) migrate(ctx context.Context, email, password string, customer *domain.CommerceCustomer, existing *domain.Profile) (LoginResult, error) {
	log := e.logger.WithEmail(email)

	done, err := e.state.Migrated(ctx, email)
	if err != nil {
		return LoginResult{}, apperrors.NewInternalError("Failed to read migration marker", err)
	}
	if done {
		// the identity was already created with the store password, so the passwords diverged since
		return e.requireReset(ctx, email)
	}

	ps, err := e.provider.SignUp(ctx, email, password)
	if err != nil {
		switch apperrors.TypeOf(err) {
		case apperrors.ErrorTypeEmailInUse:
			return e.requireReset(ctx, email)
		case apperrors.ErrorTypeWeakPassword:
			e.metrics.migrated("failed")
			return LoginResult{}, apperrors.NewAccountDivergenceError(
				"Your store account could not be connected automatically. Please reset your password to continue.")
		default:
			e.metrics.migrated("failed")
			return LoginResult{}, err
		}
	}
	e.revoke(ctx, ps)

	result := "created"
	if existing != nil {
		if err := e.profiles.Reassign(ctx, existing.Identity, ps.Identity); err != nil {
			e.metrics.migrated("failed")
			return LoginResult{}, err
		}
		if err := e.profiles.LinkCommerceIdentity(ctx, ps.Identity, customer.ID); err != nil {
			e.metrics.migrated("failed")
			return LoginResult{}, err
		}
		result = "relinked"
	} else {
		extra := domain.ProfileExtra{
			FirstName:          customer.FirstName,
			LastName:           customer.LastName,
			CommerceCustomerID: customer.ID,
			CommerceLinked:     true,
			AutoCreated:        true,
		}
		if err := e.profiles.CreateProfile(ctx, ps.Identity, email, domain.UserTypeUser, extra); err != nil {
			e.metrics.migrated("failed")
			return LoginResult{}, err
		}
	}

	if _, err := e.state.MarkMigrated(ctx, email); err != nil {
		log.WithError(err).Warn("Failed to store migration marker")
	}
	e.metrics.migrated(result)
	log.WithFields(map[string]interface{}{
		"identity": ps.Identity,
		"result":   result,
	}).Info("Commerce account migrated")

	return LoginResult{
		RetryRequired: true,
		AutoCreated:   existing == nil,
		Message:       migratedMessage,
	}, nil
}

// repairProfile finishes a migration that created the provider identity but
// failed to write its profile. It runs only for an identity without a profile
// whose credentials the commerce platform also accepts. Failures are logged
// and leave the identity unresolved.
func (e *Engine) repairProfile(ctx context.Context, ps *domain.ProviderSession, password string) {
	_, found, err := e.profiles.GetUserType(ctx, ps.Identity)
	if err != nil || found {
		return
	}
	email := domain.NormalizeEmail(ps.Email)
	log := e.logger.WithEmail(email).WithField("identity", ps.Identity)

	existing, err := e.profiles.FindByEmail(ctx, email)
	if err != nil {
		log.WithError(err).Warn("Profile lookup failed, skipping profile repair")
		return
	}
	if existing != nil && existing.UserType == domain.UserTypeExpert {
		return
	}
	customer, err := e.commerce.Authenticate(ctx, email, password)
	if err != nil {
		log.WithError(err).Info("Commerce platform does not confirm the account, skipping profile repair")
		return
	}

	if existing != nil {
		err = e.profiles.Reassign(ctx, existing.Identity, ps.Identity)
		if err == nil {
			err = e.profiles.LinkCommerceIdentity(ctx, ps.Identity, customer.ID)
		}
	} else {
		err = e.profiles.CreateProfile(ctx, ps.Identity, email, domain.UserTypeUser, domain.ProfileExtra{
			FirstName:          customer.FirstName,
			LastName:           customer.LastName,
			CommerceCustomerID: customer.ID,
			CommerceLinked:     true,
			AutoCreated:        true,
		})
	}
	if err != nil {
		e.metrics.migrated("failed")
		log.WithError(err).Warn("Profile repair failed")
		return
	}

	if _, err := e.state.MarkMigrated(ctx, email); err != nil {
		log.WithError(err).Warn("Failed to store migration marker")
	}
	e.metrics.migrated("repaired")
	log.Info("Profile of a migrated commerce account repaired")
}

func (e *Engine) requireReset(ctx context.Context, email string) (LoginResult, error) {
	if err := e.provider.RequestPasswordReset(ctx, email); err != nil {
		e.metrics.migrated("failed")
		return LoginResult{}, err
	}
	e.metrics.migrated("password_reset")
	e.logger.WithEmail(email).Info("Store and provider passwords diverged, reset email sent")
	return LoginResult{}, apperrors.NewPasswordResetNeededError()
}
