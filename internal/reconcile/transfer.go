package reconcile

import (
	"context"

	"nutri-auth/internal/commerce"
	"nutri-auth/internal/domain"
	apperrors "nutri-auth/pkg/errors"
)

// fromTransfer handles a commerce session transfer. It reports false when the
// same transfer was already processed, leaving the pass to the stored state.
func (e *Engine) fromTransfer(ctx context.Context, clientID string, epoch uint64, tp domain.TransferParams) (Outcome, bool, error) {
	email := domain.NormalizeEmail(tp.Email)
	customerID := commerce.CustomerIDFromGID(tp.CustomerID)
	tp = domain.TransferParams{Email: email, CustomerID: customerID}
	log := e.logger.WithEmail(email).WithClient(clientID)

	fresh, err := e.state.MarkTransferProcessed(ctx, clientID, tp.Fingerprint())
	if err != nil {
		return Outcome{}, false, apperrors.NewInternalError("Failed to record session transfer", err)
	}
	if !fresh {
		log.Debug("Session transfer already processed")
		return Outcome{}, false, nil
	}
	if err := e.state.PutCommerceHint(ctx, clientID, email, customerID); err != nil {
		log.WithError(err).Warn("Failed to cache commerce hint")
	}

	// retry is allowed when the outcome was not definite
	retryable := func() {
		if err := e.state.ForgetTransfer(ctx, clientID); err != nil {
			log.WithError(err).Warn("Failed to clear session transfer flag")
		}
	}

	customer, err := e.commerce.ValidateCustomer(ctx, customerID, email)
	if err != nil {
		log.WithError(err).Info("Session transfer could not be verified")
		if apperrors.Is(err, apperrors.ErrorTypeCommerceUnavailable) {
			retryable()
		}
		out, err := e.signInRequired(ctx, clientID, email, apperrors.TypeOf(err))
		return out, true, err
	}

	existing, err := e.profiles.FindByEmail(ctx, email)
	if err != nil {
		log.WithError(err).Warn("Profile lookup failed during session transfer")
		retryable()
		out, err := e.signInRequired(ctx, clientID, email, apperrors.ErrorTypeStoreUnavailable)
		return out, true, err
	}

	vs := domain.VerifiedSession{
		Email:              email,
		CommerceCustomerID: customer.ID,
		UserType:           domain.UserTypeUser,
	}
	if existing != nil {
		if existing.CommerceCustomerID != customer.ID {
			if err := e.profiles.LinkCommerceIdentity(ctx, existing.Identity, customer.ID); err != nil {
				log.WithError(err).Warn("Failed to link commerce customer to profile")
			}
		}
		vs.Identity = existing.Identity
		vs.UserType = existing.UserType
	} else {
		identity, err := e.provisionFromCommerce(ctx, customer)
		if err != nil {
			log.WithError(err).Warn("Could not create an account for the commerce customer")
			if apperrors.Is(err, apperrors.ErrorTypeEmailInUse) {
				out, err := e.signInRequired(ctx, clientID, email, apperrors.ErrorTypeAccountDivergence)
				return out, true, err
			}
			out, err := e.registrationRequired(ctx, clientID, email)
			return out, true, err
		}
		vs.Identity = identity
	}

	if _, err := e.switchAccount(ctx, clientID, &epoch, email); err != nil {
		return Outcome{}, true, err
	}

	sess, ok, err := e.apply(ctx, clientID, epoch, func(prev domain.Session) (domain.Session, error) {
		if err := e.state.PutVerifiedSession(ctx, clientID, vs); err != nil {
			return prev, apperrors.NewInternalError("Failed to store verified session", err)
		}
		return Reduce(prev, domain.SessionEvent{
			Kind:     domain.EventVerifiedSession,
			Epoch:    epoch,
			Verified: &vs,
		}), nil
	})
	if err != nil {
		return Outcome{}, true, err
	}
	if ok {
		log.WithField("user_type", sess.UserType).Info("Session transfer verified")
	}
	return Outcome{Session: sess, Stale: !ok}, true, nil
}

// provisionFromCommerce creates a provider identity with a random password
// and a linked profile for a customer known only to the commerce platform.
func (e *Engine) provisionFromCommerce(ctx context.Context, customer *domain.CommerceCustomer) (string, error) {
	password, err := randomPassword()
	if err != nil {
		return "", apperrors.NewInternalError("Failed to generate password", err)
	}

	ps, err := e.provider.SignUp(ctx, customer.Email, password)
	if err != nil {
		return "", err
	}
	e.revoke(ctx, ps)

	extra := domain.ProfileExtra{
		FirstName:          customer.FirstName,
		LastName:           customer.LastName,
		CommerceCustomerID: customer.ID,
		CommerceLinked:     true,
		AutoCreated:        true,
	}
	if err := e.profiles.CreateProfile(ctx, ps.Identity, customer.Email, domain.UserTypeUser, extra); err != nil {
		return "", err
	}
	e.logger.WithEmail(customer.Email).WithField("identity", ps.Identity).Info("Account created from commerce customer")
	return ps.Identity, nil
}
