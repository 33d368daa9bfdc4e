package reconcile

import (
	"context"

	"golang.org/x/sync/errgroup"

	"nutri-auth/internal/domain"
	apperrors "nutri-auth/pkg/errors"
)

// Registration is a sign-up request
type Registration struct {
	Email            string
	Password         string
	UserType         domain.UserType
	FirstName        string
	LastName         string
	Phone            string
	AcceptsMarketing bool
}

// RegisterResult is the outcome of Register
type RegisterResult struct {
	Session            domain.Session `json:"session"`
	Identity           string         `json:"identity"`
	CommerceCustomerID string         `json:"commerceCustomerId,omitempty"`
	CommerceLinked     bool           `json:"commerceLinked"`
	SignInRequired     bool           `json:"signInRequired"`
	Message            string         `json:"message,omitempty"`
}

// Register creates the provider identity and profile for a new account,
// creating or connecting the commerce customer with the same email. A
// commerce customer is required for users and optional for experts.
func (e *Engine) Register(ctx context.Context, clientID string, reg Registration) (RegisterResult, error) {
	email := domain.NormalizeEmail(reg.Email)
	if email == "" {
		return RegisterResult{}, apperrors.NewValidationError("Email is required.", nil)
	}
	if reg.UserType == "" {
		reg.UserType = domain.UserTypeUser
	}
	if reg.UserType != domain.UserTypeUser && reg.UserType != domain.UserTypeExpert {
		return RegisterResult{}, apperrors.NewValidationError("Unsupported account type.", map[string]interface{}{
			"userType": reg.UserType,
		})
	}
	if err := CheckPasswordStrength(reg.Password); err != nil {
		return RegisterResult{}, err
	}
	log := e.logger.WithEmail(email).WithField("user_type", reg.UserType)

	var (
		existing    *domain.Profile
		inCommerce  bool
		commerceErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := e.profiles.FindByEmail(gctx, email)
		existing = p
		return err
	})
	g.Go(func() error {
		inCommerce, commerceErr = e.commerce.CustomerExists(gctx, email)
		return nil
	})
	if err := g.Wait(); err != nil {
		return RegisterResult{}, err
	}
	if existing != nil {
		return RegisterResult{}, apperrors.NewEmailInUseError(nil)
	}
	if commerceErr != nil {
		if reg.UserType != domain.UserTypeExpert {
			return RegisterResult{}, commerceErr
		}
		log.WithError(commerceErr).Warn("Commerce lookup failed, continuing expert registration")
	}

	if inCommerce {
		customer, err := e.commerce.Authenticate(ctx, email, reg.Password)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrorTypeInvalidCredentials) {
				appErr := apperrors.NewEmailInUseError(err)
				appErr.Message = "An account with this email already exists, but the password is incorrect."
				return RegisterResult{}, appErr
			}
			return RegisterResult{}, err
		}
		res, err := e.createAccount(ctx, clientID, email, reg, customer.ID)
		if err != nil {
			return RegisterResult{}, err
		}
		res.Message = "Account already existed in the store. We've connected it to our system."
		return res, nil
	}

	var customerID string
	customer, err := e.commerce.CreateCustomer(ctx, email, reg.Password, domain.CustomerExtra{
		FirstName:        reg.FirstName,
		LastName:         reg.LastName,
		Phone:            reg.Phone,
		AcceptsMarketing: reg.AcceptsMarketing,
	})
	if err != nil {
		if reg.UserType != domain.UserTypeExpert {
			return RegisterResult{}, err
		}
		log.WithError(err).Warn("Commerce customer not created, continuing expert registration")
	} else {
		customerID = customer.ID
	}
	return e.createAccount(ctx, clientID, email, reg, customerID)
}

// createAccount creates the provider identity and the profile. Experts keep
// the new session; everyone else signs in explicitly.
func (e *Engine) createAccount(ctx context.Context, clientID, email string, reg Registration, customerID string) (RegisterResult, error) {
	// a sign-out during sign-up keeps the new session from being adopted
	since := e.epochs.current(clientID)
	ps, err := e.provider.SignUp(ctx, email, reg.Password)
	if err != nil {
		if customerID != "" {
			e.logger.WithEmail(email).WithField("customer_id", customerID).
				Warn("Commerce customer created but provider sign-up failed")
		}
		return RegisterResult{}, err
	}

	extra := domain.ProfileExtra{
		FirstName:          reg.FirstName,
		LastName:           reg.LastName,
		CommerceCustomerID: customerID,
		CommerceLinked:     customerID != "",
	}
	if err := e.profiles.CreateProfile(ctx, ps.Identity, email, reg.UserType, extra); err != nil {
		e.revoke(ctx, ps)
		return RegisterResult{}, err
	}

	res := RegisterResult{
		Identity:           ps.Identity,
		CommerceCustomerID: customerID,
		CommerceLinked:     customerID != "",
		SignInRequired:     true,
		Message:            "Account created. Please sign in.",
	}
	e.logger.WithEmail(email).WithFields(map[string]interface{}{
		"identity":        ps.Identity,
		"user_type":       reg.UserType,
		"commerce_linked": res.CommerceLinked,
	}).Info("Account registered")

	if reg.UserType == domain.UserTypeExpert && ps.AccessToken != "" {
		ctx = withPass(ctx)
		epoch := since
		adopted, err := e.tracker.Adopt(ctx, clientID, ps, e.adoption(ctx, clientID, &epoch, nil, nil))
		if err != nil {
			return RegisterResult{}, err
		}
		if adopted {
			if err := e.state.DiscardVerifiedSession(ctx, clientID); err != nil {
				e.logger.WithError(err).Warn("Failed to discard verified session")
			}
			out, err := e.resolve(ctx, clientID, epoch, ps)
			if err != nil {
				return RegisterResult{}, err
			}
			res.Session = out.Session
			res.SignInRequired = false
			res.Message = "Account created."
			return res, nil
		}
	} else {
		e.revoke(ctx, ps)
	}

	if res.Session, err = e.state.Session(ctx, clientID); err != nil {
		return RegisterResult{}, apperrors.NewInternalError("Failed to read session", err)
	}
	return res, nil
}
