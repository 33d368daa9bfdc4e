// Package reconcile decides, for one client, which identity is signed in and
// with which user type, reconciling the identity provider, the commerce
// platform, SSO hand-offs and the short-lived verified session.
package reconcile

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"nutri-auth/internal/clientstate"
	"nutri-auth/internal/commerce"
	"nutri-auth/internal/domain"
	"nutri-auth/internal/identity"
	"nutri-auth/internal/profile"
	"nutri-auth/internal/sso"
	apperrors "nutri-auth/pkg/errors"
	"nutri-auth/pkg/logger"
)

// Action tells the front end what to do next
type Action string

const (
	ActionNone     Action = "none"
	ActionSignIn   Action = "sign_in"
	ActionRegister Action = "register"
)

// Outcome is the result of one reconciliation pass
type Outcome struct {
	Session domain.Session `json:"session"`
	Action  Action         `json:"action"`
	// Email pre-fills the sign-in or registration form
	Email  string              `json:"email,omitempty"`
	Reason apperrors.ErrorType `json:"reason,omitempty"`
	// Redirect is the local return path carried by the location
	Redirect string `json:"redirect,omitempty"`
	Notice   string `json:"notice,omitempty"`
	// Stale is set when a newer pass or a sign-out overtook this one
	Stale bool `json:"stale,omitempty"`
}

// Deps are the collaborators of an Engine
type Deps struct {
	Tracker  *identity.Tracker
	Profiles profile.Store
	Commerce commerce.Client
	State    *clientstate.State
	Decoder  *sso.Decoder
	Metrics  *Metrics
	Logger   *logger.Logger
}

// Engine is the session reconciliation engine
type Engine struct {
	tracker  *identity.Tracker
	provider identity.Provider
	profiles profile.Store
	commerce commerce.Client
	state    *clientstate.State
	decoder  *sso.Decoder
	metrics  *Metrics
	logger   *logger.Logger

	epochs      *epochGuard
	flight      singleflight.Group
	unsubscribe func()
}

// New creates an engine and subscribes it to provider session changes
func New(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	e := &Engine{
		tracker:  deps.Tracker,
		provider: deps.Tracker.Provider(),
		profiles: deps.Profiles,
		commerce: deps.Commerce,
		state:    deps.State,
		decoder:  deps.Decoder,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		epochs:   newEpochGuard(),
	}
	e.unsubscribe = deps.Tracker.Subscribe(e.onProviderChange)
	return e
}

// Close detaches the engine from the tracker
func (e *Engine) Close() {
	e.unsubscribe()
}

// onProviderChange folds provider session changes that did not come from an
// engine operation, such as a refresh rejected outside a pass.
func (e *Engine) onProviderChange(ctx context.Context, clientID string, ev domain.SessionEvent) {
	if inPass(ctx) {
		return
	}
	err := e.epochs.advance(clientID, func() error {
		prev, err := e.state.Session(ctx, clientID)
		if err != nil {
			return err
		}
		return e.state.PutSession(ctx, clientID, Reduce(prev, ev))
	})
	if err != nil {
		e.logger.WithError(err).WithClient(clientID).Warn("Failed to apply provider session change")
	}
}

// apply commits the session built from the committed one, if epoch is still
// current. It returns the session the client ends up with and whether this
// pass produced it.
func (e *Engine) apply(ctx context.Context, clientID string, epoch uint64, build func(prev domain.Session) (domain.Session, error)) (domain.Session, bool, error) {
	var next domain.Session
	ok, err := e.epochs.commit(clientID, epoch, func() error {
		prev, err := e.state.Session(ctx, clientID)
		if err != nil {
			return apperrors.NewInternalError("Failed to read session", err)
		}
		next, err = build(prev)
		if err != nil {
			return err
		}
		if err := e.state.PutSession(ctx, clientID, next); err != nil {
			return apperrors.NewInternalError("Failed to store session", err)
		}
		return nil
	})
	if err != nil {
		return domain.Session{}, ok, err
	}
	if !ok {
		e.metrics.stale()
		e.logger.WithFields(map[string]interface{}{
			"client_id": clientID,
			"epoch":     epoch,
		}).Info("Dropping stale reconciliation result")
		cur, err := e.state.Session(ctx, clientID)
		if err != nil {
			return domain.Anonymous(), false, apperrors.NewInternalError("Failed to read session", err)
		}
		return cur, false, nil
	}
	return next, true, nil
}

func (e *Engine) event(ev domain.SessionEvent) func(domain.Session) (domain.Session, error) {
	return func(prev domain.Session) (domain.Session, error) {
		return Reduce(prev, ev), nil
	}
}

// Reconcile runs one pass for the client at the given navigation location.
// Precedence: SSO token, commerce session transfer, verified session,
// provider session, nothing.
func (e *Engine) Reconcile(ctx context.Context, clientID, location string) (Outcome, error) {
	ctx = withPass(ctx)
	epoch := e.epochs.begin(clientID)
	params := sso.ParseLocation(location)

	var (
		out Outcome
		err error
	)
	if params.Token != "" {
		out, err = e.fromToken(ctx, clientID, epoch, params.Token)
	} else {
		handled := false
		if params.Transfer != nil {
			out, handled, err = e.fromTransfer(ctx, clientID, epoch, *params.Transfer)
		}
		if err == nil && !handled {
			out, err = e.fromStored(ctx, clientID, epoch)
		}
	}
	if err != nil {
		e.metrics.reconciled("", "error")
		return Outcome{Session: domain.Anonymous(), Action: ActionNone}, err
	}

	if out.Action == "" {
		out.Action = ActionNone
	}
	out.Redirect = params.Redirect
	out.Notice = params.Notice
	e.metrics.reconciled(string(out.Session.Source), outcomeLabel(out))
	return out, nil
}

func outcomeLabel(out Outcome) string {
	switch {
	case out.Stale:
		return "stale"
	case out.Action == ActionSignIn:
		return "sign_in_required"
	case out.Action == ActionRegister:
		return "registration_required"
	case out.Session.Authorized():
		return "authorized"
	case out.Session.Authenticated:
		return "unresolved"
	default:
		return "anonymous"
	}
}

// fromToken handles an SSO hand-off. The token is exchanged before the
// client's slot is taken, so a slow provider never blocks a sign-out.
func (e *Engine) fromToken(ctx context.Context, clientID string, epoch uint64, token string) (Outcome, error) {
	claims, err := e.decoder.Decode(token)
	if err != nil {
		e.logger.WithError(err).WithClient(clientID).Info("SSO token rejected")
		return e.signInRequired(ctx, clientID, "", apperrors.TypeOf(err))
	}
	log := e.logger.WithEmail(claims.Email).WithClient(clientID)

	switched, err := e.switchAccount(ctx, clientID, &epoch, claims.Email)
	if err != nil {
		return Outcome{}, err
	}
	if vs, err := e.state.VerifiedSession(ctx, clientID); err != nil {
		return Outcome{}, apperrors.NewInternalError("Failed to read verified session", err)
	} else if vs != nil {
		// the token dominates any verified session
		if err := e.state.DiscardVerifiedSession(ctx, clientID); err != nil {
			return Outcome{}, apperrors.NewInternalError("Failed to discard verified session", err)
		}
		switched = switched || vs.Email != claims.Email
	}
	if switched {
		sess, ok, err := e.apply(ctx, clientID, epoch, e.event(domain.SessionEvent{Kind: domain.EventSignedOut, Epoch: epoch}))
		if err != nil || !ok {
			return Outcome{Session: sess, Stale: !ok}, err
		}
	}

	userType, found, err := e.profiles.GetUserType(ctx, claims.Identity)
	if err != nil {
		log.WithError(err).Warn("Profile lookup failed during SSO hand-off")
		return e.signInRequired(ctx, clientID, claims.Email, apperrors.ErrorTypeStoreUnavailable)
	}
	if !found {
		log.Info("SSO hand-off for an email without a profile")
		return e.registrationRequired(ctx, clientID, claims.Email)
	}

	authenticated := func(ps *domain.ProviderSession, prev domain.Session, gen uint64) domain.Session {
		return Reduce(prev, domain.SessionEvent{
			Kind:     domain.EventSSOAuthenticated,
			Epoch:    gen,
			Provider: ps,
			SSO:      &claims,
			UserType: userType,
		})
	}

	ps, err := e.tracker.Current(ctx, clientID, e.adoption(ctx, clientID, &epoch, nil, nil))
	if err != nil {
		return Outcome{}, err
	}
	if ps != nil && domain.NormalizeEmail(ps.Email) == claims.Email {
		sess, ok, err := e.apply(ctx, clientID, epoch, func(prev domain.Session) (domain.Session, error) {
			return authenticated(ps, prev, epoch), nil
		})
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			log.WithField("user_type", sess.UserType).Info("SSO hand-off complete")
		}
		return Outcome{Session: sess, Stale: !ok}, nil
	}

	var sess domain.Session
	_, ok, err := e.tracker.SignInWithToken(ctx, clientID, claims.Raw, e.adoption(ctx, clientID, &epoch, authenticated, &sess))
	if err != nil {
		if !ok {
			// the exchange itself failed; adoption errors come with ok set
			log.WithError(err).Info("Provider rejected SSO token, falling back to manual sign-in")
			return e.signInRequired(ctx, clientID, claims.Email, apperrors.TypeOf(err))
		}
		return Outcome{}, err
	}
	if !ok {
		cur, err := e.state.Session(ctx, clientID)
		if err != nil {
			return Outcome{}, apperrors.NewInternalError("Failed to read session", err)
		}
		return Outcome{Session: cur, Stale: true}, nil
	}
	log.WithField("user_type", sess.UserType).Info("SSO hand-off complete")
	return Outcome{Session: sess}, nil
}

// adoption returns the Commit for provider sessions obtained during the
// operation that began at *epoch. The session is stored unless the client
// signed out since; the store starts a new generation, written back to
// *epoch. When then is set, the session it builds is committed in the same
// step and written to sess.
func (e *Engine) adoption(ctx context.Context, clientID string, epoch *uint64, then func(ps *domain.ProviderSession, prev domain.Session, gen uint64) domain.Session, sess *domain.Session) identity.Commit {
	return func(ps *domain.ProviderSession, store func() error) (bool, error) {
		gen, ok, err := e.epochs.adopt(clientID, *epoch, func(gen uint64) error {
			if err := store(); err != nil {
				return err
			}
			if then == nil {
				return nil
			}
			prev, err := e.state.Session(ctx, clientID)
			if err != nil {
				return apperrors.NewInternalError("Failed to read session", err)
			}
			*sess = then(ps, prev, gen)
			if err := e.state.PutSession(ctx, clientID, *sess); err != nil {
				return apperrors.NewInternalError("Failed to store session", err)
			}
			return nil
		})
		if !ok {
			e.metrics.stale()
			e.logger.WithClient(clientID).Info("Client signed out while a provider session was being obtained")
			return false, nil
		}
		*epoch = gen
		return true, err
	}
}

// switchAccount signs out a provider session that belongs to another email.
// It reports whether it did.
func (e *Engine) switchAccount(ctx context.Context, clientID string, epoch *uint64, email string) (bool, error) {
	ps, err := e.tracker.Current(ctx, clientID, e.adoption(ctx, clientID, epoch, nil, nil))
	if err != nil {
		return false, err
	}
	if ps == nil || domain.NormalizeEmail(ps.Email) == email {
		return false, nil
	}
	e.logger.WithClient(clientID).Info("Signing out a different account before hand-off")
	if err := e.tracker.SignOut(ctx, clientID); err != nil {
		return false, err
	}
	return true, nil
}

// fromStored reconciles from what the client already holds
func (e *Engine) fromStored(ctx context.Context, clientID string, epoch uint64) (Outcome, error) {
	vs, err := e.state.VerifiedSession(ctx, clientID)
	if err != nil {
		return Outcome{}, apperrors.NewInternalError("Failed to read verified session", err)
	}
	if vs != nil {
		sess, ok, err := e.apply(ctx, clientID, epoch, e.event(domain.SessionEvent{
			Kind:     domain.EventVerifiedSession,
			Epoch:    epoch,
			Verified: vs,
		}))
		return Outcome{Session: sess, Stale: !ok}, err
	}

	ps, err := e.tracker.Current(ctx, clientID, e.adoption(ctx, clientID, &epoch, nil, nil))
	if err != nil {
		return Outcome{}, err
	}
	if ps == nil {
		sess, ok, err := e.apply(ctx, clientID, epoch, e.event(domain.SessionEvent{Kind: domain.EventSignedOut, Epoch: epoch}))
		return Outcome{Session: sess, Stale: !ok}, err
	}
	return e.resolve(ctx, clientID, epoch, ps)
}

// resolve installs ps and then its user type from the profile store. A store
// failure resolves to unknown, which never authorizes.
func (e *Engine) resolve(ctx context.Context, clientID string, epoch uint64, ps *domain.ProviderSession) (Outcome, error) {
	pending, ok, err := e.apply(ctx, clientID, epoch, e.event(domain.SessionEvent{
		Kind:     domain.EventProviderChanged,
		Epoch:    epoch,
		Provider: ps,
	}))
	if err != nil || !ok {
		return Outcome{Session: pending, Stale: !ok}, err
	}

	ev := domain.SessionEvent{Kind: domain.EventUserTypeResolved, Epoch: epoch, Provider: ps}
	var reason apperrors.ErrorType

	userType, found, err := e.profiles.GetUserType(ctx, ps.Identity)
	switch {
	case err != nil:
		e.logger.WithError(err).WithClient(clientID).Warn("User type lookup failed, treating as unknown")
		ev.UserType = domain.UserTypeUnknown
		reason = apperrors.ErrorTypeStoreUnavailable
	case !found:
		e.logger.WithClient(clientID).Info("Signed-in identity has no profile")
		ev.UserType = domain.UserTypeUnknown
	default:
		ev.UserType = userType
	}

	sess, ok, err := e.apply(ctx, clientID, epoch, e.event(ev))
	return Outcome{Session: sess, Reason: reason, Stale: !ok}, err
}

func (e *Engine) signInRequired(ctx context.Context, clientID, email string, reason apperrors.ErrorType) (Outcome, error) {
	if email != "" {
		if err := e.state.PutSignInHint(ctx, clientID, email); err != nil {
			e.logger.WithError(err).Warn("Failed to store sign-in hint")
		}
	}
	sess, err := e.state.Session(ctx, clientID)
	if err != nil {
		return Outcome{}, apperrors.NewInternalError("Failed to read session", err)
	}
	return Outcome{Session: sess, Action: ActionSignIn, Email: email, Reason: reason}, nil
}

func (e *Engine) registrationRequired(ctx context.Context, clientID, email string) (Outcome, error) {
	sess, err := e.state.Session(ctx, clientID)
	if err != nil {
		return Outcome{}, apperrors.NewInternalError("Failed to read session", err)
	}
	return Outcome{Session: sess, Action: ActionRegister, Email: email}, nil
}

// Current returns the committed session. A verified session that has
// outlived its TTL triggers a fresh pass.
func (e *Engine) Current(ctx context.Context, clientID string) (domain.Session, error) {
	sess, err := e.state.Session(ctx, clientID)
	if err != nil {
		return domain.Anonymous(), apperrors.NewInternalError("Failed to read session", err)
	}
	if !sess.Authenticated || sess.Source != domain.SourceCommerceVerified {
		return sess, nil
	}

	vs, err := e.state.VerifiedSession(ctx, clientID)
	if err != nil {
		return domain.Anonymous(), apperrors.NewInternalError("Failed to read verified session", err)
	}
	if vs != nil {
		return sess, nil
	}
	out, err := e.Reconcile(ctx, clientID, "")
	return out.Session, err
}

// Authorize returns the session if it may gate a protected operation.
// Commerce-verified sessions are re-checked against the profile store.
func (e *Engine) Authorize(ctx context.Context, clientID string) (domain.Session, error) {
	sess, err := e.Current(ctx, clientID)
	if err != nil {
		return sess, err
	}
	if sess.Pending {
		out, err := e.Reconcile(ctx, clientID, "")
		if err != nil {
			return out.Session, err
		}
		sess = out.Session
	}
	if !sess.Authenticated {
		return sess, apperrors.NewAuthenticationError("Please sign in.")
	}

	if sess, err = e.revalidate(ctx, clientID, sess); err != nil {
		return sess, err
	}
	if !sess.Authorized() {
		return sess, apperrors.NewAuthorizationError("Your account type could not be confirmed.")
	}
	return sess, nil
}

// ForNavigation returns the session a protected route decision should use.
// A commerce-verified session is re-checked like in Authorize; when the check
// fails the client counts as signed out for this navigation. A pending
// session is returned as is so the route renders a placeholder.
func (e *Engine) ForNavigation(ctx context.Context, clientID string) (domain.Session, error) {
	sess, err := e.Current(ctx, clientID)
	if err != nil || sess.Pending || !sess.Authenticated {
		return sess, err
	}

	checked, err := e.revalidate(ctx, clientID, sess)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrorTypeInternal) {
			return domain.Anonymous(), err
		}
		e.logger.WithError(err).WithClient(clientID).Warn("Verified session failed re-validation, denying navigation")
		return domain.Anonymous(), nil
	}
	return checked, nil
}

// revalidate re-reads the user type of a commerce-verified session and
// commits it when it changed. Other sessions are returned unchanged.
func (e *Engine) revalidate(ctx context.Context, clientID string, sess domain.Session) (domain.Session, error) {
	if sess.Source != domain.SourceCommerceVerified {
		return sess, nil
	}

	userType, found, err := e.profiles.GetUserType(ctx, sess.Identity)
	if err != nil {
		return sess, err
	}
	if !found {
		return sess, apperrors.NewAuthorizationError("Your account profile could not be found.")
	}
	if userType == sess.UserType {
		return sess, nil
	}

	epoch := e.epochs.begin(clientID)
	sess, _, err = e.apply(withPass(ctx), clientID, epoch, func(prev domain.Session) (domain.Session, error) {
		vs, err := e.state.VerifiedSession(ctx, clientID)
		if err != nil {
			return prev, apperrors.NewInternalError("Failed to read verified session", err)
		}
		if vs != nil {
			vs.UserType = userType
			if err := e.state.PutVerifiedSession(ctx, clientID, *vs); err != nil {
				return prev, apperrors.NewInternalError("Failed to store verified session", err)
			}
		}
		return Reduce(prev, domain.SessionEvent{
			Kind:     domain.EventUserTypeResolved,
			Epoch:    epoch,
			UserType: userType,
		}), nil
	})
	return sess, err
}

// Logout signs the client out of the provider and clears every client key.
// Any pass still in flight for the client is invalidated.
func (e *Engine) Logout(ctx context.Context, clientID string) error {
	ctx = withPass(ctx)
	err := e.epochs.signOut(clientID, func() error {
		if err := e.tracker.SignOut(ctx, clientID); err != nil {
			e.logger.WithError(err).WithClient(clientID).Warn("Provider sign-out failed")
		}
		return e.state.ClearClient(ctx, clientID)
	})
	if err != nil {
		return apperrors.NewInternalError("Failed to sign out", err)
	}
	e.logger.WithClient(clientID).Info("Client signed out")
	return nil
}

// RequestPasswordReset sends a reset email when the profile store or the
// commerce platform knows the email.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return apperrors.NewValidationError("Email is required.", nil)
	}

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
	storeErr := g.Wait()

	if existing == nil && !inCommerce {
		switch {
		case storeErr != nil:
			return storeErr
		case commerceErr != nil:
			return commerceErr
		default:
			return apperrors.NewNoSuchAccountError()
		}
	}

	if err := e.provider.RequestPasswordReset(ctx, email); err != nil {
		return err
	}
	e.logger.WithEmail(email).Info("Password reset requested")
	return nil
}

// revoke ends a provider session the client never adopted
func (e *Engine) revoke(ctx context.Context, ps *domain.ProviderSession) {
	if ps == nil || ps.AccessToken == "" {
		return
	}
	if err := e.provider.SignOut(ctx, ps.AccessToken); err != nil {
		e.logger.WithError(err).Warn("Failed to revoke temporary provider session")
	}
}
