package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"nutri-auth/internal/domain"
	apperrors "nutri-auth/pkg/errors"
	"nutri-auth/pkg/logger"
)

// SessionStore persists the provider session of each client
type SessionStore interface {
	ProviderSession(ctx context.Context, clientID string) (*domain.ProviderSession, error)
	PutProviderSession(ctx context.Context, clientID string, ps domain.ProviderSession) error
	DeleteProviderSession(ctx context.Context, clientID string) error
}

// Listener receives every provider session change. ctx is the context of the
// call that caused the change.
type Listener func(ctx context.Context, clientID string, ev domain.SessionEvent)

// Tracker owns each client's provider session. All provider-side session
// changes originate here and are published to subscribers.
type Tracker struct {
	provider Provider
	store    SessionStore
	logger   *logger.Logger
	now      func() time.Time

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// NewTracker creates a tracker over provider and store
func NewTracker(provider Provider, store SessionStore, log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.NewNop()
	}
	return &Tracker{
		provider:  provider,
		store:     store,
		logger:    log,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
}

// Provider returns the underlying identity provider
func (t *Tracker) Provider() Provider {
	return t.provider
}

// Subscribe registers fn and returns a function that removes it
func (t *Tracker) Subscribe(fn Listener) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) publish(ctx context.Context, clientID string, ps *domain.ProviderSession) {
	t.mu.RLock()
	ids := make([]int, 0, len(t.listeners))
	for id := range t.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, t.listeners[id])
	}
	t.mu.RUnlock()

	ev := domain.SessionEvent{Kind: domain.EventProviderChanged, Provider: ps}
	for _, fn := range fns {
		fn(ctx, clientID, ev)
	}
}

// Commit decides whether ps may become the client's session. It runs store
// while the caller's generation is current and reports false otherwise. A nil
// Commit stores unconditionally.
type Commit func(ps *domain.ProviderSession, store func() error) (bool, error)

// SignIn signs the client in with a password and stores the session through
// commit. A session commit refuses is revoked and (nil, false, nil) returned.
func (t *Tracker) SignIn(ctx context.Context, clientID, email, password string, commit Commit) (*domain.ProviderSession, bool, error) {
	ps, err := t.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, false, err
	}
	return t.install(ctx, clientID, ps, commit)
}

// SignInWithToken is SignIn for an SSO token
func (t *Tracker) SignInWithToken(ctx context.Context, clientID, token string, commit Commit) (*domain.ProviderSession, bool, error) {
	ps, err := t.provider.SignInWithToken(ctx, token)
	if err != nil {
		return nil, false, err
	}
	return t.install(ctx, clientID, ps, commit)
}

// Adopt installs a session obtained directly from the provider, such as the
// one returned by sign-up, through commit
func (t *Tracker) Adopt(ctx context.Context, clientID string, ps *domain.ProviderSession, commit Commit) (bool, error) {
	_, ok, err := t.install(ctx, clientID, ps, commit)
	return ok, err
}

func (t *Tracker) install(ctx context.Context, clientID string, ps *domain.ProviderSession, commit Commit) (*domain.ProviderSession, bool, error) {
	store := func() error { return t.adopt(ctx, clientID, ps) }
	if commit == nil {
		return ps, true, store()
	}

	ok, err := commit(ps, store)
	if err != nil {
		return nil, ok, err
	}
	if !ok {
		t.logger.WithClient(clientID).Info("Revoking provider session from a superseded operation")
		if err := t.provider.SignOut(ctx, ps.AccessToken); err != nil {
			t.logger.WithError(err).WithClient(clientID).Warn("Failed to revoke superseded provider session")
		}
		return nil, false, nil
	}
	return ps, true, nil
}

func (t *Tracker) adopt(ctx context.Context, clientID string, ps *domain.ProviderSession) error {
	if err := t.store.PutProviderSession(ctx, clientID, *ps); err != nil {
		return apperrors.NewInternalError("Failed to store session", err)
	}
	t.publish(ctx, clientID, ps)
	return nil
}

// SignOut revokes and forgets the client's provider session. A provider-side
// revoke failure is logged; the local session is removed regardless.
func (t *Tracker) SignOut(ctx context.Context, clientID string) error {
	ps, err := t.store.ProviderSession(ctx, clientID)
	if err != nil {
		return apperrors.NewInternalError("Failed to read session", err)
	}
	if ps == nil {
		return nil
	}

	if err := t.provider.SignOut(ctx, ps.AccessToken); err != nil {
		t.logger.WithError(err).WithClient(clientID).Warn("Provider sign-out failed, dropping local session")
	}
	if err := t.store.DeleteProviderSession(ctx, clientID); err != nil {
		return apperrors.NewInternalError("Failed to clear session", err)
	}
	t.publish(ctx, clientID, nil)
	return nil
}

// Current returns the client's live provider session, refreshing an expired
// access token. A session that cannot be refreshed is dropped and nil returned.
// The refreshed session is stored through commit like a sign-in.
func (t *Tracker) Current(ctx context.Context, clientID string, commit Commit) (*domain.ProviderSession, error) {
	ps, err := t.store.ProviderSession(ctx, clientID)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to read session", err)
	}
	if ps == nil || !ps.Expired(t.now()) {
		return ps, nil
	}

	if ps.RefreshToken != "" {
		refreshed, err := t.provider.Refresh(ctx, ps.RefreshToken)
		if err == nil {
			t.logger.WithClient(clientID).Debug("Provider session refreshed")
			ps, _, err := t.install(ctx, clientID, refreshed, commit)
			return ps, err
		}
		if apperrors.Is(err, apperrors.ErrorTypeInternal) {
			// Provider unreachable; keep the session for the next attempt
			return nil, err
		}
		t.logger.WithError(err).WithClient(clientID).Info("Provider session refresh rejected")
	}

	if err := t.store.DeleteProviderSession(ctx, clientID); err != nil {
		return nil, apperrors.NewInternalError("Failed to clear session", err)
	}
	t.publish(ctx, clientID, nil)
	return nil, nil
}
