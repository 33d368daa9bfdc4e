// Package clientstate holds the per-client state a browser app would otherwise
// keep in local and session storage: the verified session, the provider session,
// idempotency flags and one-shot commerce hints. It also holds the global
// account-migration markers.
package clientstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nutri-auth/internal/domain"
	"nutri-auth/pkg/logger"
	"nutri-auth/pkg/redis"
)

// Store is the raw key/value backend
type Store interface {
	// Get returns the value and whether the key was present
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes all keys in one step; readers never observe a partial delete
	Delete(ctx context.Context, keys ...string) error
}

// Client-scoped key names
const (
	KeySession           = "session"
	KeyProviderSession   = "providerSession"
	KeyVerifiedSession   = "verifiedSession"
	KeyTransferProcessed = "sessionTransferProcessed"
	KeyCommerceEmail     = "commerceCustomerEmail"
	KeyCommerceID        = "commerceCustomerId"
	KeySignInHint        = "signInHint"
)

// clientKeys is everything ClearClient removes on sign-out
var clientKeys = []string{
	KeySession,
	KeyProviderSession,
	KeyVerifiedSession,
	KeyTransferProcessed,
	KeyCommerceEmail,
	KeyCommerceID,
	KeySignInHint,
}

const (
	DefaultVerifiedTTL = 30 * time.Minute
	hintTTL            = 5 * time.Minute
	transferFlagTTL    = 24 * time.Hour
	sessionTTL         = 7 * 24 * time.Hour
	migrationTTL       = 90 * 24 * time.Hour
)

// State is the typed view over a Store
type State struct {
	store       Store
	keys        *redis.KeyBuilder
	verifiedTTL time.Duration
	now         func() time.Time
	logger      *logger.Logger
}

// Option configures a State
type Option func(*State)

// WithVerifiedTTL overrides the verified session lifetime
func WithVerifiedTTL(ttl time.Duration) Option {
	return func(s *State) {
		if ttl > 0 {
			s.verifiedTTL = ttl
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// New creates a State over store, naming keys with the environment prefix of keys
func New(store Store, keys *redis.KeyBuilder, log *logger.Logger, opts ...Option) *State {
	if log == nil {
		log = logger.NewNop()
	}
	s := &State{
		store:       store,
		keys:        keys,
		verifiedTTL: DefaultVerifiedTTL,
		now:         time.Now,
		logger:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifiedTTL returns the configured verified session lifetime
func (s *State) VerifiedTTL() time.Duration {
	return s.verifiedTTL
}

func (s *State) key(clientID, name string) string {
	return s.keys.KeyClient(clientID, name)
}

func (s *State) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		// Unreadable records are treated as absent and removed
		s.logger.WithError(err).WithField("key", key).Warn("Discarding malformed client state record")
		_ = s.store.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

func (s *State) setJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal client state: %w", err)
	}
	return s.store.Set(ctx, key, string(data), ttl)
}

// VerifiedSession returns the client's verified session if one exists and is
// within its TTL. An expired record is deleted and reported absent.
func (s *State) VerifiedSession(ctx context.Context, clientID string) (*domain.VerifiedSession, error) {
	key := s.key(clientID, KeyVerifiedSession)

	var vs domain.VerifiedSession
	ok, err := s.getJSON(ctx, key, &vs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if vs.Expired(s.now(), s.verifiedTTL) {
		s.logger.WithClient(clientID).Info("Verified session expired, removing")
		if err := s.store.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &vs, nil
}

// PutVerifiedSession stores vs, stamping it verified at the current time
func (s *State) PutVerifiedSession(ctx context.Context, clientID string, vs domain.VerifiedSession) error {
	vs.Verified = true
	vs.Email = domain.NormalizeEmail(vs.Email)
	if vs.Timestamp.IsZero() {
		vs.Timestamp = s.now()
	}
	return s.setJSON(ctx, s.key(clientID, KeyVerifiedSession), vs, s.verifiedTTL)
}

// DiscardVerifiedSession removes the verified session
func (s *State) DiscardVerifiedSession(ctx context.Context, clientID string) error {
	return s.store.Delete(ctx, s.key(clientID, KeyVerifiedSession))
}

// ProviderSession returns the stored identity provider session
func (s *State) ProviderSession(ctx context.Context, clientID string) (*domain.ProviderSession, error) {
	var ps domain.ProviderSession
	ok, err := s.getJSON(ctx, s.key(clientID, KeyProviderSession), &ps)
	if err != nil || !ok {
		return nil, err
	}
	return &ps, nil
}

// PutProviderSession stores the identity provider session
func (s *State) PutProviderSession(ctx context.Context, clientID string, ps domain.ProviderSession) error {
	return s.setJSON(ctx, s.key(clientID, KeyProviderSession), ps, sessionTTL)
}

// DeleteProviderSession removes the identity provider session
func (s *State) DeleteProviderSession(ctx context.Context, clientID string) error {
	return s.store.Delete(ctx, s.key(clientID, KeyProviderSession))
}

// Session returns the last committed reconciled session
func (s *State) Session(ctx context.Context, clientID string) (domain.Session, error) {
	var sess domain.Session
	ok, err := s.getJSON(ctx, s.key(clientID, KeySession), &sess)
	if err != nil {
		return domain.Anonymous(), err
	}
	if !ok {
		return domain.Anonymous(), nil
	}
	return sess, nil
}

// PutSession commits a reconciled session
func (s *State) PutSession(ctx context.Context, clientID string, sess domain.Session) error {
	return s.setJSON(ctx, s.key(clientID, KeySession), sess, sessionTTL)
}

// MarkTransferProcessed sets the session-transfer idempotency flag. It returns
// false when the same transfer was already processed for this client.
func (s *State) MarkTransferProcessed(ctx context.Context, clientID, fingerprint string) (bool, error) {
	key := s.key(clientID, KeyTransferProcessed)
	ok, err := s.store.SetNX(ctx, key, fingerprint, transferFlagTTL)
	if err != nil || ok {
		return ok, err
	}
	// A different transfer replaces the old flag
	prev, found, err := s.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if found && prev == fingerprint {
		return false, nil
	}
	return true, s.store.Set(ctx, key, fingerprint, transferFlagTTL)
}

// ForgetTransfer clears the session-transfer flag so the same transfer can be retried
func (s *State) ForgetTransfer(ctx context.Context, clientID string) error {
	return s.store.Delete(ctx, s.key(clientID, KeyTransferProcessed))
}

// PutCommerceHint caches the commerce email and customer id seen on the transfer path
func (s *State) PutCommerceHint(ctx context.Context, clientID, email, customerID string) error {
	if err := s.store.Set(ctx, s.key(clientID, KeyCommerceEmail), domain.NormalizeEmail(email), hintTTL); err != nil {
		return err
	}
	if customerID == "" {
		return nil
	}
	return s.store.Set(ctx, s.key(clientID, KeyCommerceID), customerID, hintTTL)
}

// CommerceHint returns the cached commerce email and customer id, if any
func (s *State) CommerceHint(ctx context.Context, clientID string) (string, string, error) {
	email, _, err := s.store.Get(ctx, s.key(clientID, KeyCommerceEmail))
	if err != nil {
		return "", "", err
	}
	id, _, err := s.store.Get(ctx, s.key(clientID, KeyCommerceID))
	if err != nil {
		return "", "", err
	}
	return email, id, nil
}

// PutSignInHint remembers the email to pre-fill on the manual sign-in screen
func (s *State) PutSignInHint(ctx context.Context, clientID, email string) error {
	return s.store.Set(ctx, s.key(clientID, KeySignInHint), domain.NormalizeEmail(email), hintTTL)
}

// SignInHint returns the pre-fill email, if any
func (s *State) SignInHint(ctx context.Context, clientID string) (string, error) {
	email, _, err := s.store.Get(ctx, s.key(clientID, KeySignInHint))
	return email, err
}

// ClearClient removes every client-scoped key in one delete
func (s *State) ClearClient(ctx context.Context, clientID string) error {
	if err := s.store.Delete(ctx, s.keys.ClientKeys(clientID, clientKeys...)...); err != nil {
		return fmt.Errorf("failed to clear client state: %w", err)
	}
	return nil
}

// MarkMigrated records that the commerce-fallback migration ran for email.
// It returns false if a marker already existed.
func (s *State) MarkMigrated(ctx context.Context, email string) (bool, error) {
	return s.store.SetNX(ctx, s.keys.KeyMigration(logger.HashEmail(email)), "1", migrationTTL)
}

// Migrated reports whether the migration already ran for email
func (s *State) Migrated(ctx context.Context, email string) (bool, error) {
	_, ok, err := s.store.Get(ctx, s.keys.KeyMigration(logger.HashEmail(email)))
	return ok, err
}
