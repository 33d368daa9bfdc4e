package clientstate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutri-auth/internal/domain"
	"nutri-auth/pkg/redis"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// backends returns every Store implementation so each test runs against both
func backends(t *testing.T) map[string]Store {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient("redis://"+mr.Addr(), "test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client),
	}
}

func newState(store Store, c *clock) *State {
	return New(store, redis.NewKeyBuilder("test"), nil, WithClock(c.now))
}

func TestVerifiedSession_TTL(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
			st := newState(store, c)

			require.NoError(t, st.PutVerifiedSession(ctx, "c1", domain.VerifiedSession{
				Email:    " A@X.com ",
				Identity: "uid1",
				UserType: domain.UserTypeUser,
			}))

			vs, err := st.VerifiedSession(ctx, "c1")
			require.NoError(t, err)
			require.NotNil(t, vs)
			assert.Equal(t, "a@x.com", vs.Email)
			assert.True(t, vs.Verified)

			c.advance(31 * time.Minute)

			// Expired twice in a row: absent both times, never resurrected
			for i := 0; i < 2; i++ {
				vs, err = st.VerifiedSession(ctx, "c1")
				require.NoError(t, err)
				assert.Nil(t, vs)
			}

			_, found, err := store.Get(ctx, st.key("c1", KeyVerifiedSession))
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestVerifiedSession_CustomTTL(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Now()}
	st := New(NewMemoryStore(), redis.NewKeyBuilder("test"), nil, WithClock(c.now), WithVerifiedTTL(time.Minute))

	require.NoError(t, st.PutVerifiedSession(ctx, "c1", domain.VerifiedSession{Email: "a@x.com"}))
	c.advance(2 * time.Minute)

	vs, err := st.VerifiedSession(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, vs)
	assert.Equal(t, time.Minute, st.VerifiedTTL())
}

func TestMalformedRecordIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	st := newState(store, &clock{t: time.Now()})

	require.NoError(t, store.Set(ctx, st.key("c1", KeyVerifiedSession), "{not json", 0))

	vs, err := st.VerifiedSession(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, vs)

	_, found, _ := store.Get(ctx, st.key("c1", KeyVerifiedSession))
	assert.False(t, found)
}

func TestClearClient(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := newState(store, &clock{t: time.Now()})

			require.NoError(t, st.PutVerifiedSession(ctx, "c1", domain.VerifiedSession{Email: "a@x.com"}))
			require.NoError(t, st.PutProviderSession(ctx, "c1", domain.ProviderSession{Identity: "uid1"}))
			require.NoError(t, st.PutSession(ctx, "c1", domain.Session{Authenticated: true, Email: "a@x.com"}))
			require.NoError(t, st.PutCommerceHint(ctx, "c1", "a@x.com", "42"))
			require.NoError(t, st.PutSignInHint(ctx, "c1", "a@x.com"))
			_, err := st.MarkTransferProcessed(ctx, "c1", "a@x.com|42")
			require.NoError(t, err)

			// Another client is untouched
			require.NoError(t, st.PutVerifiedSession(ctx, "c2", domain.VerifiedSession{Email: "b@x.com"}))

			require.NoError(t, st.ClearClient(ctx, "c1"))

			for _, name := range clientKeys {
				_, found, err := store.Get(ctx, st.key("c1", name))
				require.NoError(t, err)
				assert.False(t, found, name)
			}

			sess, err := st.Session(ctx, "c1")
			require.NoError(t, err)
			assert.False(t, sess.Authenticated)

			other, err := st.VerifiedSession(ctx, "c2")
			require.NoError(t, err)
			assert.NotNil(t, other)
		})
	}
}

func TestMarkTransferProcessed(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := newState(store, &clock{t: time.Now()})

			first, err := st.MarkTransferProcessed(ctx, "c1", "a@x.com|1")
			require.NoError(t, err)
			assert.True(t, first)

			again, err := st.MarkTransferProcessed(ctx, "c1", "a@x.com|1")
			require.NoError(t, err)
			assert.False(t, again)

			different, err := st.MarkTransferProcessed(ctx, "c1", "b@x.com|2")
			require.NoError(t, err)
			assert.True(t, different)
		})
	}
}

func TestMigrationMarker(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := newState(store, &clock{t: time.Now()})

			done, err := st.Migrated(ctx, "a@x.com")
			require.NoError(t, err)
			assert.False(t, done)

			ok, err := st.MarkMigrated(ctx, "A@x.com")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = st.MarkMigrated(ctx, "a@x.com")
			require.NoError(t, err)
			assert.False(t, ok)

			done, err = st.Migrated(ctx, "a@x.com")
			require.NoError(t, err)
			assert.True(t, done)

			// Clearing a client never removes global markers
			require.NoError(t, st.ClearClient(ctx, "c1"))
			done, _ = st.Migrated(ctx, "a@x.com")
			assert.True(t, done)
		})
	}
}

func TestCommerceHint(t *testing.T) {
	ctx := context.Background()
	st := newState(NewMemoryStore(), &clock{t: time.Now()})

	require.NoError(t, st.PutCommerceHint(ctx, "c1", "A@X.com", "7"))
	email, id, err := st.CommerceHint(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", email)
	assert.Equal(t, "7", id)
}
