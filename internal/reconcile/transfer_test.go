package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutri-auth/internal/domain"
	apperrors "nutri-auth/pkg/errors"
)

const transferURL = "/dashboard?sessionTransfer=true&email=shop@x.com&customerId=555"

func TestTransfer_ProvisionsAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.commerce.add("shop@x.com", storePassword, "555")

	out, err := h.engine.Reconcile(ctx, "c1", transferURL)
	require.NoError(t, err)

	assert.Equal(t, ActionNone, out.Action)
	assert.Equal(t, domain.SourceCommerceVerified, out.Session.Source)
	assert.Equal(t, domain.UserTypeUser, out.Session.UserType)
	assert.Equal(t, "555", out.Session.CommerceCustomerID)
	assert.True(t, out.Session.Authorized())

	p, err := h.profiles.FindByEmail(ctx, "shop@x.com")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, out.Session.Identity, p.Identity)
	assert.True(t, p.AutoCreated)

	vs, err := h.state.VerifiedSession(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, vs)
	assert.Equal(t, p.Identity, vs.Identity)

	email, customerID, err := h.state.CommerceHint(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "shop@x.com", email)
	assert.Equal(t, "555", customerID)

	// the same URL again is served from the verified session
	again, err := h.engine.Reconcile(ctx, "c1", transferURL)
	require.NoError(t, err)
	assert.Equal(t, out.Session, again.Session)

	signUps, _, _ := h.provider.counts()
	assert.Equal(t, 1, signUps)
	assert.Equal(t, 1, h.profiles.Len())
}

func TestTransfer_GlobalCustomerID(t *testing.T) {
	h := newHarness(t)
	h.commerce.add("shop@x.com", storePassword, "555")

	out, err := h.engine.Reconcile(context.Background(), "c1",
		"/dashboard?autoLogin=true&email=Shop%40x.com&customerId=gid%3A%2F%2Fshopify%2FCustomer%2F555")
	require.NoError(t, err)
	assert.Equal(t, "555", out.Session.CommerceCustomerID)
}

func TestTransfer_ExistingExpertProfile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.addProfile(t, "uid-e", "shop@x.com", domain.UserTypeExpert)
	h.commerce.add("shop@x.com", storePassword, "555")

	out, err := h.engine.Reconcile(ctx, "c1", transferURL)
	require.NoError(t, err)
	assert.Equal(t, "uid-e", out.Session.Identity)
	assert.Equal(t, domain.UserTypeExpert, out.Session.UserType)

	p, err := h.profiles.FindByEmail(ctx, "shop@x.com")
	require.NoError(t, err)
	assert.Equal(t, "555", p.CommerceCustomerID)

	signUps, _, _ := h.provider.counts()
	assert.Zero(t, signUps)
}

func TestTransfer_SignsOutOtherAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.provider.addAccount("other@x.com", goodPassword, "uid-o")
	h.addProfile(t, "uid-o", "other@x.com", domain.UserTypeUser)
	h.addProfile(t, "uid-s", "shop@x.com", domain.UserTypeUser)
	h.commerce.add("shop@x.com", storePassword, "555")

	_, err := h.engine.Login(ctx, "c1", "other@x.com", goodPassword)
	require.NoError(t, err)

	out, err := h.engine.Reconcile(ctx, "c1", transferURL)
	require.NoError(t, err)
	assert.Equal(t, "shop@x.com", out.Session.Email)

	ps, err := h.state.ProviderSession(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, ps)
}

func TestTransfer_Rejected(t *testing.T) {
	ctx := context.Background()

	t.Run("Email does not match the customer", func(t *testing.T) {
		h := newHarness(t)
		h.commerce.add("real@x.com", storePassword, "555")

		out, err := h.engine.Reconcile(ctx, "c1", transferURL)
		require.NoError(t, err)
		assert.Equal(t, ActionSignIn, out.Action)
		assert.Equal(t, apperrors.ErrorTypeEmailMismatch, out.Reason)
		assert.Equal(t, "shop@x.com", out.Email)
		assert.False(t, out.Session.Authenticated)
	})

	t.Run("Unknown customer", func(t *testing.T) {
		h := newHarness(t)

		out, err := h.engine.Reconcile(ctx, "c1", transferURL)
		require.NoError(t, err)
		assert.Equal(t, ActionSignIn, out.Action)
		assert.Equal(t, apperrors.ErrorTypeNotFound, out.Reason)
	})

	t.Run("Commerce outage allows a retry", func(t *testing.T) {
		h := newHarness(t)
		h.commerce.add("shop@x.com", storePassword, "555")
		h.commerce.unavailable = true

		out, err := h.engine.Reconcile(ctx, "c1", transferURL)
		require.NoError(t, err)
		assert.Equal(t, apperrors.ErrorTypeCommerceUnavailable, out.Reason)

		h.commerce.unavailable = false
		out, err = h.engine.Reconcile(ctx, "c1", transferURL)
		require.NoError(t, err)
		assert.Equal(t, domain.SourceCommerceVerified, out.Session.Source)
	})

	t.Run("Provider identity exists without profile", func(t *testing.T) {
		h := newHarness(t)
		h.provider.addAccount("shop@x.com", goodPassword, "uid-x")
		h.commerce.add("shop@x.com", storePassword, "555")

		out, err := h.engine.Reconcile(ctx, "c1", transferURL)
		require.NoError(t, err)
		assert.Equal(t, ActionSignIn, out.Action)
		assert.Equal(t, apperrors.ErrorTypeAccountDivergence, out.Reason)
	})
}
