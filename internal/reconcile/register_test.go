package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutri-auth/internal/domain"
	apperrors "nutri-auth/pkg/errors"
)

func TestRegister_User(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.engine.Register(ctx, "c1", Registration{
		Email:     "New@x.com",
		Password:  goodPassword,
		FirstName: "Ann",
	})
	require.NoError(t, err)

	assert.True(t, res.SignInRequired)
	assert.True(t, res.CommerceLinked)
	assert.NotEmpty(t, res.CommerceCustomerID)
	assert.False(t, res.Session.Authenticated)

	p, err := h.profiles.FindByEmail(ctx, "new@x.com")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, res.Identity, p.Identity)
	assert.Equal(t, domain.UserTypeUser, p.UserType)
	assert.Equal(t, res.CommerceCustomerID, p.CommerceCustomerID)
	assert.Equal(t, "Ann", p.FirstName)

	exists, err := h.commerce.CustomerExists(ctx, "new@x.com")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Contains(t, h.provider.signOuts, "at-"+res.Identity)
}

func TestRegister_ExistingCommerceCustomer(t *testing.T) {
	ctx := context.Background()

	t.Run("Wrong store password", func(t *testing.T) {
		h := newHarness(t)
		h.commerce.add("shop@x.com", storePassword, "555")

		_, err := h.engine.Register(ctx, "c1", Registration{Email: "shop@x.com", Password: goodPassword})
		assert.Equal(t, apperrors.ErrorTypeEmailInUse, apperrors.TypeOf(err))
		assert.Contains(t, err.Error(), "password is incorrect")

		signUps, _, _ := h.provider.counts()
		assert.Zero(t, signUps)
	})

	t.Run("Matching store password connects the customer", func(t *testing.T) {
		h := newHarness(t)
		h.commerce.add("shop@x.com", storePassword, "555")

		res, err := h.engine.Register(ctx, "c1", Registration{Email: "shop@x.com", Password: storePassword})
		require.NoError(t, err)
		assert.Equal(t, "555", res.CommerceCustomerID)
		assert.Contains(t, res.Message, "already existed")

		p, err := h.profiles.FindByEmail(ctx, "shop@x.com")
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "555", p.CommerceCustomerID)
	})
}

func TestRegister_Expert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.commerce.unavailable = true

	res, err := h.engine.Register(ctx, "c1", Registration{
		Email:    "exp@x.com",
		Password: goodPassword,
		UserType: domain.UserTypeExpert,
	})
	require.NoError(t, err)

	assert.False(t, res.SignInRequired)
	assert.False(t, res.CommerceLinked)
	assert.Empty(t, res.CommerceCustomerID)
	assert.Equal(t, domain.UserTypeExpert, res.Session.UserType)
	assert.True(t, res.Session.Authorized())

	stored, err := h.state.Session(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, res.Session, stored)
}

func TestRegister_Rejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, h *harness)
		reg     Registration
		errType apperrors.ErrorType
	}{
		{
			name:    "Weak password",
			setup:   func(*testing.T, *harness) {},
			reg:     Registration{Email: "new@x.com", Password: "password"},
			errType: apperrors.ErrorTypeWeakPassword,
		},
		{
			name:    "Missing email",
			setup:   func(*testing.T, *harness) {},
			reg:     Registration{Password: goodPassword},
			errType: apperrors.ErrorTypeValidation,
		},
		{
			name:    "Admin cannot self-register",
			setup:   func(*testing.T, *harness) {},
			reg:     Registration{Email: "new@x.com", Password: goodPassword, UserType: domain.UserTypeAdmin},
			errType: apperrors.ErrorTypeValidation,
		},
		{
			name: "Profile exists",
			setup: func(t *testing.T, h *harness) {
				h.addProfile(t, "uid-1", "new@x.com", domain.UserTypeUser)
			},
			reg:     Registration{Email: "new@x.com", Password: goodPassword},
			errType: apperrors.ErrorTypeEmailInUse,
		},
		{
			name: "Commerce down for a user",
			setup: func(_ *testing.T, h *harness) {
				h.commerce.unavailable = true
			},
			reg:     Registration{Email: "new@x.com", Password: goodPassword},
			errType: apperrors.ErrorTypeCommerceUnavailable,
		},
		{
			name: "Provider identity already exists",
			setup: func(_ *testing.T, h *harness) {
				h.provider.addAccount("new@x.com", goodPassword, "uid-1")
			},
			reg:     Registration{Email: "new@x.com", Password: goodPassword},
			errType: apperrors.ErrorTypeEmailInUse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(t, h)

			_, err := h.engine.Register(ctx, "c1", tt.reg)
			assert.Equal(t, tt.errType, apperrors.TypeOf(err))

			signUps, _, _ := h.provider.counts()
			assert.Zero(t, signUps)
		})
	}
}
