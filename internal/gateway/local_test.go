package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/rewards_auth/internal/account"
	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/routes"
)

func newLocal(t *testing.T) *Local {
	t.Helper()
	svc, err := routes.NewBackend(testDeps(t))
	require.NoError(t, err)
	return NewLocal(svc)
}

func TestLocalMatchesHTTPErrorShape(t *testing.T) {
	gw := newLocal(t)
	ctx := context.Background()

	_, err := gw.SendOTP(ctx, testPhone)
	require.NoError(t, err)
	_, err = gw.VerifyOTP(ctx, testPhone, testCode)
	require.NoError(t, err)
	sess, err := gw.CompleteRegistration(ctx, Registration{Phone: testPhone, Code: testCode, Name: "Ahmed", Password: "secret1", ConfirmPassword: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, string(account.RoleUser), sess.User.Role)

	_, err = gw.SendOTP(ctx, testPhone)
	assert.True(t, errors.Is(err, account.ErrPhoneTaken))
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Nil(t, ae.Cause, "causes do not cross the gateway")
}

func TestLocalRejectedTokenFiresHook(t *testing.T) {
	gw := newLocal(t)
	var forced int
	gw.OnUnauthorized(func(context.Context) { forced++ })

	_, err := gw.Profile(context.Background(), "not-a-token")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(gw.Logout(context.Background(), "not-a-token")))
	assert.Equal(t, 2, forced)
}

func TestNormalizeHidesUnexpectedFailures(t *testing.T) {
	err := normalize(errors.New("pq: connection reset"))
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))

	err = normalize(apperr.Internal(errors.New("boom")))
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))

	assert.Nil(t, normalize(nil))
}
