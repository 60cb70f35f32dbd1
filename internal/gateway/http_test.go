package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/rewards_auth/internal/apperr"
	"github.com/congo-pay/rewards_auth/internal/config"
	"github.com/congo-pay/rewards_auth/internal/logging"
	"github.com/congo-pay/rewards_auth/internal/phone"
	"github.com/congo-pay/rewards_auth/internal/routes"
	"github.com/congo-pay/rewards_auth/internal/server"
)

const (
	testPhone = phone.Number("966501234567")
	testCode  = "123456"
)

func testDeps(t *testing.T) routes.Deps {
	t.Helper()
	cfg := config.Defaults()
	cfg.PasswordCost = bcrypt.MinCost
	cfg.OTP.HashCost = bcrypt.MinCost
	return routes.Deps{
		Cfg:    cfg,
		Logger: logging.Discard(),
		Codes:  func(int) (string, error) { return testCode, nil },
	}
}

func newHTTPGateway(t *testing.T) *HTTPClient {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	d := testDeps(t)
	d.Cache = cache
	srv, err := server.NewWithDeps(d)
	require.NoError(t, err)

	ts := httptest.NewServer(adaptor.FiberApp(srv.App()))
	t.Cleanup(ts.Close)
	return NewHTTPClient(ts.URL+"/api/v1", 5*time.Second)
}

func TestHTTPRegistrationRoundTrip(t *testing.T) {
	gw := newHTTPGateway(t)
	ctx := context.Background()
	var forced int
	gw.OnUnauthorized(func(context.Context) { forced++ })

	ch, err := gw.SendOTP(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, PurposeRegistration, ch.Purpose)
	assert.NotEmpty(t, ch.ChallengeID)
	assert.InDelta(t, (5 * time.Minute).Seconds(), ch.ExpiresAt.Sub(time.Now()).Seconds(), 5)

	_, err = gw.VerifyOTP(ctx, testPhone, "000000")
	assert.Equal(t, apperr.KindIncorrect, apperr.KindOf(err))

	v, err := gw.VerifyOTP(ctx, testPhone, testCode)
	require.NoError(t, err)
	assert.True(t, v.Verified)

	_, err = gw.VerifyOTP(ctx, testPhone, testCode)
	assert.Equal(t, apperr.KindAlreadyConsumed, apperr.KindOf(err))

	reg := Registration{Phone: testPhone, Code: testCode, Name: "Ahmed", Password: "secret1", ConfirmPassword: "secret1"}
	keyed := WithIdempotencyKey(ctx, "reg-1")
	sess, err := gw.CompleteRegistration(keyed, reg)
	require.NoError(t, err)
	assert.Equal(t, "Ahmed", sess.User.Name)
	assert.Equal(t, testPhone, sess.User.Phone)
	assert.NotEmpty(t, sess.Token)

	// A retry with the same key is answered from the stored response.
	replay, err := gw.CompleteRegistration(keyed, reg)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, replay.Token)

	user, err := gw.Profile(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, user.ID)
	assert.Equal(t, int64(0), user.Points)

	_, err = gw.Login(ctx, testPhone, "wrong-pass")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Equal(t, 0, forced, "a failed login carries no token")

	require.NoError(t, gw.Logout(ctx, sess.Token))
	_, err = gw.Profile(ctx, sess.Token)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Equal(t, 1, forced)
}

func TestHTTPValidationErrorKeepsField(t *testing.T) {
	gw := newHTTPGateway(t)
	_, err := gw.SendOTP(context.Background(), phone.Number("12"))
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.Equal(t, "phone", ae.Field)
	assert.Equal(t, "invalid_format", ae.Reason)
}

func TestHTTPPasswordReset(t *testing.T) {
	gw := newHTTPGateway(t)
	ctx := context.Background()

	_, err := gw.ForgotPassword(ctx, testPhone)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = gw.SendOTP(ctx, testPhone)
	require.NoError(t, err)
	_, err = gw.VerifyOTP(ctx, testPhone, testCode)
	require.NoError(t, err)
	_, err = gw.CompleteRegistration(ctx, Registration{Phone: testPhone, Code: testCode, Name: "Ahmed", Password: "secret1", ConfirmPassword: "secret1"})
	require.NoError(t, err)

	ch, err := gw.ForgotPassword(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, PurposePasswordReset, ch.Purpose)

	v, err := gw.VerifyOTP(ctx, testPhone, testCode)
	require.NoError(t, err)
	require.NotEmpty(t, v.ResetToken)

	require.NoError(t, gw.ResetPassword(ctx, v.ResetToken, "newpass1"))
	err = gw.ResetPassword(ctx, v.ResetToken, "newpass1")
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))

	_, err = gw.Login(ctx, testPhone, "newpass1")
	require.NoError(t, err)
}

func TestHTTPServerFailureIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>upstream down</html>"))
	}))
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, time.Second).SendOTP(context.Background(), testPhone)
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, apperr.KindNetwork, ae.Kind)
	assert.True(t, ae.Retryable())
}

func TestHTTPUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewHTTPClient(url, time.Second).Login(context.Background(), testPhone, "secret1")
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))
}

func TestHTTPCancelledContextIsNotWrapped(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPClient(ts.URL, time.Second).Login(ctx, testPhone, "secret1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, apperr.As(err))
}

func TestHTTPSendsIdempotencyKey(t *testing.T) {
	seen := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":{"id":"u1"},"token":"t","expires_at":1}`))
	}))
	defer ts.Close()

	ctx := WithIdempotencyKey(context.Background(), "abc")
	_, err := NewHTTPClient(ts.URL, time.Second).CompleteRegistration(ctx, Registration{Phone: testPhone})
	require.NoError(t, err)
	assert.Equal(t, "abc", <-seen)
}
