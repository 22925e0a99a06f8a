package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newRequestEvent(t *testing.T, req *http.Request) *core.RequestEvent {
	t.Helper()
	app, err := tests.NewTestApp()
	require.NoError(t, err)
	t.Cleanup(app.Cleanup)

	e := &core.RequestEvent{App: app}
	e.Request = req
	e.Response = httptest.NewRecorder()
	return e
}

func apiStatus(t *testing.T, err error) int {
	t.Helper()
	var apiErr *router.ApiError
	require.True(t, errors.As(err, &apiErr), "expected api error, got %v", err)
	return apiErr.Status
}

func TestWebhookSecret_Plain(t *testing.T) {
	w := NewWebhookSecret("s3cret")
	assert.True(t, w.Enabled())
	assert.True(t, w.Verify("s3cret"))
	assert.False(t, w.Verify("s3cret "))
	assert.False(t, w.Verify(""))
}

func TestWebhookSecret_Bcrypt(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	w := NewWebhookSecret(string(hash))
	assert.True(t, w.Verify("s3cret"))
	assert.False(t, w.Verify("wrong"))
	assert.False(t, w.Verify(string(hash)))
}

func TestWebhookSecret_Disabled(t *testing.T) {
	w := NewWebhookSecret("")
	assert.False(t, w.Enabled())
	assert.True(t, w.Verify(""))
}

func TestWebhookSecret_Middleware(t *testing.T) {
	mw := NewWebhookSecret("s3cret").Middleware()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", nil)
	req.Header.Set(WebhookSecretHeader, "s3cret")
	assert.NoError(t, mw(newRequestEvent(t, req)))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/callback", nil)
	req.Header.Set(WebhookSecretHeader, "guess")
	assert.Equal(t, http.StatusUnauthorized, apiStatus(t, mw(newRequestEvent(t, req))))
}

// expectCount expects one window check: the TTL-bearing create and the
// increment, sent together in MULTI/EXEC.
func expectCount(mock redismock.ClientMock, key string, created bool, count int64) {
	mock.ExpectTxPipeline()
	mock.ExpectSetNX(key, 0, time.Minute).SetVal(created)
	mock.ExpectIncr(key).SetVal(count)
	mock.ExpectTxPipelineExec()
}

func TestRateLimiter_Allow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 2, time.Minute, nil)
	ctx := context.Background()

	expectCount(mock, "ratelimit:purchase:1.2.3.4", true, 1)
	expectCount(mock, "ratelimit:purchase:1.2.3.4", false, 2)
	expectCount(mock, "ratelimit:purchase:1.2.3.4", false, 3)

	for _, want := range []bool{true, true, false} {
		allowed, err := limiter.Allow(ctx, "purchase:1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, want, allowed)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 2, time.Minute, nil)
	mock.ExpectTxPipeline()
	mock.ExpectSetNX("ratelimit:purchase:1.2.3.4", 0, time.Minute).SetErr(errors.New("connection refused"))

	allowed, err := limiter.Allow(context.Background(), "purchase:1.2.3.4")
	assert.Error(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_Middleware(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 1, time.Minute, nil)
	mw := limiter.Middleware("purchase")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orgs/org1/purchases", nil)
	req.RemoteAddr = "10.0.0.7:5555"

	expectCount(mock, "ratelimit:purchase:10.0.0.7", true, 1)
	assert.NoError(t, mw(newRequestEvent(t, req)))

	expectCount(mock, "ratelimit:purchase:10.0.0.7", false, 2)
	assert.Equal(t, http.StatusTooManyRequests, apiStatus(t, mw(newRequestEvent(t, req))))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAntiBotMiddleware(t *testing.T) {
	mw := AntiBotMiddleware()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1)")
	assert.Equal(t, http.StatusForbidden, apiStatus(t, mw(newRequestEvent(t, req))))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 14)")
	assert.NoError(t, mw(newRequestEvent(t, req)))
}
