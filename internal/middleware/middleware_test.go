package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevCabin/ClawLess/pkg/log"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": log.RequestID(c.Request.Context())})
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func do(r http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	r := newEngine(RequestIDMiddleware())

	w := do(r, "/ping", nil)
	require.Equal(t, http.StatusOK, w.Code)
	minted := w.Header().Get(RequestIDHeader)
	assert.Len(t, minted, 36)
	assert.Contains(t, w.Body.String(), minted)

	w = do(r, "/ping", map[string]string{RequestIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestAuthMiddleware(t *testing.T) {
	r := newEngine(AuthMiddleware("s3cret-admin-key"))

	assert.Equal(t, http.StatusUnauthorized, do(r, "/ping", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/ping", map[string]string{"X-API-Key": "wrong"}).Code)
	assert.Equal(t, http.StatusOK, do(r, "/ping", map[string]string{"X-API-Key": "s3cret-admin-key"}).Code)
	assert.Equal(t, http.StatusOK, do(r, "/ping", map[string]string{"Authorization": "Bearer s3cret-admin-key"}).Code)

	open := newEngine(AuthMiddleware(""))
	assert.Equal(t, http.StatusOK, do(open, "/ping", nil).Code)
}

func TestRateLimit_Local(t *testing.T) {
	r := newEngine(RateLimitMiddleware(NewLocalRateChecker(0), log.NewNop(), 2, time.Minute))

	assert.Equal(t, http.StatusOK, do(r, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, "/ping", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, "/ping", nil).Code)

	// A different key gets its own bucket.
	assert.Equal(t, http.StatusOK, do(r, "/ping", map[string]string{"X-API-Key": "other"}).Code)
}

type failingChecker struct{}

func (failingChecker) RateLimitCheck(context.Context, string, int64, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := newEngine(RateLimitMiddleware(failingChecker{}, log.NewNop(), 1, time.Minute))
	assert.Equal(t, http.StatusOK, do(r, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, "/ping", nil).Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	r := newEngine(RateLimitMiddleware(failingChecker{}, log.NewNop(), 0, time.Minute))
	assert.Equal(t, http.StatusOK, do(r, "/ping", nil).Code)
}

func TestRecovery(t *testing.T) {
	r := newEngine(RecoveryMiddleware(log.NewNop()))
	w := do(r, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_server_error")
}

func TestCORS(t *testing.T) {
	r := newEngine(CORSMiddleware([]string{"https://app.example.org"}))
	w := do(r, "/ping", map[string]string{"Origin": "https://app.example.org"})
	assert.Equal(t, "https://app.example.org", w.Header().Get("Access-Control-Allow-Origin"))
}
