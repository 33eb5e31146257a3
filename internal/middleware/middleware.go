// Package middleware provides Gin middleware for the ClawLess HTTP API.
// It includes CORS handling, request IDs, request logging, rate limiting,
// and API key authentication.
package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/DevCabin/ClawLess/pkg/log"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 64

// CORSMiddleware returns a handler that allows cross-origin requests from
// allowedOrigins. A "*" entry allows any origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Authorization", "X-API-Key", RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", RequestIDHeader},
		MaxAge:        24 * time.Hour,
	}
	for _, o := range allowedOrigins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			break
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

// RequestIDMiddleware reuses an incoming X-Request-ID or mints a UUID, then
// stores it on the request context for the logger and echoes it back.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Request = c.Request.WithContext(log.WithRequestID(c.Request.Context(), id))
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// LoggingMiddleware logs method, path, status, latency and client IP for
// each request, at a level chosen by the status code.
func LoggingMiddleware(l log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}

		c.Next()

		status := c.Writer.Status()
		entry := l.With(
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"bytes", c.Writer.Size(),
		)
		ctx := c.Request.Context()
		switch {
		case status >= 500:
			entry.With("errors", c.Errors.ByType(gin.ErrorTypePrivate).String()).Error(ctx, "request failed")
		case status >= 400:
			entry.Warn(ctx, "request rejected")
		default:
			entry.Info(ctx, "request completed")
		}
	}
}

// RateChecker decides whether the caller identified by key may proceed.
// *cache.Cache satisfies it with a Redis fixed window.
type RateChecker interface {
	RateLimitCheck(ctx context.Context, key string, maxRequests int64, window time.Duration) (bool, error)
}

// LocalRateChecker is an in-process token bucket per key, used when no Redis
// is configured. At most maxKeys buckets are kept.
type LocalRateChecker struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

// NewLocalRateChecker creates a LocalRateChecker.
func NewLocalRateChecker(maxKeys int) *LocalRateChecker {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	buckets, _ := lru.New[string, *rate.Limiter](maxKeys)
	return &LocalRateChecker{buckets: buckets}
}

// RateLimitCheck implements RateChecker. The bucket refills evenly across
// window and holds up to maxRequests tokens.
func (l *LocalRateChecker) RateLimitCheck(_ context.Context, key string, maxRequests int64, window time.Duration) (bool, error) {
	l.mu.Lock()
	lim, ok := l.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Every(window/time.Duration(maxRequests)), int(maxRequests))
		l.buckets.Add(key, lim)
	}
	l.mu.Unlock()
	return lim.Allow(), nil
}

// RateLimitMiddleware enforces maxRequests per window per API key, falling
// back to the client IP for anonymous callers. Checker errors fail open.
func RateLimitMiddleware(checker RateChecker, l log.Logger, maxRequests int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxRequests <= 0 {
			c.Next()
			return
		}

		id := apiKeyFrom(c)
		if id == "" {
			id = c.ClientIP()
		} else {
			// Only a hash prefix of the key ever reaches the limiter store.
			id = "key:" + hex.EncodeToString(hashAPIKey(id))[:16]
		}

		allowed, err := checker.RateLimitCheck(c.Request.Context(), id, maxRequests, window)
		if err != nil {
			l.Warnf(c.Request.Context(), "middleware: rate limit check error: %v", err)
			c.Next()
			return
		}

		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func apiKeyFrom(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func hashAPIKey(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return h[:]
}

// AuthMiddleware validates the X-API-Key header (or Authorization: Bearer)
// against expected. An empty expected key disables the check.
func AuthMiddleware(expected string) gin.HandlerFunc {
	if expected == "" {
		return func(c *gin.Context) { c.Next() }
	}
	want := hashAPIKey(expected)

	return func(c *gin.Context) {
		apiKey := apiKeyFrom(c)
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing API key. Provide X-API-Key header or Authorization: Bearer <key>.",
			})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare(hashAPIKey(apiKey), want) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid API key.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 error instead of
// crashing the server.
func RecoveryMiddleware(l log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				l.Errorf(c.Request.Context(), "recovered from panic: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_server_error",
					"message": "An unexpected error occurred.",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
