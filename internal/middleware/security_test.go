package middleware

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/s3-console/internal/cache"
	"github.com/kenneth/s3-console/internal/metrics"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	handler := SecurityHeadersMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	headers := []string{
		"X-Frame-Options",
		"X-Content-Type-Options",
		"Content-Security-Policy",
		"Referrer-Policy",
		"Permissions-Policy",
		"Cache-Control",
	}

	for _, header := range headers {
		if rr.Header().Get(header) == "" {
			t.Errorf("Expected header %s to be set", header)
		}
	}

	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS header should not be set for non-TLS requests")
	}
}

func TestSecurityHeadersMiddleware_TLS(t *testing.T) {
	handler := SecurityHeadersMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.TLS = &tls.ConnectionState{}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS header should be set for TLS requests")
	}
}

func TestCORSMiddleware(t *testing.T) {
	reached := false
	handler := CORSMiddleware([]string{"https://app.example.com/"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/user/details", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/user/details", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("preflight", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/user/delete", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "DELETE")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "DELETE")
		assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")
		assert.False(t, reached, "preflight should not reach the handler")
	})
}

func newTestLimiter(limit int, window time.Duration, m *metrics.Metrics) *RateLimiter {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewRateLimiter("auth", "Too many login/signup attempts. Please try later.", limit, window, cache.NewMemoryStore(100), logger, m)
}

func TestRateLimiter(t *testing.T) {
	limiter := newTestLimiter(5, time.Second, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := limiter.Allow(ctx, "test-client")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d, err := limiter.Allow(ctx, "test-client")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "request should be rate limited")
	assert.Equal(t, 0, d.Remaining)

	d, _ = limiter.Allow(ctx, "other-client")
	assert.True(t, d.Allowed, "different client should be allowed")
}

func TestRateLimiter_WindowReset(t *testing.T) {
	limiter := newTestLimiter(5, 100*time.Millisecond, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		limiter.Allow(ctx, "test-client")
	}

	d, _ := limiter.Allow(ctx, "test-client")
	if d.Allowed {
		t.Error("Request should be rate limited")
	}

	time.Sleep(150 * time.Millisecond)

	d, _ = limiter.Allow(ctx, "test-client")
	if !d.Allowed {
		t.Error("Request should be allowed after window reset")
	}
}

func TestRateLimiter_SetLimit(t *testing.T) {
	limiter := newTestLimiter(1, time.Minute, nil)
	ctx := context.Background()

	limiter.Allow(ctx, "c")
	d, _ := limiter.Allow(ctx, "c")
	require.False(t, d.Allowed)

	limiter.SetLimit(3, time.Minute)
	limit, window := limiter.Limit()
	assert.Equal(t, 3, limit)
	assert.Equal(t, time.Minute, window)

	d, _ = limiter.Allow(ctx, "c")
	assert.True(t, d.Allowed, "raised limit applies to the running window")

	limiter.SetLimit(0, time.Minute)
	for i := 0; i < 10; i++ {
		d, _ = limiter.Allow(ctx, "c")
		assert.True(t, d.Allowed, "zero limit disables the limiter")
	}
}

func TestRateLimiter_SharedStoreIsolatesLimiters(t *testing.T) {
	store := cache.NewMemoryStore(100)
	logger := logrus.New()
	auth := NewRateLimiter("auth", "auth", 1, time.Minute, store, logger, nil)
	s3 := NewRateLimiter("s3", "s3", 1, time.Minute, store, logger, nil)
	ctx := context.Background()

	d, _ := auth.Allow(ctx, "10.0.0.1")
	require.True(t, d.Allowed)
	d, _ = s3.Allow(ctx, "10.0.0.1")
	assert.True(t, d.Allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	limiter := newTestLimiter(2, time.Minute, m)

	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/v1/user/logIn", nil)
	req.RemoteAddr = "127.0.0.1:12345"

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("Request %d should succeed, got status %d", i+1, rr.Code)
		}
		assert.Equal(t, "2", rr.Header().Get("RateLimit-Limit"))
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("RateLimit-Remaining"))
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, "Too many login/signup attempts. Please try later.", body.Message)

	count, err := testutil.GatherAndCount(reg, "s3console_rate_limited_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type failingStore struct{ cache.Store }

func (failingStore) Increment(context.Context, string, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("store down")
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	logger, hook := test.NewNullLogger()
	limiter := NewRateLimiter("general", "slow down", 1, time.Minute, failingStore{}, logger, nil)

	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}
