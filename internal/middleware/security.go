package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/s3-console/internal/cache"
	"github.com/kenneth/s3-console/internal/metrics"
	"github.com/kenneth/s3-console/internal/response"
)

// SecurityHeadersMiddleware adds security headers to all responses.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-XSS-Protection", "0")
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
			w.Header().Set("Cache-Control", "no-store")

			next.ServeHTTP(w, r)
		})
	}
}

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
)

// CORSMiddleware allows credentialed requests from the configured frontend
// origins. Preflight requests are answered directly.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[origin] {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")

				if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
					h.Set("Access-Control-Allow-Methods", corsAllowMethods)
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Max-Age", "600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter is a fixed-window limiter keyed by client IP. Counters live
// in a cache.Store shared by every limiter; each limiter uses its own key
// prefix.
type RateLimiter struct {
	name    string
	message string
	store   cache.Store

	mu     sync.RWMutex
	limit  int
	window time.Duration

	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// NewRateLimiter creates a limiter allowing limit requests per window.
// message is returned to rejected clients.
func NewRateLimiter(name, message string, limit int, window time.Duration, store cache.Store, logger *logrus.Logger, m *metrics.Metrics) *RateLimiter {
	return &RateLimiter{
		name:    name,
		message: message,
		store:   store,
		limit:   limit,
		window:  window,
		logger:  logger,
		metrics: m,
	}
}

// SetLimit changes the limit and window. Windows already running keep
// their end time.
func (rl *RateLimiter) SetLimit(limit int, window time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limit = limit
	rl.window = window
}

// Limit returns the current limit and window.
func (rl *RateLimiter) Limit() (int, time.Duration) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limit, rl.window
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Allow counts one request for key. A limit of zero or less disables the limiter.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	limit, window := rl.Limit()
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	count, resetAt, err := rl.store.Increment(ctx, rl.name+":"+key, window)
	if err != nil {
		return Decision{}, err
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// RateLimitMiddleware enforces limiter per client IP. Rejected requests get
// a 429 envelope carrying the limiter's message.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := ClientIP(r)

			decision, err := limiter.Allow(r.Context(), clientKey)
			if err != nil {
				// fail open on counter store errors
				limiter.logger.WithError(err).WithField("limiter", limiter.name).Warn("Rate limit check failed")
				next.ServeHTTP(w, r)
				return
			}

			if decision.Limit > 0 {
				resetSeconds := int(time.Until(decision.ResetAt).Round(time.Second).Seconds())
				if resetSeconds < 0 {
					resetSeconds = 0
				}
				h := w.Header()
				h.Set("RateLimit-Limit", strconv.Itoa(decision.Limit))
				h.Set("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
				h.Set("RateLimit-Reset", strconv.Itoa(resetSeconds))

				if !decision.Allowed {
					h.Set("Retry-After", strconv.Itoa(resetSeconds))
				}
			}

			if !decision.Allowed {
				limiter.logger.WithFields(logrus.Fields{
					"limiter":    limiter.name,
					"client":     clientKey,
					"path":       r.URL.Path,
					"request_id": RequestID(r.Context()),
				}).Warn("Rate limit exceeded")
				if limiter.metrics != nil {
					limiter.metrics.RecordRateLimited(limiter.name)
				}

				response.JSON(w, http.StatusTooManyRequests, limiter.message, nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
