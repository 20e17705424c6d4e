package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/s3-console/internal/account"
	"github.com/kenneth/s3-console/internal/apperr"
	"github.com/kenneth/s3-console/internal/auth"
	"github.com/kenneth/s3-console/internal/bucket"
	"github.com/kenneth/s3-console/internal/credentials"
	"github.com/kenneth/s3-console/internal/metrics"
	"github.com/kenneth/s3-console/internal/middleware"
	"github.com/kenneth/s3-console/internal/response"
	"github.com/kenneth/s3-console/internal/s3"
	"github.com/kenneth/s3-console/internal/users"
)

// Accounts is the account service used by the handlers.
type Accounts interface {
	SignUp(ctx context.Context, email, password string) (account.Session, error)
	LogIn(ctx context.Context, email, password string) (account.Session, error)
	Details(ctx context.Context, userID string) (account.Session, error)
	ResendVerification(ctx context.Context, userID string) error
	VerifyEmail(ctx context.Context, userID, code string) (account.Session, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, rawToken, newPassword string) error
	Delete(ctx context.Context, userID string) (users.PublicView, error)
	Authenticate(token string) (*auth.Claims, error)
	SessionTTL() time.Duration
}

// Credentials is the credential store used by the handlers.
type Credentials interface {
	Save(ctx context.Context, userID string, in credentials.Input) (users.PublicView, error)
	Remove(ctx context.Context, userID string) (users.PublicView, error)
}

// Buckets is the bucket service used by the handlers.
type Buckets interface {
	List(ctx context.Context, userID string) (bucket.Listing, error)
	UploadURLs(ctx context.Context, userID string, files []s3.UploadRequest) ([]s3.SignedURL, error)
	DownloadURL(ctx context.Context, userID, key string) (s3.SignedURL, error)
	DeleteObject(ctx context.Context, userID, key string) error
	DeletePrefix(ctx context.Context, userID, prefix string) (int, error)
}

var (
	_ Accounts    = (*account.Service)(nil)
	_ Credentials = (*credentials.Store)(nil)
	_ Buckets     = (*bucket.Service)(nil)
)

// ReadinessCheck reports whether a dependency is ready to serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Limiters holds the per-class rate limiters. A nil limiter is not applied.
type Limiters struct {
	General *middleware.RateLimiter
	Auth    *middleware.RateLimiter
	S3      *middleware.RateLimiter
}

// Options configures a Handler.
type Options struct {
	Logger        *logrus.Logger
	Metrics       *metrics.Metrics
	Limiters      Limiters
	Ready         ReadinessCheck
	MaxBodyBytes  int64
	SecureCookies bool
}

// Handler serves the REST API.
type Handler struct {
	accounts Accounts
	creds    Credentials
	buckets  Buckets

	logger        *logrus.Logger
	metrics       *metrics.Metrics
	limiters      Limiters
	ready         ReadinessCheck
	maxBodyBytes  int64
	secureCookies bool
}

func NewHandler(accounts Accounts, creds Credentials, buckets Buckets, opts Options) *Handler {
	h := &Handler{
		accounts:      accounts,
		creds:         creds,
		buckets:       buckets,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		limiters:      opts.Limiters,
		ready:         opts.Ready,
		maxBodyBytes:  opts.MaxBodyBytes,
		secureCookies: opts.SecureCookies,
	}
	if h.logger == nil {
		h.logger = logrus.StandardLogger()
	}
	if h.maxBodyBytes <= 0 {
		h.maxBodyBytes = 1 << 20
	}
	return h
}

// RegisterRoutes registers the API routes on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.handleHealth).Methods("GET")
	r.HandleFunc("/ready", h.handleReady).Methods("GET")
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods("GET")
	}

	user := r.PathPrefix("/api/v1/user").Subrouter()

	authLimited := limit(h.limiters.Auth)
	user.Handle("/signUp", authLimited(http.HandlerFunc(h.handleSignUp))).Methods("POST")
	user.Handle("/logIn", authLimited(http.HandlerFunc(h.handleLogIn))).Methods("POST")
	user.Handle("/forgetPassword", authLimited(http.HandlerFunc(h.handleForgotPassword))).Methods("POST")
	user.Handle("/reset-password", authLimited(http.HandlerFunc(h.handleResetPassword))).Methods("POST")

	authed := h.requireAuth
	user.Handle("/logOut", authed(http.HandlerFunc(h.handleLogOut))).Methods("POST")
	user.Handle("/getVerificationCode", authed(http.HandlerFunc(h.handleResendVerification))).Methods("POST")
	user.Handle("/verifyEmail", authed(http.HandlerFunc(h.handleVerifyEmail))).Methods("POST")
	user.Handle("/deleteUser", authed(http.HandlerFunc(h.handleDeleteUser))).Methods("POST")
	user.Handle("/getDetails", authed(http.HandlerFunc(h.handleGetDetails))).Methods("GET")
	user.Handle("/saveAwsApiKey", authed(http.HandlerFunc(h.handleSaveKeys))).Methods("POST")
	user.Handle("/removeAwsApiKey", authed(http.HandlerFunc(h.handleRemoveKeys))).Methods("POST")

	s3Limited := func(fn http.HandlerFunc) http.Handler {
		return authed(limit(h.limiters.S3)(fn))
	}
	user.Handle("/getS3BucketContent", s3Limited(h.handleList)).Methods("GET")
	user.Handle("/getUrlToUpload", s3Limited(h.handleUploadURLs)).Methods("POST")
	user.Handle("/delete", s3Limited(h.handleDeleteObject)).Methods("DELETE")
	user.Handle("/deleteAllPrefix", s3Limited(h.handleDeletePrefix)).Methods("DELETE")
	user.Handle("/download", s3Limited(h.handleDownload)).Methods("GET")
}

func limit(l *middleware.RateLimiter) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimitMiddleware(l)
}

// NotFoundHandler answers unknown routes with a 404 envelope.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusNotFound, "Route not found. Please check the URL.", nil)
	})
}

// MethodNotAllowedHandler answers known paths called with the wrong method.
func MethodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusMethodNotAllowed, "Method not allowed on this route.", nil)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.OK(w, "OK", map[string]string{"status": "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.WithError(err).Warn("Readiness check failed")
			response.JSON(w, http.StatusServiceUnavailable, "Service not ready", map[string]string{"status": "not_ready"})
			return
		}
	}
	response.OK(w, "OK", map[string]string{"status": "ready"})
}

var errInvalidJSON = &apperr.ValidationError{Message: "Invalid JSON format. Please check your request body."}

// decodeJSON reads a JSON body of at most maxBodyBytes into dst. An empty
// body leaves dst untouched.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("Request body must not exceed %d bytes.", tooLarge.Limit)
		}
		return errInvalidJSON
	}
}

// writeError writes err as an envelope. Server-side failures are logged
// with the request ID; client errors are not.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := response.Error(w, err)
	if status < http.StatusInternalServerError {
		return
	}
	h.logger.WithFields(logrus.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
		"request_id": middleware.RequestID(r.Context()),
	}).WithError(err).Error("Request failed")
}
