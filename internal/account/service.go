// Package account implements signup, login, email verification, password
// reset and account deletion on top of the user repository.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/kenneth/s3-console/internal/apperr"
	"github.com/kenneth/s3-console/internal/audit"
	"github.com/kenneth/s3-console/internal/auth"
	"github.com/kenneth/s3-console/internal/metrics"
	"github.com/kenneth/s3-console/internal/users"
)

// Notifier sends the account emails.
type Notifier interface {
	SendVerificationCode(ctx context.Context, to, code string) error
	SendPasswordReset(ctx context.Context, to, rawToken string) error
	SendAccountDeleted(ctx context.Context, to string) error
}

// Session is a user view paired with a freshly issued session token.
type Session struct {
	User  users.PublicView `json:"user"`
	Token string           `json:"token"`
}

// Service implements the account operations.
type Service struct {
	repo       users.Repository
	sessions   *auth.Sessions
	notifier   Notifier
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	audit      audit.Logger
	bcryptCost int
	now        func() time.Time
}

// Config holds the optional collaborators of a Service.
type Config struct {
	Logger     *logrus.Logger
	Metrics    *metrics.Metrics
	Audit      audit.Logger
	BcryptCost int
}

func NewService(repo users.Repository, sessions *auth.Sessions, notifier Notifier, cfg Config) *Service {
	s := &Service{
		repo:       repo,
		sessions:   sessions,
		notifier:   notifier,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		audit:      cfg.Audit,
		bcryptCost: cfg.BcryptCost,
		now:        time.Now,
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.bcryptCost == 0 {
		s.bcryptCost = bcrypt.DefaultCost
	}
	return s
}

func (s *Service) recordEvent(event string) {
	if s.metrics != nil {
		s.metrics.RecordAccountEvent(event)
	}
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", apperr.Validation("Password must be at most 72 bytes")
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) issue(user *users.User) (Session, error) {
	token, err := s.sessions.Issue(user.ID, user.Email)
	if err != nil {
		return Session{}, err
	}
	return Session{User: user.Public(), Token: token}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an unverified account, mails a verification code and logs
// the new user in. If the mail fails the code is cleared.
func (s *Service) SignUp(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, apperr.Validation("Email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return Session{}, apperr.Validation("A valid email address is required")
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return Session{}, err
	}
	code, err := auth.NewVerificationCode()
	if err != nil {
		return Session{}, err
	}

	user, err := s.repo.Create(ctx, &users.User{
		Email:                    email,
		PasswordHash:             hash,
		VerificationToken:        code,
		VerificationTokenExpires: s.now().Add(auth.VerificationCodeTTL),
	})
	if errors.Is(err, users.ErrDuplicateEmail) {
		return Session{}, apperr.Conflict("User with this email already exists")
	}
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	s.audit.LogAccount(ctx, audit.EventTypeAccountCreated, user.ID, user.Email, true, nil)
	s.recordEvent("signup")

	// The account stays usable without the email; a new code can be requested.
	if err := s.notifier.SendVerificationCode(ctx, user.Email, code); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to send verification email")
		if rbErr := s.repo.SetVerificationToken(ctx, user.ID, "", time.Time{}); rbErr != nil {
			s.logger.WithError(rbErr).WithField("user_id", user.ID).Error("Failed to clear verification code")
		}
		user.VerificationToken = ""
		user.VerificationTokenExpires = time.Time{}
	}
	return s.issue(user)
}

// LogIn checks the password and issues a session.
func (s *Service) LogIn(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, apperr.Validation("Email and password are required")
	}

	invalid := apperr.Unauthorized("Invalid email or password")
	user, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		s.audit.LogAccount(ctx, audit.EventTypeLogin, "", email, false, invalid)
		s.recordEvent("login_failed")
		return Session{}, invalid
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.audit.LogAccount(ctx, audit.EventTypeLogin, user.ID, email, false, invalid)
		s.recordEvent("login_failed")
		return Session{}, invalid
	}

	s.audit.LogAccount(ctx, audit.EventTypeLogin, user.ID, email, true, nil)
	s.recordEvent("login")
	return s.issue(user)
}

// Details returns the current user and a refreshed session token.
func (s *Service) Details(ctx context.Context, userID string) (Session, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return Session{}, apperr.NotFound("User not found")
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	return s.issue(user)
}

// ResendVerification issues a new verification code. The stored code is
// cleared again if the email cannot be sent.
func (s *Service) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return apperr.NotFound("User not found")
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user.IsVerified {
		return apperr.Validation("User is already verified")
	}

	code, err := auth.NewVerificationCode()
	if err != nil {
		return err
	}
	if err := s.repo.SetVerificationToken(ctx, user.ID, code, s.now().Add(auth.VerificationCodeTTL)); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}

	if err := s.notifier.SendVerificationCode(ctx, user.Email, code); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to send verification email")
		if rbErr := s.repo.SetVerificationToken(ctx, user.ID, "", time.Time{}); rbErr != nil {
			s.logger.WithError(rbErr).WithField("user_id", user.ID).Error("Failed to clear verification code")
		}
		return &apperr.NotificationError{Message: "Error sending verification email. Please try again later.", Err: err}
	}
	s.recordEvent("verification_sent")
	return nil
}

// VerifyEmail marks the user verified when code matches an unexpired code,
// and issues a fresh session.
func (s *Service) VerifyEmail(ctx context.Context, userID, code string) (Session, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Session{}, apperr.Validation("Verification token is required")
	}

	user, err := s.repo.MarkVerified(ctx, userID, code, s.now())
	if errors.Is(err, users.ErrNotFound) {
		return Session{}, apperr.Validation("Invalid or expired verification token")
	}
	if err != nil {
		return Session{}, fmt.Errorf("verify email: %w", err)
	}
	s.recordEvent("email_verified")
	return s.issue(user)
}

// ForgotPassword mails a single-use reset link. Only one unexpired reset
// token may exist per user; the token is dropped if the email fails.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperr.Validation("Email is required")
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return apperr.NotFound("User not found with this email.")
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user.HasPendingReset(s.now()) {
		return apperr.Validation("A password reset request already exists. Please wait for it to expire.")
	}

	raw, hash, err := auth.NewResetToken()
	if err != nil {
		return err
	}
	if err := s.repo.SetResetToken(ctx, user.ID, hash, s.now().Add(auth.ResetTokenTTL)); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, raw); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Error("Failed to send password reset email")
		if rbErr := s.repo.SetResetToken(ctx, user.ID, "", time.Time{}); rbErr != nil {
			s.logger.WithError(rbErr).WithField("user_id", user.ID).Error("Failed to clear reset token")
		}
		return &apperr.NotificationError{Message: "Error sending email. Please try again later.", Err: err}
	}

	s.audit.LogAccount(ctx, audit.EventTypePasswordReset, user.ID, user.Email, true, nil)
	s.recordEvent("password_reset_requested")
	return nil
}

// ResetPassword sets a new password for the holder of an unexpired reset token.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if rawToken == "" || newPassword == "" {
		return apperr.Validation("Reset token and new password are required.")
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}

	user, err := s.repo.ResetPassword(ctx, auth.HashResetToken(rawToken), hash, s.now())
	if errors.Is(err, users.ErrNotFound) {
		return apperr.Validation("Invalid or expired password reset token.")
	}
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}

	s.audit.LogAccount(ctx, audit.EventTypePasswordReset, user.ID, user.Email, true, nil)
	s.recordEvent("password_reset")
	return nil
}

// Delete removes the account and its credential record, then sends a
// security notice. The notice is best effort.
func (s *Service) Delete(ctx context.Context, userID string) (users.PublicView, error) {
	user, err := s.repo.Delete(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return users.PublicView{}, apperr.NotFound("User not found")
	}
	if err != nil {
		return users.PublicView{}, fmt.Errorf("delete user: %w", err)
	}

	s.audit.LogAccount(ctx, audit.EventTypeAccountDeleted, user.ID, user.Email, true, nil)
	s.recordEvent("account_deleted")

	if err := s.notifier.SendAccountDeleted(ctx, user.Email); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to send account deletion email")
	}
	return user.Public(), nil
}

// Authenticate validates a session token and returns its claims. A missing
// token is 401, an invalid or expired one is 400.
func (s *Service) Authenticate(token string) (*auth.Claims, error) {
	if token == "" {
		return nil, apperr.Unauthorized("Access denied. No token provided.")
	}
	claims, err := s.sessions.Verify(token)
	if err != nil {
		return nil, &apperr.AuthError{Message: "Invalid token.", Status: http.StatusBadRequest}
	}
	return claims, nil
}

// SessionTTL is the lifetime of issued tokens, used for cookie max-age.
func (s *Service) SessionTTL() time.Duration {
	return s.sessions.TTL()
}
