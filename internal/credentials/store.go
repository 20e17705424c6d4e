// Package credentials stores each user's AWS keys encrypted at rest and
// hands decrypted copies to the bucket operations that need them.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/s3-console/internal/apperr"
	"github.com/kenneth/s3-console/internal/audit"
	"github.com/kenneth/s3-console/internal/crypto"
	"github.com/kenneth/s3-console/internal/metrics"
	"github.com/kenneth/s3-console/internal/s3"
	"github.com/kenneth/s3-console/internal/users"
)

// Input is the plaintext credential set submitted by a user.
type Input struct {
	AccessKey string `json:"awsAccessKey"`
	SecretKey string `json:"awsSecretKey"`
	Region    string `json:"awsRegion"`
	Bucket    string `json:"bucketName"`
}

func (in Input) trimmed() Input {
	return Input{
		AccessKey: strings.TrimSpace(in.AccessKey),
		SecretKey: strings.TrimSpace(in.SecretKey),
		Region:    strings.TrimSpace(in.Region),
		Bucket:    strings.TrimSpace(in.Bucket),
	}
}

// Notifier is told when a user's keys are removed.
type Notifier interface {
	SendCredentialsRemoved(ctx context.Context, to string) error
}

// Store encrypts, persists and decrypts credential records.
type Store struct {
	repo     users.Repository
	cipher   *crypto.SecretCipher
	notifier Notifier
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	audit    audit.Logger
}

// NewStore wires a Store. notifier, m and auditLogger may be nil.
func NewStore(repo users.Repository, cipher *crypto.SecretCipher, notifier Notifier, logger *logrus.Logger, m *metrics.Metrics, auditLogger audit.Logger) *Store {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		repo:     repo,
		cipher:   cipher,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		audit:    auditLogger,
	}
}

func (s *Store) recordCipher(op string, err error) {
	if s.metrics != nil {
		s.metrics.RecordCipherOperation(op, err)
	}
}

// Save encrypts and stores the user's keys, replacing any previous set.
// All four fields are written in one update.
func (s *Store) Save(ctx context.Context, userID string, in Input) (users.PublicView, error) {
	in = in.trimmed()
	if in.AccessKey == "" || in.SecretKey == "" || in.Region == "" || in.Bucket == "" {
		return users.PublicView{}, apperr.Validation("All fields are required")
	}

	encAccess, err := s.cipher.Encrypt(in.AccessKey)
	s.recordCipher("encrypt", err)
	if err != nil {
		return users.PublicView{}, fmt.Errorf("encrypt access key: %w", err)
	}
	encSecret, err := s.cipher.Encrypt(in.SecretKey)
	s.recordCipher("encrypt", err)
	if err != nil {
		return users.PublicView{}, fmt.Errorf("encrypt secret key: %w", err)
	}

	user, err := s.repo.SetCredentials(ctx, userID, users.Credentials{
		EncryptedAccessKey: encAccess,
		EncryptedSecretKey: encSecret,
		Region:             in.Region,
		Bucket:             in.Bucket,
	})
	if errors.Is(err, users.ErrNotFound) {
		return users.PublicView{}, apperr.NotFound("User not found")
	}
	s.audit.LogCredentials(ctx, audit.EventTypeCredentialsSaved, userID, in.Bucket, err == nil, err)
	if err != nil {
		return users.PublicView{}, fmt.Errorf("save credentials: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"bucket":  in.Bucket,
		"region":  in.Region,
	}).Info("Stored AWS credentials")
	return user.Public(), nil
}

// Remove clears the user's keys and then mails a revocation reminder.
// A failed notification is logged and does not undo the removal.
func (s *Store) Remove(ctx context.Context, userID string) (users.PublicView, error) {
	user, err := s.repo.ClearCredentials(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return users.PublicView{}, apperr.NotFound("User not found")
	}
	s.audit.LogCredentials(ctx, audit.EventTypeCredentialsRemoved, userID, "", err == nil, err)
	if err != nil {
		return users.PublicView{}, fmt.Errorf("remove credentials: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.SendCredentialsRemoved(ctx, user.Email); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Warn("Failed to send credentials removal notice")
		}
	}
	return user.Public(), nil
}

// Load returns the user's decrypted keys.
func (s *Store) Load(ctx context.Context, userID string) (s3.Credentials, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return s3.Credentials{}, apperr.NotFound("User not found")
	}
	if err != nil {
		return s3.Credentials{}, fmt.Errorf("load user: %w", err)
	}
	if !user.HasCredentials {
		return s3.Credentials{}, &apperr.ValidationError{Message: "AWS keys are not configured. Save your keys first."}
	}

	creds, err := s.decrypt(user)
	s.recordCipher("decrypt", err)
	if err != nil {
		s.audit.LogCredentials(ctx, audit.EventTypeCredentialsDecrypt, userID, user.Credentials.Bucket, false, err)
		s.logger.WithError(err).WithField("user_id", userID).Error("Stored AWS credentials could not be decrypted")
		return s3.Credentials{}, &apperr.DecryptionError{Err: err}
	}
	return creds, nil
}

func (s *Store) decrypt(user *users.User) (s3.Credentials, error) {
	accessKey, err := s.cipher.Decrypt(user.Credentials.EncryptedAccessKey)
	if err != nil {
		return s3.Credentials{}, fmt.Errorf("access key: %w", err)
	}
	secretKey, err := s.cipher.Decrypt(user.Credentials.EncryptedSecretKey)
	if err != nil {
		return s3.Credentials{}, fmt.Errorf("secret key: %w", err)
	}
	return s3.Credentials{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		Region:          user.Credentials.Region,
		Bucket:          user.Credentials.Bucket,
	}, nil
}
