// Package bucket runs the object operations a user performs on their own
// bucket. Every call loads the user's keys and builds a fresh client.
package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/s3-console/internal/apperr"
	"github.com/kenneth/s3-console/internal/audit"
	"github.com/kenneth/s3-console/internal/metrics"
	"github.com/kenneth/s3-console/internal/s3"
)

// DefaultListMaxKeys bounds a single listing response.
const DefaultListMaxKeys = 10000

// CredentialLoader returns a user's decrypted keys.
type CredentialLoader interface {
	Load(ctx context.Context, userID string) (s3.Credentials, error)
}

// ClientBuilder builds an S3 client bound to one credential set.
type ClientBuilder interface {
	Build(creds s3.Credentials) (*s3.Client, error)
}

// Entry is one listed object. Field names follow the S3 listing shape the
// browser client consumes.
type Entry struct {
	Key          string    `json:"Key"`
	Size         int64     `json:"Size"`
	HumanSize    string    `json:"HumanSize"`
	LastModified time.Time `json:"LastModified"`
	ETag         string    `json:"ETag,omitempty"`
	StorageClass string    `json:"StorageClass,omitempty"`
}

// Listing is the result of List.
type Listing struct {
	Content   []Entry `json:"content"`
	Truncated bool    `json:"truncated"`
}

// Config holds tunables and optional collaborators.
type Config struct {
	ListMaxKeys int
	PageSize    int32
	Logger      *logrus.Logger
	Metrics     *metrics.Metrics
	Audit       audit.Logger
}

// Service implements the bucket operations.
type Service struct {
	creds       CredentialLoader
	factory     ClientBuilder
	presigner   *s3.Presigner
	deleter     *s3.PrefixDeleter
	listMaxKeys int
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	audit       audit.Logger
}

func NewService(creds CredentialLoader, factory ClientBuilder, cfg Config) *Service {
	s := &Service{
		creds:       creds,
		factory:     factory,
		presigner:   s3.NewPresigner(),
		listMaxKeys: cfg.ListMaxKeys,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		audit:       cfg.Audit,
	}
	if s.listMaxKeys <= 0 {
		s.listMaxKeys = DefaultListMaxKeys
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	s.deleter = s3.NewPrefixDeleter(cfg.PageSize, s.logger, func(deleted int, err error) {
		if s.metrics != nil {
			s.metrics.RecordPrefixDeleteBatch(deleted, err)
		}
	})
	return s
}

func (s *Service) client(ctx context.Context, userID string) (*s3.Client, error) {
	creds, err := s.creds.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	client, err := s.factory.Build(creds)
	if err != nil {
		return nil, fmt.Errorf("build s3 client: %w", err)
	}
	return client, nil
}

// observe records duration and outcome of one object store operation.
func (s *Service) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordS3Operation(op, time.Since(start))
	if err != nil {
		s.metrics.RecordS3Error(op, s3.ErrorType(err))
	}
}

// List returns every object in the user's bucket, up to the configured bound.
func (s *Service) List(ctx context.Context, userID string) (Listing, error) {
	client, err := s.client(ctx, userID)
	if err != nil {
		return Listing{}, err
	}

	start := time.Now()
	objects, truncated, err := client.ListObjects(ctx, "", s.listMaxKeys)
	s.observe("ListObjectsV2", start, err)
	if err != nil {
		return Listing{}, err
	}

	content := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		content = append(content, Entry{
			Key:          obj.Key,
			Size:         obj.Size,
			HumanSize:    humanize.Bytes(uint64(obj.Size)),
			LastModified: obj.LastModified,
			ETag:         obj.ETag,
			StorageClass: obj.StorageClass,
		})
	}
	if truncated {
		s.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"bucket":  client.Bucket(),
			"limit":   s.listMaxKeys,
		}).Warn("Bucket listing truncated")
	}
	return Listing{Content: content, Truncated: truncated}, nil
}

// UploadURLs issues one pre-signed PUT URL per file, in request order.
func (s *Service) UploadURLs(ctx context.Context, userID string, files []s3.UploadRequest) ([]s3.SignedURL, error) {
	if err := s3.ValidateUploads(files); err != nil {
		return nil, err
	}
	client, err := s.client(ctx, userID)
	if err != nil {
		return nil, err
	}

	urls, err := s.presigner.IssueUploadURLs(ctx, client, files)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordPresignedURLs("PUT", len(urls))
	}
	return urls, nil
}

// DownloadURL issues a pre-signed GET URL for key.
func (s *Service) DownloadURL(ctx context.Context, userID, key string) (s3.SignedURL, error) {
	if key == "" {
		return s3.SignedURL{}, apperr.Validation("S3 object key is required")
	}
	client, err := s.client(ctx, userID)
	if err != nil {
		return s3.SignedURL{}, err
	}

	url, err := s.presigner.IssueDownloadURL(ctx, client, key)
	if err != nil {
		return s3.SignedURL{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordPresignedURLs("GET", 1)
	}
	return url, nil
}

// DeleteObject removes a single key. Deleting a missing key succeeds.
func (s *Service) DeleteObject(ctx context.Context, userID, key string) error {
	if key == "" {
		return apperr.Validation("S3 object key is required")
	}
	client, err := s.client(ctx, userID)
	if err != nil {
		return err
	}

	start := time.Now()
	err = client.DeleteObject(ctx, key)
	s.observe("DeleteObject", start, err)
	deleted := 1
	if err != nil {
		deleted = 0
	}
	s.audit.LogDelete(ctx, audit.EventTypeObjectDelete, userID, client.Bucket(), key, deleted, err, time.Since(start))
	return err
}

// DeletePrefix removes every object under prefix and returns the count.
// On failure the count covers the objects deleted before the failure.
func (s *Service) DeletePrefix(ctx context.Context, userID, prefix string) (int, error) {
	if prefix == "" {
		return 0, apperr.Validation("Prefix is required")
	}
	client, err := s.client(ctx, userID)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	deleted, err := s.deleter.DeleteAll(ctx, client, prefix)
	s.observe("DeletePrefix", start, err)
	s.audit.LogDelete(ctx, audit.EventTypePrefixDelete, userID, client.Bucket(), s3.NormalizePrefix(prefix), deleted, err, time.Since(start))

	entry := s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"bucket":  client.Bucket(),
		"prefix":  s3.NormalizePrefix(prefix),
		"deleted": deleted,
	})
	if err != nil {
		entry.WithError(err).Error("Prefix delete failed")
		return deleted, err
	}
	entry.Info("Prefix deleted")
	return deleted, nil
}
