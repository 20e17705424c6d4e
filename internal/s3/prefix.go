package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/s3-console/internal/apperr"
)

// DefaultPageSize is the S3 maximum for both listing and batch delete.
const DefaultPageSize int32 = 1000

// PrefixStore is what the deleter needs from a client.
type PrefixStore interface {
	ListPage(ctx context.Context, prefix, continuationToken string, maxKeys int32) (Page, error)
	DeleteObjects(ctx context.Context, keys []string) ([]ErrorObject, error)
}

var _ PrefixStore = (*Client)(nil)

// BatchObserver is notified after every delete batch.
type BatchObserver func(deleted int, err error)

// PrefixDeleter removes every object under a folder-like prefix, one page at a time.
type PrefixDeleter struct {
	pageSize int32
	logger   *logrus.Logger
	observe  BatchObserver
}

func NewPrefixDeleter(pageSize int32, logger *logrus.Logger, observe BatchObserver) *PrefixDeleter {
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	if observe == nil {
		observe = func(int, error) {}
	}
	return &PrefixDeleter{pageSize: pageSize, logger: logger, observe: observe}
}

// NormalizePrefix appends "/" so that "photos" never matches "photos-backup/".
func NormalizePrefix(prefix string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		return prefix + "/"
	}
	return prefix
}

// DeleteAll deletes all objects under prefix and returns how many were removed.
// Pages are listed and deleted in sequence; a failed batch stops the run and
// the returned count covers everything deleted before it.
func (d *PrefixDeleter) DeleteAll(ctx context.Context, store PrefixStore, prefix string) (int, error) {
	if prefix == "" {
		return 0, apperr.Validation("Prefix is required")
	}
	prefix = NormalizePrefix(prefix)

	var (
		deleted   int
		attempted int
		token     string
	)
	for {
		if err := ctx.Err(); err != nil {
			return deleted, progressError(TranslateError(err, "DeleteObjects", "", prefix), attempted, deleted)
		}

		page, err := store.ListPage(ctx, prefix, token, d.pageSize)
		if err != nil {
			return deleted, progressError(err, attempted, deleted)
		}
		if len(page.Objects) == 0 {
			break
		}

		keys := make([]string, len(page.Objects))
		for i, obj := range page.Objects {
			keys[i] = obj.Key
		}
		attempted += len(keys)

		failed, err := store.DeleteObjects(ctx, keys)
		if err != nil {
			d.observe(0, err)
			return deleted, progressError(err, attempted, deleted)
		}
		deleted += len(keys) - len(failed)
		if len(failed) > 0 {
			batchErr := &apperr.UpstreamStoreError{
				Op:        "DeleteObjects",
				Code:      failed[0].Code,
				Message:   fmt.Sprintf("Failed to delete %d objects under %s", len(failed), prefix),
				Attempted: attempted,
				Completed: deleted,
				Err:       fmt.Errorf("%s: %s", failed[0].Key, failed[0].Message),
			}
			d.observe(len(keys)-len(failed), batchErr)
			return deleted, batchErr
		}
		d.observe(len(keys), nil)

		if d.logger != nil {
			d.logger.WithFields(logrus.Fields{
				"prefix":  prefix,
				"batch":   len(keys),
				"deleted": deleted,
			}).Debug("Deleted object batch")
		}

		if !page.IsTruncated || page.NextContinuationToken == "" {
			break
		}
		token = page.NextContinuationToken
	}
	return deleted, nil
}

// progressError attaches counts to an upstream error.
func progressError(err error, attempted, completed int) error {
	var upstream *apperr.UpstreamStoreError
	if !errors.As(err, &upstream) {
		return err
	}
	cp := *upstream
	if cp.Message == "" {
		cp.Message = "Failed to delete folder contents"
	}
	if attempted > 0 {
		cp.Attempted = attempted
		cp.Completed = completed
	}
	return &cp
}
