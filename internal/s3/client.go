// Package s3 builds per-user object store clients and implements the bucket
// operations: listing, pre-signing and prefix deletion.
package s3

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectAPI is the subset of the S3 API used for bucket management.
type ObjectAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// PresignAPI is the subset of the S3 presign client used for URL issuance.
type PresignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Compile-time checks: the SDK clients satisfy the narrow interfaces.
var (
	_ ObjectAPI  = (*s3.Client)(nil)
	_ PresignAPI = (*s3.PresignClient)(nil)
)

// Credentials are the decrypted values needed to reach one user's bucket.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
}

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	StorageClass string
}

// Page is one ListObjectsV2 response.
type Page struct {
	Objects               []ObjectInfo
	IsTruncated           bool
	NextContinuationToken string
}

// ErrorObject reports a key that a batch delete failed to remove.
type ErrorObject struct {
	Key     string
	Code    string
	Message string
}

// Client is bound to a single user's credentials and bucket.
type Client struct {
	api     ObjectAPI
	presign PresignAPI
	bucket  string
}

// NewClient wraps already-constructed SDK clients. Mostly useful in tests.
func NewClient(api ObjectAPI, presign PresignAPI, bucket string) *Client {
	return &Client{api: api, presign: presign, bucket: bucket}
}

// Bucket returns the bucket the client operates on.
func (c *Client) Bucket() string {
	return c.bucket
}

// ListPage fetches a single page of keys under prefix.
func (c *Client) ListPage(ctx context.Context, prefix, continuationToken string, maxKeys int32) (Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if continuationToken != "" {
		input.ContinuationToken = aws.String(continuationToken)
	}
	if maxKeys > 0 {
		input.MaxKeys = aws.Int32(maxKeys)
	}

	result, err := c.api.ListObjectsV2(ctx, input)
	if err != nil {
		return Page{}, TranslateError(err, "ListObjectsV2", c.bucket, prefix)
	}

	page := Page{
		Objects:               make([]ObjectInfo, 0, len(result.Contents)),
		IsTruncated:           aws.ToBool(result.IsTruncated),
		NextContinuationToken: aws.ToString(result.NextContinuationToken),
	}
	for _, obj := range result.Contents {
		page.Objects = append(page.Objects, ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
			ETag:         aws.ToString(obj.ETag),
			StorageClass: string(obj.StorageClass),
		})
	}
	return page, nil
}

// ListObjects walks every page and returns at most limit objects.
// The boolean reports whether the listing was cut short by limit.
func (c *Client) ListObjects(ctx context.Context, prefix string, limit int) ([]ObjectInfo, bool, error) {
	var (
		objects []ObjectInfo
		token   string
	)
	for {
		page, err := c.ListPage(ctx, prefix, token, 0)
		if err != nil {
			return nil, false, err
		}
		for _, obj := range page.Objects {
			if limit > 0 && len(objects) >= limit {
				return objects, true, nil
			}
			objects = append(objects, obj)
		}
		if !page.IsTruncated || page.NextContinuationToken == "" {
			return objects, false, nil
		}
		token = page.NextContinuationToken
	}
}

// DeleteObject removes one key. S3 reports success for missing keys.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return TranslateError(err, "DeleteObject", c.bucket, key)
	}
	return nil
}

// DeleteObjects removes up to 1000 keys in one request and returns the
// per-key failures reported by the store.
func (c *Client) DeleteObjects(ctx context.Context, keys []string) ([]ErrorObject, error) {
	objects := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
	}

	result, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(true), // only errors are returned
		},
	})
	if err != nil {
		return nil, TranslateError(err, "DeleteObjects", c.bucket, "")
	}

	failed := make([]ErrorObject, 0, len(result.Errors))
	for _, e := range result.Errors {
		failed = append(failed, ErrorObject{
			Key:     aws.ToString(e.Key),
			Code:    aws.ToString(e.Code),
			Message: aws.ToString(e.Message),
		})
	}
	return failed, nil
}

// PresignPut signs a PUT for key with the given content type and lifetime.
func (c *Client) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", key, err)
	}
	return req.URL, nil
}

// PresignGet signs a GET for key with the given lifetime.
func (c *Client) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", key, err)
	}
	return req.URL, nil
}
