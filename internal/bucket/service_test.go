package bucket

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/s3-console/internal/apperr"
	"github.com/kenneth/s3-console/internal/audit"
	"github.com/kenneth/s3-console/internal/metrics"
	"github.com/kenneth/s3-console/internal/s3"
)

const testBucket = "user-bucket"

type stubLoader struct {
	creds s3.Credentials
	err   error
	calls int
}

func (l *stubLoader) Load(context.Context, string) (s3.Credentials, error) {
	l.calls++
	return l.creds, l.err
}

type fixture struct {
	svc      *Service
	loader   *stubLoader
	raw      *awss3.Client
	registry *prometheus.Registry
	audit    audit.Logger
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	backend := s3mem.New()
	require.NoError(t, backend.CreateBucket(testBucket))
	server := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(server.Close)

	creds := s3.Credentials{
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "test-secret",
		Region:          "us-east-1",
		Bucket:          testBucket,
	}
	raw := awss3.New(awss3.Options{
		Region:                     creds.Region,
		Credentials:                credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		BaseEndpoint:               aws.String(server.URL),
		UsePathStyle:               true,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	factory := s3.NewClientFactory(s3.FactoryOptions{
		Endpoint:             server.URL,
		UsePathStyle:         true,
		ChecksumWhenRequired: true,
	})

	reg := prometheus.NewRegistry()
	logger, _ := test.NewNullLogger()
	auditLogger := audit.NewLogger(100, nil)
	cfg.Logger = logger
	cfg.Metrics = metrics.NewMetricsWithRegistry(reg)
	cfg.Audit = auditLogger

	loader := &stubLoader{creds: creds}
	return &fixture{
		svc:      NewService(loader, factory, cfg),
		loader:   loader,
		raw:      raw,
		registry: reg,
		audit:    auditLogger,
	}
}

func (f *fixture) put(t *testing.T, key, body string) {
	t.Helper()
	_, err := f.raw.PutObject(context.Background(), &awss3.PutObjectInput{
		Bucket: aws.String(testBucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(body),
	})
	require.NoError(t, err)
}

// counter returns the value of the series of name whose label matches value.
func (f *fixture) counter(t *testing.T, name, label, value string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func (f *fixture) keys(t *testing.T) []string {
	t.Helper()
	listing, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	out := make([]string, 0, len(listing.Content))
	for _, e := range listing.Content {
		out = append(out, e.Key)
	}
	return out
}

func TestList(t *testing.T) {
	f := newFixture(t, Config{})
	f.put(t, "docs/readme.md", "hello world")
	f.put(t, "photos/cat.jpg", strings.Repeat("x", 2048))

	listing, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, listing.Truncated)
	require.Len(t, listing.Content, 2)

	byKey := map[string]Entry{}
	for _, e := range listing.Content {
		byKey[e.Key] = e
	}
	assert.Equal(t, int64(11), byKey["docs/readme.md"].Size)
	assert.Equal(t, "11 B", byKey["docs/readme.md"].HumanSize)
	assert.Equal(t, "2.0 kB", byKey["photos/cat.jpg"].HumanSize)
	assert.False(t, byKey["photos/cat.jpg"].LastModified.IsZero())

	assert.Equal(t, float64(1), f.counter(t, "s3console_s3_operations_total", "operation", "ListObjectsV2"))
}

func TestList_Bounded(t *testing.T) {
	f := newFixture(t, Config{ListMaxKeys: 2})
	for i := 0; i < 4; i++ {
		f.put(t, fmt.Sprintf("file-%d", i), "x")
	}

	listing, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, listing.Truncated)
	assert.Len(t, listing.Content, 2)
}

func TestList_EmptyBucket(t *testing.T) {
	f := newFixture(t, Config{})
	listing, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, listing.Content)
	assert.Empty(t, listing.Content)
}

func TestCredentialErrorsPropagate(t *testing.T) {
	f := newFixture(t, Config{})
	f.loader.err = &apperr.DecryptionError{Err: errors.New("bad tag")}

	_, err := f.svc.List(context.Background(), "u1")
	var derr *apperr.DecryptionError
	assert.True(t, errors.As(err, &derr))

	_, err = f.svc.DownloadURL(context.Background(), "u1", "a")
	assert.True(t, errors.As(err, &derr))
}

func TestUploadURLs(t *testing.T) {
	f := newFixture(t, Config{})

	urls, err := f.svc.UploadURLs(context.Background(), "u1", []s3.UploadRequest{
		{FileName: "one.txt", ContentType: "text/plain"},
		{FileName: "dir/two.bin"},
	})
	require.NoError(t, err)
	require.Len(t, urls, 2)
	assert.Equal(t, "one.txt", urls[0].FileName)
	assert.Contains(t, urls[0].URL, "/"+testBucket+"/one.txt")
	assert.Contains(t, urls[1].URL, "X-Amz-Expires=600")

	assert.Equal(t, float64(2), f.counter(t, "s3console_presigned_urls_issued_total", "method", "PUT"))
}

func TestUploadURLs_ValidatesBeforeLoadingCredentials(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.svc.UploadURLs(context.Background(), "u1", nil)
	assert.Equal(t, "files[] with fileName and contentType is required", apperr.ToResponse(err).Message)

	_, err = f.svc.UploadURLs(context.Background(), "u1", []s3.UploadRequest{{FileName: "ok"}, {}})
	var verr *apperr.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Zero(t, f.loader.calls)
}

func TestDownloadURL(t *testing.T) {
	f := newFixture(t, Config{})

	u, err := f.svc.DownloadURL(context.Background(), "u1", "reports/2024 q1.pdf")
	require.NoError(t, err)
	assert.Contains(t, u.URL, "X-Amz-Expires=3600")
	assert.Contains(t, u.URL, "reports/2024%20q1.pdf")

	_, err = f.svc.DownloadURL(context.Background(), "u1", "")
	assert.Equal(t, "S3 object key is required", apperr.ToResponse(err).Message)
}

func TestDeleteObject(t *testing.T) {
	f := newFixture(t, Config{})
	f.put(t, "a.txt", "a")
	f.put(t, "b.txt", "b")

	require.NoError(t, f.svc.DeleteObject(context.Background(), "u1", "a.txt"))
	assert.Equal(t, []string{"b.txt"}, f.keys(t))

	require.NoError(t, f.svc.DeleteObject(context.Background(), "u1", "a.txt"), "missing key is not an error")

	err := f.svc.DeleteObject(context.Background(), "u1", "")
	assert.Equal(t, "S3 object key is required", apperr.ToResponse(err).Message)
}

func TestDeletePrefix(t *testing.T) {
	f := newFixture(t, Config{PageSize: 2})
	for i := 0; i < 5; i++ {
		f.put(t, fmt.Sprintf("photos/%d.jpg", i), "x")
	}
	f.put(t, "photos-backup/keep.jpg", "x")

	n, err := f.svc.DeletePrefix(context.Background(), "u1", "photos")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"photos-backup/keep.jpg"}, f.keys(t))

	n, err = f.svc.DeletePrefix(context.Background(), "u1", "photos")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.DeletePrefix(context.Background(), "u1", "")
	assert.Equal(t, "Prefix is required", apperr.ToResponse(err).Message)
}
