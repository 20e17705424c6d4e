package s3

import (
	"context"
	"time"

	"github.com/kenneth/s3-console/internal/apperr"
)

const (
	// UploadURLTTL is the lifetime of a pre-signed PUT URL.
	UploadURLTTL = 10 * time.Minute
	// DownloadURLTTL is the lifetime of a pre-signed GET URL.
	DownloadURLTTL = 60 * time.Minute

	defaultContentType = "application/octet-stream"
)

// URLSigner signs object requests locally.
type URLSigner interface {
	PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var _ URLSigner = (*Client)(nil)

// UploadRequest names one object the caller intends to upload.
type UploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

// SignedURL is a time-limited URL for one object.
type SignedURL struct {
	FileName  string    `json:"fileName,omitempty"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Presigner issues upload and download URLs.
type Presigner struct {
	now func() time.Time
}

func NewPresigner() *Presigner {
	return &Presigner{now: time.Now}
}

// ValidateUploads checks a batch of upload requests without signing anything.
func ValidateUploads(files []UploadRequest) error {
	if len(files) == 0 {
		return apperr.Validation("files[] with fileName and contentType is required")
	}
	for i, f := range files {
		if f.FileName == "" {
			return apperr.Validation("files[%d].fileName is required", i)
		}
	}
	return nil
}

// IssueUploadURLs returns one PUT URL per request, in input order. The whole
// batch is validated before anything is signed.
func (p *Presigner) IssueUploadURLs(ctx context.Context, signer URLSigner, files []UploadRequest) ([]SignedURL, error) {
	if err := ValidateUploads(files); err != nil {
		return nil, err
	}

	expires := p.now().Add(UploadURLTTL)
	urls := make([]SignedURL, 0, len(files))
	for _, f := range files {
		contentType := f.ContentType
		if contentType == "" {
			contentType = defaultContentType
		}
		url, err := signer.PresignPut(ctx, f.FileName, contentType, UploadURLTTL)
		if err != nil {
			return nil, err
		}
		urls = append(urls, SignedURL{FileName: f.FileName, URL: url, ExpiresAt: expires})
	}
	return urls, nil
}

// IssueDownloadURL returns a GET URL for key.
func (p *Presigner) IssueDownloadURL(ctx context.Context, signer URLSigner, key string) (SignedURL, error) {
	if key == "" {
		return SignedURL{}, apperr.Validation("S3 object key is required")
	}
	url, err := signer.PresignGet(ctx, key, DownloadURLTTL)
	if err != nil {
		return SignedURL{}, err
	}
	return SignedURL{URL: url, ExpiresAt: p.now().Add(DownloadURLTTL)}, nil
}
