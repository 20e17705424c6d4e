package s3

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// FactoryOptions apply to every client the factory builds.
type FactoryOptions struct {
	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	Endpoint     string
	UsePathStyle bool
	// ChecksumWhenRequired disables the SDK's default request checksums,
	// which some S3-compatible stores reject.
	ChecksumWhenRequired bool
	HTTPClient           aws.HTTPClient
}

// ClientFactory builds a fresh client for each request from decrypted
// credentials. Clients are never cached or shared between users.
type ClientFactory struct {
	opts FactoryOptions
}

func NewClientFactory(opts FactoryOptions) *ClientFactory {
	return &ClientFactory{opts: opts}
}

// newS3Client is a seam for tests.
var newS3Client = func(o s3.Options) *s3.Client {
	return s3.New(o)
}

// Build constructs a client bound to creds. It performs no network I/O.
func (f *ClientFactory) Build(creds Credentials) (*Client, error) {
	if creds.AccessKeyID == "" {
		return nil, fmt.Errorf("access key is required")
	}
	if creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("secret key is required")
	}
	if creds.Region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if creds.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	opts := s3.Options{
		Region:       creds.Region,
		Credentials:  aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, "")),
		UsePathStyle: f.opts.UsePathStyle,
	}
	if f.opts.Endpoint != "" {
		opts.BaseEndpoint = aws.String(f.opts.Endpoint)
	}
	if f.opts.ChecksumWhenRequired {
		opts.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		opts.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	}
	if f.opts.HTTPClient != nil {
		opts.HTTPClient = f.opts.HTTPClient
	}

	client := newS3Client(opts)
	return NewClient(client, s3.NewPresignClient(client), creds.Bucket), nil
}
