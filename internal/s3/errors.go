package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/kenneth/s3-console/internal/apperr"
)

// TranslateError converts an SDK error into an UpstreamStoreError with a
// client-safe message. The underlying error stays reachable through Unwrap.
func TranslateError(err error, op, bucket, key string) error {
	if err == nil {
		return nil
	}

	upstream := &apperr.UpstreamStoreError{
		Op:      op,
		Code:    "InternalError",
		Message: "The object store returned an error. Please try again.",
		Err:     err,
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		upstream.Code = "RequestTimeout"
		upstream.Message = "The object store did not respond in time."
		return upstream
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		upstream.Code = apiErr.ErrorCode()
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			upstream.Message = fmt.Sprintf("The specified bucket does not exist: %s", bucket)
		case "NoSuchKey", "NotFound":
			upstream.Message = fmt.Sprintf("The specified key does not exist: %s", key)
		case "AccessDenied", "AllAccessDisabled":
			upstream.Message = "Access denied by the object store. Check the permissions of your AWS keys."
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			upstream.Message = "The stored AWS keys were rejected by the object store."
		case "PermanentRedirect", "AuthorizationHeaderMalformed", "IllegalLocationConstraintException":
			upstream.Message = "The bucket is not in the configured region."
		case "InvalidBucketName":
			upstream.Message = "The specified bucket is not valid."
		case "SlowDown", "ServiceUnavailable", "RequestTimeout":
			upstream.Message = "The object store is throttling requests. Please try again later."
		}
	}
	return upstream
}

// ErrorType returns a short label for metrics.
func ErrorType(err error) string {
	var upstream *apperr.UpstreamStoreError
	if errors.As(err, &upstream) && upstream.Code != "" {
		return upstream.Code
	}
	return "unknown"
}
