package s3

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/s3-console/internal/apperr"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "no such bucket",
			err:         &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "gone"},
			wantCode:    "NoSuchBucket",
			wantMessage: "The specified bucket does not exist: my-bucket",
		},
		{
			name:        "access denied wrapped",
			err:         fmt.Errorf("operation error S3: ListObjectsV2: %w", &smithy.GenericAPIError{Code: "AccessDenied"}),
			wantCode:    "AccessDenied",
			wantMessage: "Access denied by the object store. Check the permissions of your AWS keys.",
		},
		{
			name:        "bad keys",
			err:         &smithy.GenericAPIError{Code: "InvalidAccessKeyId"},
			wantCode:    "InvalidAccessKeyId",
			wantMessage: "The stored AWS keys were rejected by the object store.",
		},
		{
			name:        "deadline",
			err:         context.DeadlineExceeded,
			wantCode:    "RequestTimeout",
			wantMessage: "The object store did not respond in time.",
		},
		{
			name:        "unknown",
			err:         errors.New("dial tcp: connection refused"),
			wantCode:    "InternalError",
			wantMessage: "The object store returned an error. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := TranslateError(tt.err, "ListObjectsV2", "my-bucket", "key")
			var upstream *apperr.UpstreamStoreError
			require.True(t, errors.As(err, &upstream))
			assert.Equal(t, tt.wantCode, upstream.Code)
			assert.Equal(t, tt.wantMessage, upstream.Message)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantCode, ErrorType(err))
		})
	}

	assert.NoError(t, TranslateError(nil, "op", "", ""))
	assert.Equal(t, "unknown", ErrorType(errors.New("x")))
}
