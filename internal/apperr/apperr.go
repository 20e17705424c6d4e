// Package apperr defines the error taxonomy shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed or missing caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// AuthError reports a missing, invalid or expired session, or bad login credentials.
type AuthError struct {
	Message string
	// Status overrides the default 401.
	Status int
}

func (e *AuthError) Error() string { return e.Message }

// NotFoundError reports a missing user or resource.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ConflictError reports a uniqueness violation such as a duplicate email.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// DecryptionError reports stored credentials that cannot be decrypted.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("credentials unreadable: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// UpstreamStoreError reports a failure returned by the object store.
// Attempted and Completed carry progress for multi-step operations.
type UpstreamStoreError struct {
	Op        string
	Code      string
	Message   string
	Attempted int
	Completed int
	Err       error
}

func (e *UpstreamStoreError) Error() string {
	if e.Attempted > 0 {
		return fmt.Sprintf("%s failed after %d of %d objects: %s", e.Op, e.Completed, e.Attempted, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

func (e *UpstreamStoreError) Unwrap() error { return e.Err }

// NotificationError reports an email that could not be delivered where
// delivery is required for the operation to make sense.
type NotificationError struct {
	Message string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// RateLimitError reports a request rejected by a limiter.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string { return e.Message }

// Validation returns a ValidationError with a formatted message.
func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a NotFoundError with a formatted message.
func NotFound(format string, args ...any) error {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// Unauthorized returns a 401 AuthError.
func Unauthorized(msg string) error {
	return &AuthError{Message: msg, Status: http.StatusUnauthorized}
}

// Conflict returns a ConflictError.
func Conflict(msg string) error {
	return &ConflictError{Message: msg}
}

// Response is the status and client-safe message for an error.
type Response struct {
	Status  int
	Message string
	Data    map[string]any
}

// ToResponse maps err to its HTTP status and client-visible message.
// Unknown errors become a generic 500 with no internal detail.
func ToResponse(err error) Response {
	var (
		validation *ValidationError
		auth       *AuthError
		notFound   *NotFoundError
		conflict   *ConflictError
		decrypt    *DecryptionError
		upstream   *UpstreamStoreError
		notify     *NotificationError
		limited    *RateLimitError
	)

	switch {
	case errors.As(err, &validation):
		return Response{Status: http.StatusBadRequest, Message: validation.Message}
	case errors.As(err, &auth):
		status := auth.Status
		if status == 0 {
			status = http.StatusUnauthorized
		}
		return Response{Status: status, Message: auth.Message}
	case errors.As(err, &notFound):
		return Response{Status: http.StatusNotFound, Message: notFound.Message}
	case errors.As(err, &conflict):
		return Response{Status: http.StatusBadRequest, Message: conflict.Message}
	case errors.As(err, &decrypt):
		return Response{Status: http.StatusInternalServerError, Message: "Stored AWS credentials are unreadable. Please save your keys again."}
	case errors.As(err, &upstream):
		resp := Response{Status: http.StatusInternalServerError, Message: upstream.Message}
		if upstream.Attempted > 0 {
			resp.Data = map[string]any{
				"attempted": upstream.Attempted,
				"deleted":   upstream.Completed,
			}
		}
		return resp
	case errors.As(err, &notify):
		return Response{Status: http.StatusInternalServerError, Message: notify.Message}
	case errors.As(err, &limited):
		return Response{Status: http.StatusTooManyRequests, Message: limited.Message}
	default:
		return Response{Status: http.StatusInternalServerError, Message: "Internal Server Error"}
	}
}
