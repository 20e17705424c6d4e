package users

import (
	"context"
	"time"
)

// Repository stores users. Every mutating method is a single atomic write.
type Repository interface {
	Create(ctx context.Context, user *User) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)

	// SetVerificationToken stores a new code, or clears it when token is empty.
	SetVerificationToken(ctx context.Context, id, token string, expires time.Time) error
	// MarkVerified verifies the user if token matches and has not expired at now.
	MarkVerified(ctx context.Context, id, token string, now time.Time) (*User, error)

	// SetResetToken stores a reset token hash, or clears it when hash is empty.
	SetResetToken(ctx context.Context, id, hash string, expires time.Time) error
	// ResetPassword replaces the password of the user holding an unexpired
	// reset token hash and clears the token.
	ResetPassword(ctx context.Context, hash, passwordHash string, now time.Time) (*User, error)

	// SetCredentials writes all four credential fields and sets HasCredentials.
	SetCredentials(ctx context.Context, id string, creds Credentials) (*User, error)
	// ClearCredentials nulls all four credential fields and unsets HasCredentials.
	ClearCredentials(ctx context.Context, id string) (*User, error)

	// Delete removes the user together with its credential record.
	Delete(ctx context.Context, id string) (*User, error)
}
