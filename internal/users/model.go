// Package users persists user accounts and the credential record each account owns.
package users

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when the email is already registered.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Credentials is the encrypted AWS credential record attached to a user.
// Access and secret keys hold SecretCipher output, never plaintext.
type Credentials struct {
	EncryptedAccessKey string `json:"-"`
	EncryptedSecretKey string `json:"-"`
	Region             string `json:"-"`
	Bucket             string `json:"-"`
}

// User is a registered account. Secrets and the credential record are
// excluded from JSON; clients get PublicView.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	IsVerified   bool   `json:"isVerified"`

	VerificationToken        string    `json:"-"`
	VerificationTokenExpires time.Time `json:"-"`

	ResetTokenHash    string    `json:"-"`
	ResetTokenExpires time.Time `json:"-"`

	HasCredentials bool        `json:"hasCredentials"`
	Credentials    Credentials `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PublicView is the redacted form of a User returned to clients.
type PublicView struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	IsVerified     bool      `json:"isVerified"`
	HasCredentials bool      `json:"hasCredentials"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Public returns the redacted view of u.
func (u *User) Public() PublicView {
	return PublicView{
		ID:             u.ID,
		Email:          u.Email,
		IsVerified:     u.IsVerified,
		HasCredentials: u.HasCredentials,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// HasPendingReset reports whether an unexpired reset token exists at now.
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetTokenHash != "" && u.ResetTokenExpires.After(now)
}
