package users

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for local runs and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*User
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID: make(map[string]*User),
		now:  time.Now,
	}
}

func clone(u *User) *User {
	cp := *u
	return &cp
}

func (r *MemoryRepository) findByEmail(email string) *User {
	for _, u := range r.byID {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (r *MemoryRepository) Create(_ context.Context, user *User) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(user.Email)
	if r.findByEmail(email) != nil {
		return nil, ErrDuplicateEmail
	}

	u := clone(user)
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = email
	u.CreatedAt = r.now()
	u.UpdatedAt = u.CreatedAt
	r.byID[u.ID] = u
	return clone(u), nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(u), nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u := r.findByEmail(strings.ToLower(email))
	if u == nil {
		return nil, ErrNotFound
	}
	return clone(u), nil
}

// update applies fn to the stored user under the write lock.
func (r *MemoryRepository) update(id string, fn func(u *User) bool) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := clone(u)
	if !fn(next) {
		return nil, ErrNotFound
	}
	next.UpdatedAt = r.now()
	r.byID[id] = next
	return clone(next), nil
}

func (r *MemoryRepository) SetVerificationToken(_ context.Context, id, token string, expires time.Time) error {
	_, err := r.update(id, func(u *User) bool {
		u.VerificationToken = token
		u.VerificationTokenExpires = expires
		if token == "" {
			u.VerificationTokenExpires = time.Time{}
		}
		return true
	})
	return err
}

func (r *MemoryRepository) MarkVerified(_ context.Context, id, token string, now time.Time) (*User, error) {
	return r.update(id, func(u *User) bool {
		if u.VerificationToken == "" || u.VerificationToken != token || !u.VerificationTokenExpires.After(now) {
			return false
		}
		u.IsVerified = true
		u.VerificationToken = ""
		u.VerificationTokenExpires = time.Time{}
		return true
	})
}

func (r *MemoryRepository) SetResetToken(_ context.Context, id, hash string, expires time.Time) error {
	_, err := r.update(id, func(u *User) bool {
		u.ResetTokenHash = hash
		u.ResetTokenExpires = expires
		if hash == "" {
			u.ResetTokenExpires = time.Time{}
		}
		return true
	})
	return err
}

// hashEqual compares token hashes in constant time. An empty hash never matches.
func hashEqual(stored, given string) bool {
	if stored == "" || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func (r *MemoryRepository) ResetPassword(_ context.Context, hash, passwordHash string, now time.Time) (*User, error) {
	r.mu.RLock()
	var id string
	for _, u := range r.byID {
		if hashEqual(u.ResetTokenHash, hash) {
			id = u.ID
			break
		}
	}
	r.mu.RUnlock()
	if id == "" {
		return nil, ErrNotFound
	}

	return r.update(id, func(u *User) bool {
		if !hashEqual(u.ResetTokenHash, hash) || !u.ResetTokenExpires.After(now) {
			return false
		}
		u.PasswordHash = passwordHash
		u.ResetTokenHash = ""
		u.ResetTokenExpires = time.Time{}
		return true
	})
}

func (r *MemoryRepository) SetCredentials(_ context.Context, id string, creds Credentials) (*User, error) {
	return r.update(id, func(u *User) bool {
		u.Credentials = creds
		u.HasCredentials = true
		return true
	})
}

func (r *MemoryRepository) ClearCredentials(_ context.Context, id string) (*User, error) {
	return r.update(id, func(u *User) bool {
		u.Credentials = Credentials{}
		u.HasCredentials = false
		return true
	})
}

func (r *MemoryRepository) Delete(_ context.Context, id string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(r.byID, id)
	return clone(u), nil
}
