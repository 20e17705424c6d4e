package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSessions_IssueAndVerify(t *testing.T) {
	t.Parallel()

	s, err := NewSessions("super-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewSessions error: %v", err)
	}

	tok, err := s.Issue("user-123", "alice@example.com")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	claims, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if claims.UserID != "user-123" || claims.Email != "alice@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Fatalf("expected 1h lifetime, got %s", got)
	}
}

func TestSessions_DefaultTTL(t *testing.T) {
	t.Parallel()

	s, err := NewSessions("secret", 0)
	if err != nil {
		t.Fatalf("NewSessions error: %v", err)
	}
	if s.TTL() != DefaultSessionTTL {
		t.Fatalf("expected default ttl, got %s", s.TTL())
	}
}

func TestSessions_Expired(t *testing.T) {
	t.Parallel()

	s, _ := NewSessions("secret", time.Hour)
	base := time.Now()
	s.now = func() time.Time { return base }
	tok, err := s.Issue("u1", "a@b.c")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := s.Verify(tok); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestSessions_WrongSecret(t *testing.T) {
	t.Parallel()

	a, _ := NewSessions("right-secret", time.Hour)
	b, _ := NewSessions("wrong-secret", time.Hour)

	tok, _ := a.Issue("u2", "a@b.c")
	if _, err := b.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSessions_RejectsGarbageAndNoneAlg(t *testing.T) {
	t.Parallel()

	s, _ := NewSessions("secret", time.Hour)
	if _, err := s.Verify("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u"})
	tok, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := s.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg none, got %v", err)
	}
}

func TestNewSessions_EmptySecret(t *testing.T) {
	t.Parallel()

	if _, err := NewSessions("", time.Hour); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Fatalf("expected secret error, got %v", err)
	}
}
