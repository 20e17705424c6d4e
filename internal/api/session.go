package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/kenneth/s3-console/internal/audit"
	"github.com/kenneth/s3-console/internal/auth"
	"github.com/kenneth/s3-console/internal/middleware"
)

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "token"

type claimsKey struct{}

// requireAuth rejects requests without a valid session. The token is read
// from an "Authorization: Bearer" header first, then from the session cookie.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.accounts.Authenticate(tokenFromRequest(r))
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(withRequestInfo(r), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// userID returns the authenticated user's ID. Only valid behind requireAuth.
func userID(r *http.Request) string {
	claims, _ := r.Context().Value(claimsKey{}).(*auth.Claims)
	if claims == nil {
		return ""
	}
	return claims.UserID
}

// withRequestInfo attaches audit request info for unauthenticated routes.
func withRequestInfo(r *http.Request) context.Context {
	return audit.WithRequestInfo(r.Context(), audit.RequestInfo{
		ClientIP:  middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: middleware.RequestID(r.Context()),
	})
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.accounts.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
