package api

import (
	"net/http"

	"github.com/kenneth/s3-console/internal/account"
	"github.com/kenneth/s3-console/internal/response"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) writeSession(w http.ResponseWriter, message string, session account.Session) {
	h.setSessionCookie(w, session.Token)
	response.OK(w, message, session)
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	session, err := h.accounts.SignUp(withRequestInfo(r), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, "User registered successfully", session)
}

func (h *Handler) handleLogIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	session, err := h.accounts.LogIn(withRequestInfo(r), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, "User logged in successfully", session)
}

func (h *Handler) handleLogOut(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w)
	response.OK(w, "User logged out successfully", nil)
}

func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.ResendVerification(r.Context(), userID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, "Verification code resent successfully", nil)
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VerificationToken string `json:"verificationToken"`
	}
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	session, err := h.accounts.VerifyEmail(r.Context(), userID(r), req.VerificationToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, "Email verified successfully", session)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.accounts.ForgotPassword(withRequestInfo(r), req.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, "Password reset email sent successfully.", nil)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResetToken  string `json:"resetToken"`
		NewPassword string `json:"newPassword"`
	}
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.accounts.ResetPassword(withRequestInfo(r), req.ResetToken, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, "Password reset successful. You can now log in.", nil)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.Delete(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	response.OK(w, "User deleted successfully", map[string]any{"user": user})
}

// handleGetDetails also re-issues the session, extending its lifetime.
func (h *Handler) handleGetDetails(w http.ResponseWriter, r *http.Request) {
	session, err := h.accounts.Details(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, "User details retrieved successfully", session)
}
