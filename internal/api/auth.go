package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skillsync/skillsync-bff/internal/apiclient"
	"github.com/skillsync/skillsync-bff/internal/domain"
)

// Session is the BFF session the auth endpoints drive.
type Session interface {
	Snapshot() domain.Session
	Login(ctx context.Context, creds domain.Credentials) (domain.Session, error)
	Logout(ctx context.Context)
}

// Accounts covers the unauthenticated account endpoints of the remote API.
type Accounts interface {
	Register(ctx context.Context, reg domain.Registration) error
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, otp string) error
	ResetPassword(ctx context.Context, email, newPassword string) error
}

// CookieResetter forgets the stored refresh credential.
type CookieResetter interface {
	Reset(ctx context.Context) error
}

// AuthHandler handles session and account endpoints.
type AuthHandler struct {
	session  Session
	accounts Accounts
	cookies  CookieResetter
	logger   *slog.Logger
}

// NewAuthHandler creates the auth handler. cookies may be nil.
func NewAuthHandler(s Session, accounts Accounts, cookies CookieResetter, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{session: s, accounts: accounts, cookies: cookies, logger: logger}
}

// RegisterRoutes registers session and account routes (no authentication required).
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/session", h.GetSession)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Post("/register", h.Register)
		r.Post("/password/forgot", h.ForgotPassword)
		r.Post("/password/verify", h.VerifyOTP)
		r.Post("/password/reset", h.ResetPassword)
	})
}

// GetSession returns the current session state.
func (h *AuthHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.session.Snapshot())
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if !decodeJSON(w, r, &creds) {
		return
	}
	creds.UsernameOrEmail = strings.TrimSpace(creds.UsernameOrEmail)
	if creds.UsernameOrEmail == "" || creds.Password == "" {
		Error(w, http.StatusBadRequest, "username_or_email and password are required")
		return
	}

	sess, err := h.session.Login(r.Context(), creds)
	if err != nil {
		var apiErr *apiclient.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized) {
			Error(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		upstreamError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

// Logout handles POST /api/auth/logout. It always succeeds locally.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout(r.Context())
	if h.cookies != nil {
		if err := h.cookies.Reset(context.WithoutCancel(r.Context())); err != nil {
			h.logger.Warn("Failed to reset cookie jar", "error", err)
		}
	}
	JSON(w, http.StatusOK, h.session.Snapshot())
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var reg domain.Registration
	if !decodeJSON(w, r, &reg) {
		return
	}
	if reg.Username == "" || reg.Email == "" || reg.Password == "" {
		Error(w, http.StatusBadRequest, "username, email and password are required")
		return
	}
	if err := h.accounts.Register(r.Context(), reg); err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

type passwordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp,omitempty"`
	NewPassword string `json:"new_password,omitempty"`
}

// ForgotPassword handles POST /api/auth/password/forgot.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		Error(w, http.StatusBadRequest, "email is required")
		return
	}
	if err := h.accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "otp_sent"})
}

// VerifyOTP handles POST /api/auth/password/verify.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.OTP == "" {
		Error(w, http.StatusBadRequest, "email and otp are required")
		return
	}
	if err := h.accounts.VerifyOTP(r.Context(), req.Email, req.OTP); err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// ResetPassword handles POST /api/auth/password/reset.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.NewPassword == "" {
		Error(w, http.StatusBadRequest, "email and new_password are required")
		return
	}
	if err := h.accounts.ResetPassword(r.Context(), req.Email, req.NewPassword); err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "password_reset"})
}
