package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/skillsync/skillsync-bff/internal/domain"
)

type refreshResponse struct {
	Access string `json:"access"`
}

// Login exchanges credentials for a token pair. The refresh credential is
// also set as a cookie by the server and lands in the jar.
func (a *AuthAPI) Login(ctx context.Context, creds domain.Credentials) (domain.TokenPair, error) {
	var pair domain.TokenPair
	if err := a.do(ctx, http.MethodPost, pathLogin, creds, &pair); err != nil {
		return domain.TokenPair{}, err
	}
	return pair, nil
}

// Refresh mints a new access token from the refresh cookie.
func (a *AuthAPI) Refresh(ctx context.Context) (string, error) {
	var resp refreshResponse
	if err := a.do(ctx, http.MethodPost, pathRefresh, struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.Access, nil
}

// CurrentUser fetches the profile of the holder of accessToken.
func (a *AuthAPI) CurrentUser(ctx context.Context, accessToken string) (*domain.User, error) {
	req, err := a.newRequest(ctx, http.MethodGet, pathProfile, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var user domain.User
	if err := a.decode(req, &user); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &user, nil
}

// Logout invalidates the refresh credential server-side.
func (a *AuthAPI) Logout(ctx context.Context, accessToken string) error {
	req, err := a.newRequest(ctx, http.MethodPost, pathLogout, struct{}{})
	if err != nil {
		return err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return a.decode(req, nil)
}

// Register creates an account.
func (a *AuthAPI) Register(ctx context.Context, reg domain.Registration) error {
	return a.do(ctx, http.MethodPost, pathRegister, reg, nil)
}

// RequestPasswordReset sends a one-time code to email.
func (a *AuthAPI) RequestPasswordReset(ctx context.Context, email string) error {
	return a.do(ctx, http.MethodPost, pathForgotPassword, map[string]string{"email": email}, nil)
}

// VerifyOTP checks the one-time code.
func (a *AuthAPI) VerifyOTP(ctx context.Context, email, otp string) error {
	return a.do(ctx, http.MethodPost, pathVerifyOTP, map[string]string{"email": email, "otp": otp}, nil)
}

// ResetPassword sets a new password after a verified code.
func (a *AuthAPI) ResetPassword(ctx context.Context, email, newPassword string) error {
	return a.do(ctx, http.MethodPost, pathResetPassword,
		map[string]string{"email": email, "new_password": newPassword}, nil)
}
