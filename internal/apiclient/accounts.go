package apiclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/skillsync/skillsync-bff/internal/domain"
)

// ImageKitAuth are the short-lived signed upload parameters.
type ImageKitAuth struct {
	Token     string `json:"token"`
	Expire    int64  `json:"expire"`
	Signature string `json:"signature"`
}

// Profile returns the current user's profile.
func (c *Client) Profile(ctx context.Context) (*domain.User, error) {
	var user domain.User
	if err := c.do(ctx, http.MethodGet, pathProfile, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile patches the editable profile fields.
func (c *Client) UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (*domain.User, error) {
	var user domain.User
	if err := c.do(ctx, http.MethodPatch, pathProfile, upd, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Follow follows userID.
func (c *Client) Follow(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/accounts/follow/%d/", userID), struct{}{}, nil)
}

// Unfollow unfollows userID.
func (c *Client) Unfollow(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/accounts/unfollow/%d/", userID), struct{}{}, nil)
}

// UserPosts lists the posts written by userID.
func (c *Client) UserPosts(ctx context.Context, userID int64) ([]domain.Post, error) {
	page, err := c.postList(ctx, fmt.Sprintf("/accounts/users/%d/posts/", userID))
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

// ImageKitAuth fetches signed upload parameters.
func (c *Client) ImageKitAuth(ctx context.Context) (ImageKitAuth, error) {
	var auth ImageKitAuth
	if err := c.do(ctx, http.MethodGet, pathImageKitAuth, nil, &auth); err != nil {
		return ImageKitAuth{}, err
	}
	return auth, nil
}
