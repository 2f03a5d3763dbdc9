// Package domain contains core domain types for the SkillSync BFF.
package domain

// User is the authenticated viewer's profile as returned by the profile endpoint.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	FullName     string `json:"full_name,omitempty"`
	Bio          string `json:"bio,omitempty"`
	Gender       string `json:"gender,omitempty"`
	Role         string `json:"role,omitempty"`
	ProfilePhoto string `json:"profile_photo,omitempty"`
	Followers    int    `json:"followers_count,omitempty"`
	Following    int    `json:"following_count,omitempty"`
}

// DisplayName returns the full name, falling back to the username.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	FullName     string `json:"full_name"`
	Bio          string `json:"bio"`
	Gender       string `json:"gender"`
	Role         string `json:"role"`
	ProfilePhoto string `json:"profile_photo"`
}

// Credentials identify a user at login.
type Credentials struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

// Registration is the sign-up payload.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenPair is the login response.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}
