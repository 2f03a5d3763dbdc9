package domain

import (
	"encoding/json"
	"time"
)

// AuthorProfile is the author block embedded in a post.
type AuthorProfile struct {
	ID           int64  `json:"id"`
	Username     string `json:"username,omitempty"`
	FullName     string `json:"full_name,omitempty"`
	ProfilePhoto string `json:"profile_photo,omitempty"`
}

// Post is a server-owned feed item. Only AuthorProfile.ID and IsFollowing
// matter to follow-state reconciliation.
type Post struct {
	ID            int64          `json:"id"`
	Title         string         `json:"title,omitempty"`
	Description   string         `json:"description,omitempty"`
	ExternalLink  string         `json:"external_link,omitempty"`
	ImageURL      string         `json:"image_url,omitempty"`
	Category      string         `json:"category,omitempty"`
	AuthorName    string         `json:"author_name,omitempty"`
	AuthorProfile *AuthorProfile `json:"author_profile,omitempty"`
	IsFollowing   OptionalBool   `json:"is_following"`
	IsLiked       bool           `json:"is_liked"`
	LikesCount    int            `json:"likes_count"`
	ViewsCount    int            `json:"views_count,omitempty"`
	Comments      []Comment      `json:"comments,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AuthorID returns the author's user id, or 0 when the post carries none.
func (p *Post) AuthorID() int64 {
	if p.AuthorProfile == nil {
		return 0
	}
	return p.AuthorProfile.ID
}

// Comment is a comment on a post.
type Comment struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	User      *User     `json:"user,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewPost is the create-post payload.
type NewPost struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	ExternalLink string `json:"external_link"`
	ImageURL     string `json:"image_url"`
	Category     string `json:"category,omitempty"`
}

// PostPage is one page of a paginated post listing.
type PostPage struct {
	Count   int    `json:"count"`
	Next    string `json:"next,omitempty"`
	Results []Post `json:"results"`
}

// SearchResult is the response of the search endpoint.
type SearchResult struct {
	Users []AuthorProfile `json:"users"`
	Posts []Post          `json:"posts"`
}

// OptionalBool is a JSON boolean that remembers whether it was present and
// well-formed. Non-boolean values decode as absent instead of failing.
type OptionalBool struct {
	Value bool
	Valid bool
}

// Bool returns an OptionalBool holding v.
func Bool(v bool) OptionalBool {
	return OptionalBool{Value: v, Valid: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *OptionalBool) UnmarshalJSON(data []byte) error {
	var v bool
	if string(data) == "null" {
		*b = OptionalBool{}
		return nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		*b = OptionalBool{}
		return nil
	}
	*b = OptionalBool{Value: v, Valid: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (b OptionalBool) MarshalJSON() ([]byte, error) {
	if !b.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(b.Value)
}
