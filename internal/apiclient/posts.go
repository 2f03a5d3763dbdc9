package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/skillsync/skillsync-bff/internal/domain"
)

// Feed tabs.
const (
	TabExplore   = "explore"
	TabFollowing = "following"
)

// Feed returns one page of a feed tab. An empty cursor loads the first page;
// otherwise cursor is the next URL of the previous page and must point at the
// API host.
func (c *Client) Feed(ctx context.Context, tab, cursor string) (domain.PostPage, error) {
	target := pathExplore
	if tab == TabFollowing {
		target = pathFollowing
	}
	if cursor != "" {
		if err := c.checkCursor(cursor); err != nil {
			return domain.PostPage{}, err
		}
		target = cursor
	}
	return c.postList(ctx, target)
}

func (c *Client) checkCursor(cursor string) error {
	u, err := url.Parse(cursor)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("%w: %q", ErrForeignCursor, cursor)
	}
	if c.base == nil || u.Host != c.base.Host || u.Scheme != c.base.Scheme {
		return fmt.Errorf("%w: %q", ErrForeignCursor, cursor)
	}
	return nil
}

// postList accepts both a paginated {count, next, results} body and a bare
// array of posts.
func (c *Client) postList(ctx context.Context, target string) (domain.PostPage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, target, nil, &raw); err != nil {
		return domain.PostPage{}, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.PostPage{}, nil
	}
	if trimmed[0] == '[' {
		var posts []domain.Post
		if err := json.Unmarshal(trimmed, &posts); err != nil {
			return domain.PostPage{}, fmt.Errorf("decode post list: %w", err)
		}
		return domain.PostPage{Count: len(posts), Results: posts}, nil
	}

	var page domain.PostPage
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return domain.PostPage{}, fmt.Errorf("decode post page: %w", err)
	}
	return page, nil
}

// Post fetches a single post.
func (c *Client) Post(ctx context.Context, id int64) (*domain.Post, error) {
	var p domain.Post
	if err := c.do(ctx, http.MethodGet, postPath(id, ""), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePost publishes a post.
func (c *Client) CreatePost(ctx context.Context, np domain.NewPost) (*domain.Post, error) {
	if err := ValidateLink(np.ExternalLink); err != nil {
		return nil, err
	}
	var p domain.Post
	if err := c.do(ctx, http.MethodPost, pathPosts, np, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePost patches a post.
func (c *Client) UpdatePost(ctx context.Context, id int64, np domain.NewPost) (*domain.Post, error) {
	if err := ValidateLink(np.ExternalLink); err != nil {
		return nil, err
	}
	var p domain.Post
	if err := c.do(ctx, http.MethodPatch, postPath(id, ""), np, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePost deletes a post.
func (c *Client) DeletePost(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, postPath(id, ""), nil, nil)
}

// Like likes a post.
func (c *Client) Like(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, postPath(id, "like"), struct{}{}, nil)
}

// Unlike removes a like.
func (c *Client) Unlike(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, postPath(id, "unlike"), struct{}{}, nil)
}

// Comment adds a comment to a post.
func (c *Client) Comment(ctx context.Context, id int64, content string) (*domain.Comment, error) {
	var cm domain.Comment
	if err := c.do(ctx, http.MethodPost, postPath(id, "comment"), map[string]string{"content": content}, &cm); err != nil {
		return nil, err
	}
	return &cm, nil
}

// MarkViewed records a view of a post.
func (c *Client) MarkViewed(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodPost, postPath(id, "view"), struct{}{}, nil)
}

// Search finds users and posts matching q.
func (c *Client) Search(ctx context.Context, q string) (domain.SearchResult, error) {
	var res domain.SearchResult
	target := pathSearch + "?" + url.Values{"q": {q}}.Encode()
	if err := c.do(ctx, http.MethodGet, target, nil, &res); err != nil {
		return domain.SearchResult{}, err
	}
	return res, nil
}

// ValidateLink accepts an empty link or an absolute http(s) URL.
func ValidateLink(link string) error {
	if link == "" {
		return nil
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return ErrInvalidLink
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	}
	return ErrInvalidLink
}

func postPath(id int64, action string) string {
	if action == "" {
		return fmt.Sprintf("/posts/%d/", id)
	}
	return fmt.Sprintf("/posts/%d/%s/", id, action)
}
