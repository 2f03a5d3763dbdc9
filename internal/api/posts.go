package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/skillsync/skillsync-bff/internal/apiclient"
	"github.com/skillsync/skillsync-bff/internal/domain"
)

// GetPost handles GET /api/posts/{postID}.
func (h *SocialHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "postID")
	if !ok {
		return
	}
	post, err := h.remote.Post(r.Context(), id)
	if err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, post)
}

// CreatePost handles POST /api/posts.
func (h *SocialHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	np, ok := h.decodePost(w, r)
	if !ok {
		return
	}
	post, err := h.remote.CreatePost(r.Context(), np)
	if err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusCreated, post)
}

// UpdatePost handles PUT /api/posts/{postID}.
func (h *SocialHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "postID")
	if !ok {
		return
	}
	np, ok := h.decodePost(w, r)
	if !ok {
		return
	}
	post, err := h.remote.UpdatePost(r.Context(), id, np)
	if err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, post)
}

// DeletePost handles DELETE /api/posts/{postID}.
func (h *SocialHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "postID")
	if !ok {
		return
	}
	if err := h.remote.DeletePost(r.Context(), id); err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LikePost handles POST /api/posts/{postID}/like.
func (h *SocialHandler) LikePost(w http.ResponseWriter, r *http.Request) {
	h.postAction(w, r, h.remote.Like)
}

// UnlikePost handles DELETE /api/posts/{postID}/like.
func (h *SocialHandler) UnlikePost(w http.ResponseWriter, r *http.Request) {
	h.postAction(w, r, h.remote.Unlike)
}

// ViewPost handles POST /api/posts/{postID}/view.
func (h *SocialHandler) ViewPost(w http.ResponseWriter, r *http.Request) {
	h.postAction(w, r, h.remote.MarkViewed)
}

// CommentPost handles POST /api/posts/{postID}/comments.
func (h *SocialHandler) CommentPost(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "postID")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}
	comment, err := h.remote.Comment(r.Context(), id, req.Content)
	if err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusCreated, comment)
}

// Search handles GET /api/search?q=. Follow flags in results are returned as
// sent and do not reconcile the follow map.
func (h *SocialHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		JSON(w, http.StatusOK, domain.SearchResult{Users: []domain.AuthorProfile{}, Posts: []domain.Post{}})
		return
	}
	res, err := h.remote.Search(r.Context(), q)
	if err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

func (h *SocialHandler) postAction(w http.ResponseWriter, r *http.Request, call func(ctx context.Context, id int64) error) {
	id, ok := idParam(w, r, "postID")
	if !ok {
		return
	}
	if err := call(r.Context(), id); err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SocialHandler) decodePost(w http.ResponseWriter, r *http.Request) (domain.NewPost, bool) {
	var np domain.NewPost
	if !decodeJSON(w, r, &np) {
		return np, false
	}
	np.Title = strings.TrimSpace(np.Title)
	if np.Title == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return np, false
	}
	if err := apiclient.ValidateLink(np.ExternalLink); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return np, false
	}
	return np, true
}
