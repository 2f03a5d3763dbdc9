package api

import (
	"errors"
	"net/http"

	"github.com/skillsync/skillsync-bff/internal/apiclient"
	"github.com/skillsync/skillsync-bff/internal/domain"
	"github.com/skillsync/skillsync-bff/internal/follow"
)

// feedResponse is a page of posts plus the follow state of their authors, so
// a view can render every card from one consistent snapshot.
type feedResponse struct {
	domain.PostPage
	Follows map[int64]domain.FollowEntry `json:"follows"`
}

// GetFeed handles GET /api/feed?tab=explore|following&cursor=<next>.
// Loading the first page of a tab reconciles the follow map with the server.
func (h *SocialHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	tab := r.URL.Query().Get("tab")
	switch tab {
	case "":
		tab = apiclient.TabExplore
	case apiclient.TabExplore, apiclient.TabFollowing:
	default:
		Error(w, http.StatusBadRequest, "tab must be explore or following")
		return
	}
	cursor := r.URL.Query().Get("cursor")

	page, err := h.remote.Feed(r.Context(), tab, cursor)
	if err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	if cursor == "" {
		h.follows.Store().Initialize(page.Results)
	}
	if page.Results == nil {
		page.Results = []domain.Post{}
	}
	JSON(w, http.StatusOK, feedResponse{PostPage: page, Follows: h.followStates(page.Results)})
}

// GetUserPosts handles GET /api/users/{userID}/posts.
func (h *SocialHandler) GetUserPosts(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	posts, err := h.remote.UserPosts(r.Context(), id)
	if err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	if posts == nil {
		posts = []domain.Post{}
	}
	JSON(w, http.StatusOK, feedResponse{
		PostPage: domain.PostPage{Count: len(posts), Results: posts},
		Follows:  h.followStates(posts),
	})
}

// GetFollow handles GET /api/users/{userID}/follow.
func (h *SocialHandler) GetFollow(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	JSON(w, http.StatusOK, h.follows.Store().Entry(id))
}

// ToggleFollow handles POST /api/users/{userID}/follow/toggle. A toggle
// already in flight answers 409; a failed remote call answers 502 with the
// rolled-back entry.
func (h *SocialHandler) ToggleFollow(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "userID")
	if !ok {
		return
	}

	entry, err := h.follows.Toggle(r.Context(), id)
	switch {
	case errors.Is(err, follow.ErrInFlight):
		JSON(w, http.StatusConflict, map[string]any{"error": "follow update in progress", "entry": entry})
	case err != nil:
		JSON(w, http.StatusBadGateway, map[string]any{"error": "failed to update follow", "entry": entry})
	default:
		JSON(w, http.StatusOK, entry)
	}
}

// ListFollows handles GET /api/follows.
func (h *SocialHandler) ListFollows(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.follows.Store().All())
}

func (h *SocialHandler) followStates(posts []domain.Post) map[int64]domain.FollowEntry {
	store := h.follows.Store()
	out := make(map[int64]domain.FollowEntry)
	for i := range posts {
		if id := posts[i].AuthorID(); id != 0 {
			out[id] = store.Entry(id)
		}
	}
	return out
}
