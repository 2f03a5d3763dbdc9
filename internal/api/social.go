package api

import (
	"context"
	"io"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/skillsync/skillsync-bff/internal/apiclient"
	"github.com/skillsync/skillsync-bff/internal/domain"
	"github.com/skillsync/skillsync-bff/internal/follow"
)

// Remote is the authenticated part of the remote API the social endpoints use.
type Remote interface {
	Profile(ctx context.Context) (*domain.User, error)
	UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (*domain.User, error)
	UserPosts(ctx context.Context, userID int64) ([]domain.Post, error)
	Feed(ctx context.Context, tab, cursor string) (domain.PostPage, error)
	Post(ctx context.Context, id int64) (*domain.Post, error)
	CreatePost(ctx context.Context, np domain.NewPost) (*domain.Post, error)
	UpdatePost(ctx context.Context, id int64, np domain.NewPost) (*domain.Post, error)
	DeletePost(ctx context.Context, id int64) error
	Like(ctx context.Context, id int64) error
	Unlike(ctx context.Context, id int64) error
	Comment(ctx context.Context, id int64, content string) (*domain.Comment, error)
	MarkViewed(ctx context.Context, id int64) error
	Search(ctx context.Context, q string) (domain.SearchResult, error)
	ImageKitAuth(ctx context.Context) (apiclient.ImageKitAuth, error)
	UploadImage(ctx context.Context, fileName string, r io.Reader) (string, error)
}

// ProfileSink receives the refreshed profile of the signed-in user. The
// generation is read before the remote call; a profile fetched for an older
// session is dropped.
type ProfileSink interface {
	Generation() uint64
	SetCurrentUserIf(gen uint64, user *domain.User) bool
}

// SocialHandler serves the feed, follow, post, profile, search and upload
// endpoints. All of them require an authenticated session.
type SocialHandler struct {
	remote   Remote
	follows  *follow.Synchronizer
	profiles ProfileSink
	logger   *slog.Logger
}

// NewSocialHandler creates the social handler.
func NewSocialHandler(remote Remote, follows *follow.Synchronizer, profiles ProfileSink, logger *slog.Logger) *SocialHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocialHandler{remote: remote, follows: follows, profiles: profiles, logger: logger}
}

// RegisterRoutes registers the social routes.
func (h *SocialHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.GetMe)
	r.Patch("/api/profile", h.UpdateProfile)
	r.Get("/api/feed", h.GetFeed)
	r.Get("/api/search", h.Search)
	r.Get("/api/follows", h.ListFollows)

	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Get("/posts", h.GetUserPosts)
		r.Get("/follow", h.GetFollow)
		r.Post("/follow/toggle", h.ToggleFollow)
	})

	r.Route("/api/posts", func(r chi.Router) {
		r.Post("/", h.CreatePost)
		r.Route("/{postID}", func(r chi.Router) {
			r.Get("/", h.GetPost)
			r.Put("/", h.UpdatePost)
			r.Delete("/", h.DeletePost)
			r.Post("/like", h.LikePost)
			r.Delete("/like", h.UnlikePost)
			r.Post("/comments", h.CommentPost)
			r.Post("/view", h.ViewPost)
		})
	})

	r.Route("/api/uploads", func(r chi.Router) {
		r.Get("/imagekit-auth", h.ImageKitAuth)
		r.Post("/", h.UploadImage)
	})
}
