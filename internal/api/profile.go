package api

import (
	"errors"
	"net/http"

	"github.com/skillsync/skillsync-bff/internal/apiclient"
	"github.com/skillsync/skillsync-bff/internal/domain"
)

// maxUploadSize caps multipart image uploads.
const maxUploadSize = 10 << 20

// GetMe handles GET /api/me. The fresh profile also replaces the cached one.
func (h *SocialHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	gen := h.profiles.Generation()
	user, err := h.remote.Profile(r.Context())
	if err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	h.storeProfile(gen, user)
	JSON(w, http.StatusOK, user)
}

// UpdateProfile handles PATCH /api/profile.
func (h *SocialHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd domain.ProfileUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	gen := h.profiles.Generation()
	user, err := h.remote.UpdateProfile(r.Context(), upd)
	if err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	h.storeProfile(gen, user)
	JSON(w, http.StatusOK, user)
}

func (h *SocialHandler) storeProfile(gen uint64, user *domain.User) {
	if !h.profiles.SetCurrentUserIf(gen, user) {
		h.logger.Info("Session changed during profile request, not caching profile", "user_id", user.ID)
	}
}

// ImageKitAuth handles GET /api/uploads/imagekit-auth for views uploading
// directly to ImageKit.
func (h *SocialHandler) ImageKitAuth(w http.ResponseWriter, r *http.Request) {
	auth, err := h.remote.ImageKitAuth(r.Context())
	if err != nil {
		upstreamError(w, r, h.logger, err)
		return
	}
	JSON(w, http.StatusOK, auth)
}

// UploadImage handles POST /api/uploads with a multipart "file" field and
// answers with the hosted URL.
func (h *SocialHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()

	url, err := h.remote.UploadImage(r.Context(), header.Filename, file)
	if err != nil {
		if errors.Is(err, apiclient.ErrUploadNotConfigured) {
			Error(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		upstreamError(w, r, h.logger, err)
		return
	}
	h.logger.Info("Image uploaded", "file_name", header.Filename, "size", header.Size)
	JSON(w, http.StatusCreated, map[string]string{"url": url})
}
