package domain

// FollowEntry is the viewer's follow state for one user.
type FollowEntry struct {
	UserID      int64  `json:"user_id"`
	IsFollowing bool   `json:"is_following"`
	Loading     bool   `json:"loading"`
	Version     uint64 `json:"version"`
}
