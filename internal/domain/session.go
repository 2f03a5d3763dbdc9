package domain

// Session holds the current authentication status of the BFF.
// CurrentUser != nil implies IsAuthenticated. An empty AccessToken does not
// imply logged-out: the refresh cookie may still be valid.
type Session struct {
	IsAuthenticated bool   `json:"is_authenticated"`
	AccessToken     string `json:"-"`
	CurrentUser     *User  `json:"current_user,omitempty"`
	IsLoading       bool   `json:"is_loading"`
}

// LoggedOut returns the initial, logged-out session.
func LoggedOut() Session {
	return Session{}
}

// Clone returns a copy that shares no pointers with s.
func (s Session) Clone() Session {
	if s.CurrentUser != nil {
		u := *s.CurrentUser
		s.CurrentUser = &u
	}
	return s
}
