package domain

// Session is the credential state of one client context.
// An empty string stands for an absent value.
type Session struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Role         Role   `json:"role"`
	UserID       string `json:"user_id,omitempty"`
	Username     string `json:"username,omitempty"`
}

// GuestSession returns the unauthenticated session
func GuestSession() Session {
	return Session{Role: RoleGuest}
}

// Normalize enforces that a session without an access token is a Guest
// session and that the role is a known value.
func (s Session) Normalize() Session {
	if s.AccessToken == "" || !s.Role.IsValid() || s.Role == RoleGuest {
		return GuestSession()
	}
	return s
}

// IsGuest reports whether the session carries no credentials
func (s Session) IsGuest() bool {
	return s.AccessToken == "" || s.Role == RoleGuest
}

// HasRefreshToken reports whether the session can be renewed
func (s Session) HasRefreshToken() bool {
	return s.RefreshToken != ""
}

// WithAccessToken returns a copy carrying a renewed access token and, when
// non-empty, the rotated refresh token.
func (s Session) WithAccessToken(access, refresh string) Session {
	s.AccessToken = access
	if refresh != "" {
		s.RefreshToken = refresh
	}
	return s
}
