package sessions

import "time"

// Session is the relay's own credential record wrapping the provider's tokens.
type Session struct {
	AccessToken  string    `json:"accessToken"`            // provider bearer token
	RefreshToken string    `json:"refreshToken,omitempty"` // empty means the session cannot be refreshed
	ExpiresAt    time.Time `json:"expiresAt"`              // access token issue time + provider lifetime
	Email        string    `json:"email"`                  // login identifier, diagnostic only
	Subject      string    `json:"subject,omitempty"`      // sub of a verified ID token
	CreatedAt    time.Time `json:"createdAt"`
}

// CanRefresh reports whether the session carries a refresh token.
func (s Session) CanRefresh() bool {
	return s.RefreshToken != ""
}

// ExpiresWithin reports whether the access token is expired once buffer is taken off its lifetime.
func (s Session) ExpiresWithin(now time.Time, buffer time.Duration) bool {
	return now.After(s.ExpiresAt.Add(-buffer))
}

// survivesReload reports whether a persisted session is still worth loading: either it has
// more than minLifetime left or it can be refreshed on first use.
func (s Session) survivesReload(now time.Time, minLifetime time.Duration) bool {
	return s.ExpiresAt.After(now.Add(minLifetime)) || s.CanRefresh()
}
