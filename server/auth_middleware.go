package server

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-login-relay/sessions"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySession stores the session authorized by the gateway
	ContextKeySession ContextKey = "session"
)

// RequireSession is middleware for data routes. It passes the x-session-id header through the
// gateway and answers 401 with needsRefresh when the session is only expired.
func (s *Server) RequireSession() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			session, err := s.gateway.Authorize(r.Context(), r.Header.Get(HeaderSessionID))
			if err != nil {
				writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, session)
			next(w, r.WithContext(ctx))
		}
	}
}

// SessionFromContext returns the session stored by RequireSession.
func SessionFromContext(ctx context.Context) (sessions.Session, bool) {
	session, ok := ctx.Value(ContextKeySession).(sessions.Session)
	return session, ok
}
