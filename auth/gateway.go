package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-login-relay/internal/errors"
	"github.com/jrsteele09/go-login-relay/sessions"
)

// DefaultExpiryBuffer is how long before expiresAt a session already counts as expired, so a
// request is not accepted here and then rejected upstream mid-flight.
const DefaultExpiryBuffer = 60 * time.Second

// Gateway validates the session id presented with every vehicle-data call.
type Gateway struct {
	sessions sessions.Repo
	buffer   time.Duration
	nowTime  func() time.Time
}

// GatewayOption defines a function type to modify the Gateway.
type GatewayOption func(*Gateway)

// WithGatewayNowTime sets the now time function (primarily for testing)
func WithGatewayNowTime(nowFunc func() time.Time) GatewayOption {
	return func(g *Gateway) {
		g.nowTime = nowFunc
	}
}

// NewGateway creates a gateway over repo. A negative buffer falls back to DefaultExpiryBuffer.
func NewGateway(repo sessions.Repo, buffer time.Duration, options ...GatewayOption) *Gateway {
	if buffer < 0 {
		buffer = DefaultExpiryBuffer
	}
	g := &Gateway{
		sessions: repo,
		buffer:   buffer,
		nowTime:  time.Now,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Authorize returns the session for sessionID. Unknown or empty ids are ErrUnauthorized; a
// session inside the expiry buffer is ErrTokenExpired so the caller can refresh and retry.
func (g *Gateway) Authorize(ctx context.Context, sessionID string) (sessions.Session, error) {
	if sessionID == "" {
		return sessions.Session{}, errors.Wrapf(errors.ErrUnauthorized, "[Gateway Authorize] no session id")
	}
	session, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errors.ErrSessionNotFound) {
			return sessions.Session{}, errors.Wrapf(errors.ErrUnauthorized, "[Gateway Authorize] %v", err)
		}
		return sessions.Session{}, fmt.Errorf("[Gateway Authorize] %w", err)
	}
	if session.ExpiresWithin(g.nowTime(), g.buffer) {
		return sessions.Session{}, errors.Wrapf(errors.ErrTokenExpired, "[Gateway Authorize] access token expires at %s", session.ExpiresAt.Format(time.RFC3339))
	}
	return session, nil
}
