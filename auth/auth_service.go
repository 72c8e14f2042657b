package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-login-relay/internal/errors"
	"github.com/jrsteele09/go-login-relay/login"
	"github.com/jrsteele09/go-login-relay/sessions"
	"github.com/jrsteele09/go-login-relay/tokens"
	"github.com/rs/zerolog/log"
)

// LoginFlow runs one login attempt against the identity provider.
type LoginFlow interface {
	Run(ctx context.Context, creds login.Credentials) (*tokens.TokenSet, error)
}

// TokenRefresher exchanges a refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*tokens.TokenSet, error)
}

// LoginResult is returned to the caller of a successful login.
type LoginResult struct {
	SessionID string
	ExpiresIn int // seconds
}

// RefreshResult is returned to the caller of a successful refresh. SessionID only changes for
// stores that encode the session into its id.
type RefreshResult struct {
	SessionID string
	ExpiresIn int // seconds
}

// Service turns provider logins into relay sessions and keeps them refreshed.
type Service struct {
	flow      LoginFlow
	refresher TokenRefresher
	sessions  sessions.Repo
	nowTime   func() time.Time // nowTime function (injectable for testing)
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// NewService initializes a new Service with required dependencies.
func NewService(flow LoginFlow, refresher TokenRefresher, repo sessions.Repo, options ...ServiceOption) (*Service, error) {
	if flow == nil {
		return nil, fmt.Errorf("[NewService] login flow is required")
	}
	if refresher == nil {
		return nil, fmt.Errorf("[NewService] token refresher is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("[NewService] session repo is required")
	}

	s := &Service{
		flow:      flow,
		refresher: refresher,
		sessions:  repo,
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Login runs the provider login and stores the resulting session. A CAPTCHA interruption is
// returned as *errors.CaptchaRequiredError.
func (s *Service) Login(ctx context.Context, creds login.Credentials) (*LoginResult, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "[Service Login] email and password are required")
	}

	set, err := s.flow.Run(ctx, creds)
	if err != nil {
		return nil, err
	}

	now := s.nowTime()
	id, err := s.sessions.Create(ctx, sessions.Session{
		AccessToken:  set.AccessToken,
		RefreshToken: set.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(set.ExpiresIn) * time.Second),
		Email:        creds.Email,
		Subject:      set.Subject,
		CreatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("[Service Login] failed to store session: %w", err)
	}

	log.Info().Str("email", creds.Email).Int("expires_in", set.ExpiresIn).Bool("refreshable", set.RefreshToken != "").Msg("login succeeded")
	return &LoginResult{SessionID: id, ExpiresIn: set.ExpiresIn}, nil
}

// Refresh renews the session's access token. A provider rejection deletes the session.
func (s *Service) Refresh(ctx context.Context, sessionID string) (*RefreshResult, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errors.ErrSessionNotFound) {
			return nil, errors.Wrapf(errors.ErrUnauthorized, "[Service Refresh] %v", err)
		}
		return nil, fmt.Errorf("[Service Refresh] %w", err)
	}
	if !session.CanRefresh() {
		return nil, errors.Wrapf(errors.ErrUnauthorized, "[Service Refresh] session has no refresh token")
	}

	set, err := s.refresher.Refresh(ctx, session.RefreshToken)
	if err != nil {
		if errors.Is(err, errors.ErrUpstreamUnavailable) {
			return nil, err
		}
		if delErr := s.sessions.Delete(ctx, sessionID); delErr != nil {
			log.Err(delErr).Msg("failed to delete session after refresh failure")
		}
		log.Info().Str("email", session.Email).Err(err).Msg("refresh rejected, session deleted")
		if errors.Is(err, errors.ErrRefreshFailed) {
			return nil, err
		}
		return nil, errors.Wrapf(errors.ErrRefreshFailed, "[Service Refresh] %v", err)
	}

	expiresAt := s.nowTime().Add(time.Duration(set.ExpiresIn) * time.Second)
	newID, err := s.sessions.Update(ctx, sessionID, func(sess *sessions.Session) {
		sess.AccessToken = set.AccessToken
		if set.RefreshToken != "" {
			sess.RefreshToken = set.RefreshToken
		}
		sess.ExpiresAt = expiresAt
	})
	if err != nil {
		if errors.Is(err, errors.ErrSessionNotFound) {
			return nil, errors.Wrapf(errors.ErrUnauthorized, "[Service Refresh] session removed during refresh")
		}
		return nil, fmt.Errorf("[Service Refresh] failed to update session: %w", err)
	}
	return &RefreshResult{SessionID: newID, ExpiresIn: set.ExpiresIn}, nil
}

// Logout removes the session. Unknown and empty ids are not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("[Service Logout] %w", err)
	}
	return nil
}
