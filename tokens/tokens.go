package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-login-relay/internal/config"
	"github.com/jrsteele09/go-login-relay/internal/errors"
	"golang.org/x/oauth2"
)

const (
	AuthorizePath = "/authorize"
	TokenPath     = "/oauth/token"
)

// TokenSet is the result of a code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string    // empty when the provider did not issue one
	IDToken      string    // raw id_token, if any
	Subject      string    // sub claim of a verified id_token
	ExpiresIn    int       // lifetime in seconds as declared by the provider
	ExpiresAt    time.Time // issue time + ExpiresIn
}

// IDTokenVerifier verifies a raw ID token; *oidc.IDTokenVerifier satisfies it.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// Client talks to the provider's /oauth/token endpoint.
type Client struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	verifier   IDTokenVerifier
	nowTime    func() time.Time
}

// ClientOption defines a function type to modify the Client.
type ClientOption func(*Client)

// WithVerifier enables ID token verification on code exchange.
func WithVerifier(v IDTokenVerifier) ClientOption {
	return func(c *Client) {
		c.verifier = v
	}
}

// WithNowTime sets the clock used to compute expiry (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowTime = nowFunc
	}
}

// NewClient builds an oauth2 configuration for the provider. httpClient carries the fixed
// identification headers and must not follow redirects.
func NewClient(cfg config.ProviderConfig, httpClient *http.Client, options ...ClientOption) *Client {
	base := cfg.GetProviderBaseURL()
	c := &Client{
		oauth: &oauth2.Config{
			ClientID: cfg.GetClientID(),
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + AuthorizePath,
				TokenURL:  base + TokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.GetRedirectURI(),
			Scopes:      cfg.GetScopes(),
		},
		httpClient: httpClient,
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// AuthCodeURL returns the /authorize URL for a new login attempt.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	tok, err := c.oauth.Exchange(c.clientContext(ctx), code)
	if err != nil {
		return nil, mapTokenError("[tokens Exchange]", errors.ErrTokenExchangeFailed, err)
	}

	set := c.tokenSet(tok)
	if raw, ok := tok.Extra("id_token").(string); ok {
		set.IDToken = raw
	}
	if c.verifier != nil && set.IDToken != "" {
		idToken, err := c.verifier.Verify(ctx, set.IDToken)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrTokenExchangeFailed, "[tokens Exchange] id token verification: %v", err)
		}
		set.Subject = idToken.Subject
	}
	return set, nil
}

// Refresh uses a refresh token to obtain a new access token. If the provider does not rotate
// the refresh token the returned set carries the one passed in.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, errors.Wrapf(errors.ErrRefreshFailed, "[tokens Refresh] %s", "no refresh token")
	}
	// An empty access token forces the token source to hit the endpoint.
	src := c.oauth.TokenSource(c.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapTokenError("[tokens Refresh]", errors.ErrRefreshFailed, err)
	}
	return c.tokenSet(tok), nil
}

func (c *Client) clientContext(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) tokenSet(tok *oauth2.Token) *TokenSet {
	now := c.nowTime()
	expiresIn := declaredExpiresIn(tok)
	if expiresIn <= 0 && !tok.Expiry.IsZero() {
		expiresIn = int(math.Round(tok.Expiry.Sub(now).Seconds()))
	}
	return &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
		ExpiresAt:    now.Add(time.Duration(expiresIn) * time.Second),
	}
}

// declaredExpiresIn reads expires_in from the raw response so expiry is measured from our own clock.
func declaredExpiresIn(tok *oauth2.Token) int {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// mapTokenError separates a provider rejection from a transport failure. A 5xx answer or a
// request that never completed is UpstreamUnavailable; anything the provider answered with,
// including a 2xx body without an access token, is the rejected kind.
func mapTokenError(prefix string, rejected, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		if status >= http.StatusInternalServerError {
			return errors.Wrapf(errors.ErrUpstreamUnavailable, "%s provider answered %d", prefix, status)
		}
		return fmt.Errorf("%s provider answered %d %s: %w", prefix, status, retrieveErr.ErrorCode, rejected)
	}
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return errors.Wrapf(errors.ErrUpstreamUnavailable, "%s %v", prefix, err)
	}
	return fmt.Errorf("%s %v: %w", prefix, err, rejected)
}
