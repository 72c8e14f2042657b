package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-login-relay/internal/config"
	"github.com/jrsteele09/go-login-relay/internal/errors"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes caps how much of a provider page is read.
const maxBodyBytes = 2 << 20

// StepResponse is what the login flow needs from one provider round trip.
type StepResponse struct {
	StatusCode int
	Location   string   // raw Location header, empty when the response is not a redirect
	Body       []byte   // response body, truncated at maxBodyBytes
	URL        *url.URL // URL the request was sent to
}

// IsRedirect reports whether the response points somewhere else.
func (r *StepResponse) IsRedirect() bool {
	return r.Location != ""
}

// StepClient issues single provider requests carrying a login attempt's cookie jar.
type StepClient struct {
	http    *http.Client
	baseURL *url.URL
	nowTime func() time.Time
}

// StepClientOption defines a function type to modify the StepClient.
type StepClientOption func(*StepClient)

// WithHTTPClient replaces the client used for provider calls. Its redirect policy must not follow.
func WithHTTPClient(c *http.Client) StepClientOption {
	return func(sc *StepClient) {
		sc.http = c
	}
}

// WithNowTime sets the clock used to evaluate cookie expiry (primarily for testing)
func WithNowTime(nowFunc func() time.Time) StepClientOption {
	return func(sc *StepClient) {
		sc.nowTime = nowFunc
	}
}

// NewStepClient creates a client rooted at the provider's base URL.
func NewStepClient(cfg config.ProviderConfig, options ...StepClientOption) (*StepClient, error) {
	base, err := url.Parse(cfg.GetProviderBaseURL())
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("[NewStepClient] invalid provider base URL %q", cfg.GetProviderBaseURL())
	}

	sc := &StepClient{
		http:    NewHTTPClient(cfg.GetUserAgent(), cfg.GetClientID(), cfg.GetRequestTimeout(), nil),
		baseURL: base,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(sc)
	}
	return sc, nil
}

// BaseURL returns the provider origin.
func (c *StepClient) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Resolve turns a Location value into an absolute URL. Relative values resolve against from,
// or against the provider origin when from is nil.
func (c *StepClient) Resolve(location string, from *url.URL) (string, error) {
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("[StepClient Resolve] invalid location %q: %w", location, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if from == nil {
		from = c.baseURL
	}
	return from.ResolveReference(ref).String(), nil
}

// Get fetches target (absolute or provider-relative) with the jar's cookies.
func (c *StepClient) Get(ctx context.Context, target string, jar *CookieJar) (*StepResponse, error) {
	return c.do(ctx, http.MethodGet, target, nil, jar)
}

// PostForm posts a form-encoded body to target with the jar's cookies.
func (c *StepClient) PostForm(ctx context.Context, target string, form url.Values, jar *CookieJar) (*StepResponse, error) {
	return c.do(ctx, http.MethodPost, target, form, jar)
}

func (c *StepClient) do(ctx context.Context, method, target string, form url.Values, jar *CookieJar) (*StepResponse, error) {
	absolute, err := c.Resolve(target, nil)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, absolute, body)
	if err != nil {
		return nil, fmt.Errorf("[StepClient %s] failed to build request: %w", method, err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if jar != nil && jar.Len() > 0 {
		req.Header.Set("Cookie", jar.Header())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUpstreamUnavailable, "[StepClient %s] %s: %v", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUpstreamUnavailable, "[StepClient %s] reading %s: %v", method, req.URL.Path, err)
	}
	if jar != nil {
		jar.Merge(resp, c.nowTime())
	}

	log.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Bool("redirect", resp.Header.Get("Location") != "").
		Msg("provider step")

	return &StepResponse{
		StatusCode: resp.StatusCode,
		Location:   resp.Header.Get("Location"),
		Body:       data,
		URL:        req.URL,
	}, nil
}
