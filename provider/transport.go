package provider

import (
	"net/http"
	"time"
)

// headerTransport stamps the fixed identification headers the provider expects on every call.
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
	clientID  string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	if t.userAgent != "" {
		r.Header.Set("User-Agent", t.userAgent)
	}
	if t.clientID != "" {
		r.Header.Set("x-client-id", t.clientID)
	}
	return t.base.RoundTrip(r)
}

// NewHTTPClient returns a client for talking to the provider. Redirects are never followed:
// the caller inspects every Location itself.
func NewHTTPClient(userAgent, clientID string, timeout time.Duration, base http.RoundTripper) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &headerTransport{
			base:      base,
			userAgent: userAgent,
			clientID:  clientID,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
