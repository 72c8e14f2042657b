package login

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/jrsteele09/go-login-relay/internal/errors"
	"github.com/jrsteele09/go-login-relay/provider"
	"github.com/rs/zerolog/log"
)

// DefaultMaxRedirects bounds how many redirects are chased after the password step.
const DefaultMaxRedirects = 10

// codePattern picks the code out of custom-scheme redirect URIs that url.Parse rejects.
var codePattern = regexp.MustCompile(`[?&#]code=([^&#]+)`)

// ExtractCode returns the authorization code carried by a redirect location.
func ExtractCode(location string) (string, bool) {
	if !strings.Contains(location, "code=") {
		return "", false
	}
	if u, err := url.Parse(location); err == nil {
		if code := u.Query().Get("code"); code != "" {
			return code, true
		}
		if fragment, err := url.ParseQuery(u.Fragment); err == nil {
			if code := fragment.Get("code"); code != "" {
				return code, true
			}
		}
	}

	m := codePattern.FindStringSubmatch(location)
	if m == nil {
		return "", false
	}
	code, err := url.QueryUnescape(m[1])
	if err != nil {
		code = m[1]
	}
	return code, code != ""
}

// redirectError returns the provider's error description when a redirect reports a failure.
func redirectError(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Get("error") == "" {
		return ""
	}
	if desc := q.Get("error_description"); desc != "" {
		return q.Get("error") + ": " + desc
	}
	return q.Get("error")
}

// chaseCode follows resp's redirect chain, at most maxHops requests, until a Location carries
// an authorization code.
func (f *Flow) chaseCode(ctx context.Context, resp *provider.StepResponse, jar *provider.CookieJar) (string, error) {
	for hop := 0; hop < f.maxRedirects; hop++ {
		if !resp.IsRedirect() {
			return "", errors.Wrapf(errors.ErrAuthorizationCodeNotObtained, "[login chaseCode] hop %d answered %d without a location", hop, resp.StatusCode)
		}
		if code, ok := ExtractCode(resp.Location); ok {
			log.Debug().Int("hops", hop).Msg("authorization code obtained")
			return code, nil
		}
		if desc := redirectError(resp.Location); desc != "" {
			return "", errors.Wrapf(errors.ErrAuthorizationCodeNotObtained, "[login chaseCode] provider reported %q", desc)
		}

		next, err := f.steps.Resolve(resp.Location, resp.URL)
		if err != nil {
			return "", errors.Wrapf(errors.ErrAuthorizationCodeNotObtained, "[login chaseCode] %v", err)
		}
		if resp, err = f.steps.Get(ctx, next, jar); err != nil {
			return "", err
		}
	}
	return "", errors.Wrapf(errors.ErrAuthorizationCodeNotObtained, "[login chaseCode] gave up after %d redirects", f.maxRedirects)
}
