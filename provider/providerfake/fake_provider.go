// Package providerfake is an in-process identity provider that serves the identifier-first
// login pages, the redirect chain and the token endpoint, for exercising the login flow.
package providerfake

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

const (
	ClientID    = "fake-client"
	RedirectURI = "com.example.app:/oauth2redirect"
	LoginState  = "login-state-1"
	CaptchaPNG  = "data:image/png;base64,iVBORw0KGgo="
)

// Request is one call the fake received.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
	Cookie string
	Header http.Header
}

// Provider is the fake. Exported fields script its behaviour and may be changed between
// logins; they are read under the lock on every request.
type Provider struct {
	Server *httptest.Server

	Email    string
	Password string

	// CaptchaRounds is how many identifier posts are answered with a CAPTCHA page.
	CaptchaRounds int
	// CaptchaSolution is the code accepted on a resumed identifier post.
	CaptchaSolution string
	// CaptchaImage is the img src on the CAPTCHA page; empty renders the page without an image.
	CaptchaImage string

	// ExtraHops is the number of same-origin redirects between the password post and the code.
	ExtraHops int
	// RedirectLoop makes the resume endpoint redirect to itself forever.
	RedirectLoop bool
	// RedirectError makes the final hop report an OAuth error instead of a code.
	RedirectError string

	Code         string
	AccessToken  string
	RefreshToken string // empty omits refresh_token from token responses
	ExpiresIn    int
	IDToken      string

	// RotateRefresh makes refresh grants issue a new refresh token.
	RotateRefresh bool
	// RejectRefresh answers refresh grants with invalid_grant.
	RejectRefresh bool
	// RejectExchange answers authorization code grants with invalid_grant.
	RejectExchange bool
	// OmitAccessToken answers token grants with 200 and no access_token.
	OmitAccessToken bool
	// TokenStatus, when set, is returned by the token endpoint only.
	TokenStatus int
	// FailStatus, when set, is returned by every endpoint.
	FailStatus int

	mu        sync.Mutex
	requests  []Request
	refreshes int
}

// New starts a fake provider that is closed when the test ends.
func New(t testing.TB) *Provider {
	t.Helper()
	p := &Provider{
		Email:           "driver@example.com",
		Password:        "correct-horse",
		CaptchaSolution: "x7k2p",
		CaptchaImage:    CaptchaPNG,
		Code:            "auth-code-1",
		AccessToken:     "access-1",
		RefreshToken:    "refresh-1",
		ExpiresIn:       3600,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", p.authorize)
	mux.HandleFunc("GET /u/login/identifier", p.identifierPage)
	mux.HandleFunc("POST /u/login/identifier", p.postIdentifier)
	mux.HandleFunc("POST /u/login/password", p.postPassword)
	mux.HandleFunc("GET /authorize/resume", p.resume)
	mux.HandleFunc("POST /oauth/token", p.token)

	p.Server = httptest.NewServer(p.record(mux))
	t.Cleanup(p.Server.Close)
	return p
}

// URL is the provider origin.
func (p *Provider) URL() string {
	return p.Server.URL
}

// Requests returns the calls received so far.
func (p *Provider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// Calls counts the requests received for method and path.
func (p *Provider) Calls(method, path string) int {
	n := 0
	for _, r := range p.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

// Last returns the most recent request for method and path.
func (p *Provider) Last(method, path string) (Request, bool) {
	reqs := p.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Method == method && reqs[i].Path == path {
			return reqs[i], true
		}
	}
	return Request{}, false
}

// Set changes scripted fields under the lock.
func (p *Provider) Set(fn func(p *Provider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *Provider) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		p.mu.Lock()
		p.requests = append(p.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Form:   r.PostForm,
			Cookie: r.Header.Get("Cookie"),
			Header: r.Header.Clone(),
		})
		fail := p.FailStatus
		p.mu.Unlock()

		if fail != 0 {
			http.Error(w, "unavailable", fail)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Provider) authorize(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "did", Value: "device-1", Path: "/"})
	http.Redirect(w, r, "/u/login/identifier?state="+LoginState, http.StatusFound)
}

func (p *Provider) identifierPage(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "auth0", Value: "session-1", Path: "/"})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<html><body><form method="POST">
<input type="hidden" name="state" value="%s">
<input type="text" name="username">
</form></body></html>`, html.EscapeString(r.URL.Query().Get("state")))
}

func (p *Provider) postIdentifier(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r.PostForm.Get("state") != LoginState || !strings.Contains(r.Header.Get("Cookie"), "auth0=session-1") {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("username") != p.Email {
		w.WriteHeader(http.StatusBadRequest)
		// Real login pages load the captcha widget on every render.
		fmt.Fprint(w, `<html><head><link rel="stylesheet" href="/css/captcha.css">
<script src="/js/captcha-widget.js"></script><script>window.captchaEnabled = true;</script></head>
<body><span class="error">Enter a valid email address</span></body></html>`)
		return
	}

	solved := r.PostForm.Get("captcha") != "" && r.PostForm.Get("captcha") == p.CaptchaSolution
	if p.CaptchaRounds > 0 && !solved {
		p.CaptchaRounds--
		w.WriteHeader(http.StatusBadRequest)
		if p.CaptchaImage == "" {
			fmt.Fprint(w, `<html><body><div class="captcha-container">Solve the captcha</div></body></html>`)
			return
		}
		fmt.Fprintf(w, `<html><body><div class="captcha-container"><img alt="captcha" src="%s"></div>
<input name="captcha"></body></html>`, html.EscapeString(p.CaptchaImage))
		return
	}
	http.Redirect(w, r, "/u/login/password?state="+LoginState, http.StatusFound)
}

func (p *Provider) postPassword(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r.PostForm.Get("password") != p.Password {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `<html><body><span class="error">Wrong email or password</span></body></html>`)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "auth0", Value: "session-2", Path: "/"})
	http.Redirect(w, r, "/authorize/resume?state="+LoginState+"&hop=0", http.StatusFound)
}

func (p *Provider) resume(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.RedirectLoop {
		http.Redirect(w, r, "/authorize/resume?state="+LoginState+"&hop=0", http.StatusFound)
		return
	}
	var hop int
	fmt.Sscanf(r.URL.Query().Get("hop"), "%d", &hop)
	if hop < p.ExtraHops {
		http.Redirect(w, r, fmt.Sprintf("/authorize/resume?state=%s&hop=%d", LoginState, hop+1), http.StatusFound)
		return
	}
	if p.RedirectError != "" {
		w.Header().Set("Location", RedirectURI+"?error="+url.QueryEscape(p.RedirectError)+"&error_description=denied")
		w.WriteHeader(http.StatusFound)
		return
	}
	// Custom-scheme redirect URIs are set by hand, http.Redirect would clean them.
	w.Header().Set("Location", RedirectURI+"?code="+url.QueryEscape(p.Code)+"&state="+LoginState)
	w.WriteHeader(http.StatusFound)
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.TokenStatus != 0 {
		http.Error(w, "unavailable", p.TokenStatus)
		return
	}
	if r.PostForm.Get("client_id") != ClientID {
		writeTokenError(w, "invalid_client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if p.RejectExchange || r.PostForm.Get("code") != p.Code || r.PostForm.Get("redirect_uri") != RedirectURI {
			writeTokenError(w, "invalid_grant")
			return
		}
		p.writeTokens(w, p.AccessToken, p.RefreshToken)
	case "refresh_token":
		if p.RejectRefresh || p.RefreshToken == "" || r.PostForm.Get("refresh_token") != p.RefreshToken {
			writeTokenError(w, "invalid_grant")
			return
		}
		p.refreshes++
		access := fmt.Sprintf("%s-refreshed-%d", p.AccessToken, p.refreshes)
		refresh := ""
		if p.RotateRefresh {
			p.RefreshToken = fmt.Sprintf("refresh-rotated-%d", p.refreshes)
			refresh = p.RefreshToken
		}
		p.writeTokens(w, access, refresh)
	default:
		writeTokenError(w, "unsupported_grant_type")
	}
}

func (p *Provider) writeTokens(w http.ResponseWriter, access, refresh string) {
	body := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   p.ExpiresIn,
	}
	if refresh != "" {
		body["refresh_token"] = refresh
	}
	if p.OmitAccessToken {
		delete(body, "access_token")
	}
	if p.IDToken != "" {
		body["id_token"] = p.IDToken
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeTokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
