package login

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-login-relay/captcha"
	"github.com/jrsteele09/go-login-relay/internal/config"
	"github.com/jrsteele09/go-login-relay/internal/errors"
	"github.com/jrsteele09/go-login-relay/provider"
	"github.com/jrsteele09/go-login-relay/tokens"
	"github.com/rs/zerolog/log"
)

const (
	IdentifierPath = "/u/login/identifier"
	PasswordPath   = "/u/login/password"
)

// Credentials are the inputs of one login attempt. CaptchaCode and CaptchaState are set when
// resuming an attempt the provider interrupted with a CAPTCHA.
type Credentials struct {
	Email        string
	Password     string
	CaptchaCode  string
	CaptchaState string
}

// TokenClient builds the authorize URL and exchanges the resulting code.
type TokenClient interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*tokens.TokenSet, error)
}

type stage string

const (
	stageStart            stage = "START"
	stageAuthorize        stage = "AUTHORIZE"
	stageSubmitIdentifier stage = "SUBMIT_IDENTIFIER"
	stageSubmitPassword   stage = "SUBMIT_PASSWORD"
	stageFollowRedirects  stage = "FOLLOW_REDIRECTS"
	stageTokenExchange    stage = "TOKEN_EXCHANGE"
	stageDone             stage = "DONE"
)

// attempt is the working state of one run. It is never shared between runs.
type attempt struct {
	creds   Credentials
	jar     *provider.CookieJar
	state   string
	resumed bool
	last    *provider.StepResponse
	code    string
	tokens  *tokens.TokenSet
}

// Flow drives the provider's identifier-first login pages to an authorization code and
// exchanges it for tokens.
type Flow struct {
	steps        *provider.StepClient
	tokens       TokenClient
	captchas     captcha.Repo
	settleDelay  time.Duration
	maxRedirects int
	sleep        func(ctx context.Context, d time.Duration) error
	newState     func() string
}

// FlowOption defines a function type to modify the Flow.
type FlowOption func(*Flow)

// WithSleep replaces the settle-delay sleep (primarily for testing)
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) FlowOption {
	return func(f *Flow) {
		f.sleep = sleep
	}
}

// WithStateGenerator replaces the generator of the OAuth state sent to /authorize.
func WithStateGenerator(gen func() string) FlowOption {
	return func(f *Flow) {
		f.newState = gen
	}
}

// WithMaxRedirects overrides the redirect bound.
func WithMaxRedirects(n int) FlowOption {
	return func(f *Flow) {
		if n > 0 {
			f.maxRedirects = n
		}
	}
}

// NewFlow creates a login flow. The settle delay and redirect bound come from cfg.
func NewFlow(cfg config.ProviderConfig, steps *provider.StepClient, tokenClient TokenClient, captchas captcha.Repo, options ...FlowOption) (*Flow, error) {
	if steps == nil {
		return nil, fmt.Errorf("[NewFlow] step client is required")
	}
	if tokenClient == nil {
		return nil, fmt.Errorf("[NewFlow] token client is required")
	}
	if captchas == nil {
		return nil, fmt.Errorf("[NewFlow] captcha repo is required")
	}

	f := &Flow{
		steps:        steps,
		tokens:       tokenClient,
		captchas:     captchas,
		settleDelay:  cfg.GetSettleDelay(),
		maxRedirects: cfg.GetMaxRedirects(),
		sleep:        sleepContext,
		newState:     generateState,
	}
	if f.maxRedirects <= 0 {
		f.maxRedirects = DefaultMaxRedirects
	}
	for _, opt := range options {
		opt(f)
	}
	return f, nil
}

// Run performs one login attempt. A CAPTCHA interruption is returned as
// *errors.CaptchaRequiredError after the attempt has been stored for resumption.
func (f *Flow) Run(ctx context.Context, creds Credentials) (*tokens.TokenSet, error) {
	transitions := map[stage]func(context.Context, *attempt) (stage, error){
		stageStart:            f.start,
		stageAuthorize:        f.authorize,
		stageSubmitIdentifier: f.submitIdentifier,
		stageSubmitPassword:   f.submitPassword,
		stageFollowRedirects:  f.followRedirects,
		stageTokenExchange:    f.exchange,
	}

	a := &attempt{creds: creds}
	for current := stageStart; current != stageDone; {
		next, err := transitions[current](ctx, a)
		if err != nil {
			log.Debug().Str("stage", string(current)).Err(err).Msg("login attempt stopped")
			return nil, err
		}
		log.Debug().Str("from", string(current)).Str("to", string(next)).Msg("login transition")
		current = next
	}
	return a.tokens, nil
}

func (f *Flow) start(_ context.Context, a *attempt) (stage, error) {
	if a.creds.CaptchaCode != "" && a.creds.CaptchaState != "" {
		if challenge, ok := f.captchas.TakeIfFresh(a.creds.CaptchaState); ok {
			a.jar = provider.ParseCookieJar(challenge.Cookies)
			a.state = a.creds.CaptchaState
			a.resumed = true
			return stageSubmitIdentifier, nil
		}
		log.Info().Msg("no fresh captcha challenge for state, starting a new login")
	}
	a.jar = provider.NewCookieJar()
	return stageAuthorize, nil
}

func (f *Flow) authorize(ctx context.Context, a *attempt) (stage, error) {
	generated := f.newState()
	resp, err := f.steps.Get(ctx, f.tokens.AuthCodeURL(generated), a.jar)
	if err != nil {
		return "", err
	}
	if err := checkAvailable(resp, "authorize"); err != nil {
		return "", err
	}

	page := resp
	if resp.IsRedirect() {
		loginURL, err := f.steps.Resolve(resp.Location, resp.URL)
		if err != nil {
			return "", errors.Wrapf(errors.ErrUpstreamUnavailable, "[login authorize] %v", err)
		}
		if page, err = f.steps.Get(ctx, loginURL, a.jar); err != nil {
			return "", err
		}
		if err := checkAvailable(page, "login page"); err != nil {
			return "", err
		}
	}

	a.state = generated
	if state, ok := provider.FindHiddenState(page.Body); ok {
		a.state = state
	}
	return stageSubmitIdentifier, nil
}

func (f *Flow) submitIdentifier(ctx context.Context, a *attempt) (stage, error) {
	form := url.Values{
		"state":                       {a.state},
		"username":                    {a.creds.Email},
		"js-available":                {"true"},
		"webauthn-available":          {"false"},
		"is-brave":                    {"false"},
		"webauthn-platform-available": {"false"},
		"action":                      {"default"},
	}
	if a.resumed {
		form.Set("captcha", a.creds.CaptchaCode)
	}

	resp, err := f.steps.PostForm(ctx, IdentifierPath, form, a.jar)
	if err != nil {
		return "", err
	}
	if err := checkAvailable(resp, "identifier"); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusBadRequest {
		return stageSubmitPassword, nil
	}

	if !provider.HasCaptchaMarker(resp.Body) {
		return "", errors.Wrapf(errors.ErrInvalidEmail, "[login submitIdentifier] provider rejected identifier")
	}
	image, ok := provider.FindCaptchaImage(resp.Body)
	if !ok {
		return "", errors.Wrapf(errors.ErrCaptchaExtractionFailed, "[login submitIdentifier] no captcha image in page")
	}
	if !strings.HasPrefix(image, "data:") {
		if abs, err := f.steps.Resolve(image, resp.URL); err == nil {
			image = abs
		}
	}

	if err := f.captchas.Put(captcha.Challenge{
		State:   a.state,
		Cookies: a.jar.Header(),
		Email:   a.creds.Email,
	}); err != nil {
		return "", fmt.Errorf("[login submitIdentifier] failed to suspend login: %w", err)
	}
	log.Info().Str("email", a.creds.Email).Bool("resumed", a.resumed).Msg("provider requested a captcha")
	return "", &errors.CaptchaRequiredError{Image: image, State: a.state}
}

func (f *Flow) submitPassword(ctx context.Context, a *attempt) (stage, error) {
	form := url.Values{
		"state":    {a.state},
		"username": {a.creds.Email},
		"password": {a.creds.Password},
		"action":   {"default"},
	}
	resp, err := f.steps.PostForm(ctx, PasswordPath, form, a.jar)
	if err != nil {
		return "", err
	}
	if err := checkAvailable(resp, "password"); err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusBadRequest {
		return "", errors.Wrapf(errors.ErrInvalidCredentials, "[login submitPassword] provider rejected password")
	}
	a.last = resp

	if err := f.sleep(ctx, f.settleDelay); err != nil {
		return "", fmt.Errorf("[login submitPassword] settle delay interrupted: %w", err)
	}
	return stageFollowRedirects, nil
}

func (f *Flow) followRedirects(ctx context.Context, a *attempt) (stage, error) {
	code, err := f.chaseCode(ctx, a.last, a.jar)
	if err != nil {
		return "", err
	}
	a.code = code
	return stageTokenExchange, nil
}

func (f *Flow) exchange(ctx context.Context, a *attempt) (stage, error) {
	set, err := f.tokens.Exchange(ctx, a.code)
	if err != nil {
		return "", err
	}
	a.tokens = set
	return stageDone, nil
}

// checkAvailable maps provider-side failures to ErrUpstreamUnavailable.
func checkAvailable(resp *provider.StepResponse, step string) error {
	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.Wrapf(errors.ErrUpstreamUnavailable, "[login %s] provider answered %d", step, resp.StatusCode)
	}
	return nil
}

// sleepContext waits d once, returning early if ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// generateState creates a random base64url OAuth state
func generateState() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
