package login_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-login-relay/captcha"
	"github.com/jrsteele09/go-login-relay/internal/config"
	"github.com/jrsteele09/go-login-relay/internal/errors"
	"github.com/jrsteele09/go-login-relay/login"
	"github.com/jrsteele09/go-login-relay/provider"
	"github.com/jrsteele09/go-login-relay/provider/providerfake"
	"github.com/jrsteele09/go-login-relay/tokens"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "driver@example.com"
	testPassword = "correct-horse"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testFixture holds all test dependencies
type testFixture struct {
	fake     *providerfake.Provider
	captchas *captcha.TTLRepo
	clock    *fakeClock
	flow     *login.Flow
	sleeps   []time.Duration
}

func setupTestFixture(t *testing.T, opts ...login.FlowOption) *testFixture {
	t.Helper()

	f := &testFixture{
		fake:  providerfake.New(t),
		clock: &fakeClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)},
	}
	f.captchas = captcha.NewTTLRepo(captcha.DefaultTTL, captcha.WithNowTime(f.clock.Now))
	t.Cleanup(func() { _ = f.captchas.Close() })

	cfg := config.Provider{
		BaseURL:     f.fake.URL(),
		ClientID:    providerfake.ClientID,
		RedirectURI: providerfake.RedirectURI,
		Scopes:      []string{"openid", "offline_access"},
		UserAgent:   "relay-test/1.0",
		SettleDelay: 2 * time.Second,
	}
	steps, err := provider.NewStepClient(cfg)
	require.NoError(t, err)
	tokenClient := tokens.NewClient(cfg, provider.NewHTTPClient(cfg.GetUserAgent(), cfg.GetClientID(), 5*time.Second, nil))

	opts = append([]login.FlowOption{
		login.WithSleep(func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		}),
		login.WithStateGenerator(func() string { return "generated-state" }),
	}, opts...)

	f.flow, err = login.NewFlow(cfg, steps, tokenClient, f.captchas, opts...)
	require.NoError(t, err)
	return f
}

func (f *testFixture) script(fn func(p *providerfake.Provider)) {
	f.fake.Set(fn)
}

func credentials() login.Credentials {
	return login.Credentials{Email: testEmail, Password: testPassword}
}

func TestFlow_LoginWithoutCaptcha(t *testing.T) {
	f := setupTestFixture(t)

	set, err := f.flow.Run(context.Background(), credentials())
	require.NoError(t, err)
	require.Equal(t, "access-1", set.AccessToken)
	require.Equal(t, "refresh-1", set.RefreshToken)
	require.Equal(t, 3600, set.ExpiresIn)

	authorize, ok := f.fake.Last(http.MethodGet, "/authorize")
	require.True(t, ok)
	require.Equal(t, "generated-state", authorize.Query.Get("state"))
	require.Equal(t, "code", authorize.Query.Get("response_type"))
	require.Equal(t, "relay-test/1.0", authorize.Header.Get("User-Agent"))
	require.Equal(t, providerfake.ClientID, authorize.Header.Get("x-client-id"))

	identifier, ok := f.fake.Last(http.MethodPost, login.IdentifierPath)
	require.True(t, ok)
	require.Equal(t, providerfake.LoginState, identifier.Form.Get("state"), "hidden state from the login page wins")
	require.Equal(t, testEmail, identifier.Form.Get("username"))
	require.Equal(t, "true", identifier.Form.Get("js-available"))
	require.Equal(t, "false", identifier.Form.Get("webauthn-available"))
	require.Equal(t, "false", identifier.Form.Get("is-brave"))
	require.Equal(t, "false", identifier.Form.Get("webauthn-platform-available"))
	require.Equal(t, "default", identifier.Form.Get("action"))
	require.NotContains(t, identifier.Form, "captcha")
	require.Equal(t, "did=device-1; auth0=session-1", identifier.Cookie)

	password, ok := f.fake.Last(http.MethodPost, login.PasswordPath)
	require.True(t, ok)
	require.Equal(t, testPassword, password.Form.Get("password"))
	require.Equal(t, testEmail, password.Form.Get("username"))

	resume, ok := f.fake.Last(http.MethodGet, "/authorize/resume")
	require.True(t, ok)
	require.Equal(t, "did=device-1; auth0=session-2", resume.Cookie, "cookies set by the password step are threaded forward")

	require.Equal(t, []time.Duration{2 * time.Second}, f.sleeps, "one settle delay, not a polling loop")
	require.Equal(t, 0, f.captchas.Len())
}

func TestFlow_CaptchaSuspendAndResume(t *testing.T) {
	f := setupTestFixture(t)
	f.script(func(p *providerfake.Provider) { p.CaptchaRounds = 1 })

	_, err := f.flow.Run(context.Background(), credentials())
	var captchaErr *errors.CaptchaRequiredError
	require.ErrorAs(t, err, &captchaErr)
	require.ErrorIs(t, err, errors.ErrCaptchaRequired)
	require.Equal(t, providerfake.CaptchaPNG, captchaErr.Image)
	require.Equal(t, providerfake.LoginState, captchaErr.State)
	require.Equal(t, 1, f.captchas.Len())
	require.Equal(t, 0, f.fake.Calls(http.MethodPost, login.PasswordPath))

	f.clock.Advance(4 * time.Minute)
	creds := credentials()
	creds.CaptchaCode = "x7k2p"
	creds.CaptchaState = captchaErr.State

	set, err := f.flow.Run(context.Background(), creds)
	require.NoError(t, err)
	require.Equal(t, "access-1", set.AccessToken)

	require.Equal(t, 1, f.fake.Calls(http.MethodGet, "/authorize"), "resume skips authorize")
	require.Equal(t, 1, f.fake.Calls(http.MethodGet, login.IdentifierPath), "resume skips the login page")

	identifier, ok := f.fake.Last(http.MethodPost, login.IdentifierPath)
	require.True(t, ok)
	require.Equal(t, "x7k2p", identifier.Form.Get("captcha"))
	require.Equal(t, providerfake.LoginState, identifier.Form.Get("state"))
	require.Equal(t, "did=device-1; auth0=session-1", identifier.Cookie, "resume replays the stored jar")
	require.Equal(t, 0, f.captchas.Len(), "challenge is consumed")
}

func TestFlow_ChallengeIsConsumedOnce(t *testing.T) {
	f := setupTestFixture(t)
	f.script(func(p *providerfake.Provider) { p.CaptchaRounds = 1 })

	_, err := f.flow.Run(context.Background(), credentials())
	var captchaErr *errors.CaptchaRequiredError
	require.ErrorAs(t, err, &captchaErr)

	creds := credentials()
	creds.CaptchaCode = "x7k2p"
	creds.CaptchaState = captchaErr.State

	_, err = f.flow.Run(context.Background(), creds)
	require.NoError(t, err)
	require.Equal(t, 1, f.fake.Calls(http.MethodGet, "/authorize"))

	_, ok := f.captchas.TakeIfFresh(captchaErr.State)
	require.False(t, ok)

	// Replaying the same state finds nothing and starts over
	_, err = f.flow.Run(context.Background(), creds)
	require.NoError(t, err)
	require.Equal(t, 2, f.fake.Calls(http.MethodGet, "/authorize"))
}

func TestFlow_StaleCaptchaStartsFresh(t *testing.T) {
	f := setupTestFixture(t)
	f.script(func(p *providerfake.Provider) { p.CaptchaRounds = 1 })

	_, err := f.flow.Run(context.Background(), credentials())
	var captchaErr *errors.CaptchaRequiredError
	require.ErrorAs(t, err, &captchaErr)

	f.clock.Advance(captcha.DefaultTTL + time.Second)
	creds := credentials()
	creds.CaptchaCode = "x7k2p"
	creds.CaptchaState = captchaErr.State

	_, err = f.flow.Run(context.Background(), creds)
	require.NoError(t, err)
	require.Equal(t, 2, f.fake.Calls(http.MethodGet, "/authorize"))

	identifier, ok := f.fake.Last(http.MethodPost, login.IdentifierPath)
	require.True(t, ok)
	require.NotContains(t, identifier.Form, "captcha", "a fresh attempt does not send a stale code")
}

func TestFlow_WrongCaptchaIsChallengedAgain(t *testing.T) {
	f := setupTestFixture(t)
	f.script(func(p *providerfake.Provider) { p.CaptchaRounds = 2 })

	_, err := f.flow.Run(context.Background(), credentials())
	var first *errors.CaptchaRequiredError
	require.ErrorAs(t, err, &first)

	creds := credentials()
	creds.CaptchaCode = "wrong"
	creds.CaptchaState = first.State

	_, err = f.flow.Run(context.Background(), creds)
	var second *errors.CaptchaRequiredError
	require.ErrorAs(t, err, &second)
	require.Equal(t, first.State, second.State)
	require.Equal(t, 1, f.captchas.Len(), "the new challenge replaces the consumed one")
	require.Equal(t, 1, f.fake.Calls(http.MethodGet, "/authorize"))
}

func TestFlow_Failures(t *testing.T) {
	tests := []struct {
		name   string
		script func(p *providerfake.Provider)
		creds  func(c *login.Credentials)
		want   error
	}{
		{
			name:  "invalid email",
			creds: func(c *login.Credentials) { c.Email = "nobody@example.com" },
			want:  errors.ErrInvalidEmail,
		},
		{
			name:  "invalid password",
			creds: func(c *login.Credentials) { c.Password = "wrong" },
			want:  errors.ErrInvalidCredentials,
		},
		{
			name: "captcha page without image",
			script: func(p *providerfake.Provider) {
				p.CaptchaRounds = 1
				p.CaptchaImage = ""
			},
			want: errors.ErrCaptchaExtractionFailed,
		},
		{
			name:   "redirect loop",
			script: func(p *providerfake.Provider) { p.RedirectLoop = true },
			want:   errors.ErrAuthorizationCodeNotObtained,
		},
		{
			name:   "provider reports an error on redirect",
			script: func(p *providerfake.Provider) { p.RedirectError = "access_denied" },
			want:   errors.ErrAuthorizationCodeNotObtained,
		},
		{
			name:   "code rejected at exchange",
			script: func(p *providerfake.Provider) { p.RejectExchange = true },
			want:   errors.ErrTokenExchangeFailed,
		},
		{
			name:   "provider down",
			script: func(p *providerfake.Provider) { p.FailStatus = http.StatusServiceUnavailable },
			want:   errors.ErrUpstreamUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t)
			if tt.script != nil {
				f.script(tt.script)
			}
			creds := credentials()
			if tt.creds != nil {
				tt.creds(&creds)
			}

			set, err := f.flow.Run(context.Background(), creds)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, set)
			require.Equal(t, 0, f.captchas.Len(), "only a captcha interruption is stored")
		})
	}
}

func TestFlow_RedirectBound(t *testing.T) {
	t.Run("loop stops after ten requests", func(t *testing.T) {
		f := setupTestFixture(t)
		f.script(func(p *providerfake.Provider) { p.RedirectLoop = true })

		_, err := f.flow.Run(context.Background(), credentials())
		require.ErrorIs(t, err, errors.ErrAuthorizationCodeNotObtained)
		require.Equal(t, login.DefaultMaxRedirects, f.fake.Calls(http.MethodGet, "/authorize/resume"))
	})

	t.Run("code on the last inspected hop", func(t *testing.T) {
		f := setupTestFixture(t)
		f.script(func(p *providerfake.Provider) { p.ExtraHops = login.DefaultMaxRedirects - 2 })

		_, err := f.flow.Run(context.Background(), credentials())
		require.NoError(t, err)
		require.Equal(t, login.DefaultMaxRedirects-1, f.fake.Calls(http.MethodGet, "/authorize/resume"))
	})

	t.Run("one hop too many", func(t *testing.T) {
		f := setupTestFixture(t)
		f.script(func(p *providerfake.Provider) { p.ExtraHops = login.DefaultMaxRedirects - 1 })

		_, err := f.flow.Run(context.Background(), credentials())
		require.ErrorIs(t, err, errors.ErrAuthorizationCodeNotObtained)
	})

	t.Run("configurable bound", func(t *testing.T) {
		f := setupTestFixture(t, login.WithMaxRedirects(3))
		f.script(func(p *providerfake.Provider) { p.RedirectLoop = true })

		_, err := f.flow.Run(context.Background(), credentials())
		require.ErrorIs(t, err, errors.ErrAuthorizationCodeNotObtained)
		require.Equal(t, 3, f.fake.Calls(http.MethodGet, "/authorize/resume"))
	})
}

func TestFlow_SettleDelayHonoursCancellation(t *testing.T) {
	f := setupTestFixture(t, login.WithSleep(func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}))

	_, err := f.flow.Run(context.Background(), credentials())
	require.ErrorIs(t, err, context.Canceled)
}
