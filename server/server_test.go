package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-login-relay/auth"
	"github.com/jrsteele09/go-login-relay/captcha"
	"github.com/jrsteele09/go-login-relay/internal/config"
	"github.com/jrsteele09/go-login-relay/login"
	"github.com/jrsteele09/go-login-relay/provider"
	"github.com/jrsteele09/go-login-relay/provider/providerfake"
	"github.com/jrsteele09/go-login-relay/server"
	"github.com/jrsteele09/go-login-relay/sessions"
	"github.com/jrsteele09/go-login-relay/tokens"
	"github.com/stretchr/testify/require"
)

type vehicleCall struct {
	Path          string
	Authorization string
	SessionHeader string
}

// testFixture holds all test dependencies
type testFixture struct {
	fake     *providerfake.Provider
	repo     *sessions.InMemoryRepo
	relay    *httptest.Server
	vehicles chan vehicleCall
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		fake:     providerfake.New(t),
		repo:     sessions.NewInMemoryRepo(),
		vehicles: make(chan vehicleCall, 10),
	}

	vehicleAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.vehicles <- vehicleCall{
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			SessionHeader: r.Header.Get(server.HeaderSessionID),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"vin":"WVW123"}`))
	}))
	t.Cleanup(vehicleAPI.Close)

	t.Setenv("ENV", "TEST")
	t.Setenv("PROVIDER_BASE_URL", f.fake.URL())
	t.Setenv("PROVIDER_CLIENT_ID", providerfake.ClientID)
	t.Setenv("PROVIDER_REDIRECT_URI", providerfake.RedirectURI)
	t.Setenv("VEHICLE_API_URL", vehicleAPI.URL)
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")
	cfg, err := config.New()
	require.NoError(t, err)

	httpClient := provider.NewHTTPClient(cfg.GetUserAgent(), cfg.GetClientID(), 5*time.Second, nil)
	steps, err := provider.NewStepClient(cfg, provider.WithHTTPClient(httpClient))
	require.NoError(t, err)
	tokenClient := tokens.NewClient(cfg, httpClient)

	captchas := captcha.NewTTLRepo(cfg.GetCaptchaTTL())
	t.Cleanup(func() { _ = captchas.Close() })

	flow, err := login.NewFlow(cfg, steps, tokenClient, captchas, login.WithSleep(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)
	service, err := auth.NewService(flow, tokenClient, f.repo)
	require.NoError(t, err)

	srv, err := server.New(cfg, service, auth.NewGateway(f.repo, cfg.GetExpiryBuffer()))
	require.NoError(t, err)

	f.relay = httptest.NewServer(srv)
	t.Cleanup(f.relay.Close)
	return f
}

func (f *testFixture) post(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	resp, err := http.Post(f.relay.URL+path, "application/json", reader)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (f *testFixture) get(t *testing.T, path, sessionID string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.relay.URL+path, nil)
	require.NoError(t, err)
	if sessionID != "" {
		req.Header.Set(server.HeaderSessionID, sessionID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (f *testFixture) login(t *testing.T) string {
	t.Helper()
	status, body := f.post(t, server.RouteLogin, server.LoginRequest{Email: f.fake.Email, Password: f.fake.Password})
	require.Equal(t, http.StatusOK, status, body)
	return body["sessionId"].(string)
}

func TestHealth(t *testing.T) {
	f := setupTestFixture(t)
	status, body := f.get(t, server.RouteHealth, "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])
}

func TestLogin(t *testing.T) {
	f := setupTestFixture(t)

	status, body := f.post(t, server.RouteLogin, server.LoginRequest{Email: f.fake.Email, Password: f.fake.Password})
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, body["sessionId"])
	require.EqualValues(t, 3600, body["expiresIn"])
	require.Equal(t, 1, f.repo.Len())
}

func TestLogin_Errors(t *testing.T) {
	f := setupTestFixture(t)

	status, body := f.post(t, server.RouteLogin, "{not json")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid request body", body["error"])

	status, _ = f.post(t, server.RouteLogin, server.LoginRequest{Email: f.fake.Email})
	require.Equal(t, http.StatusBadRequest, status)

	status, body = f.post(t, server.RouteLogin, server.LoginRequest{Email: f.fake.Email, Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "Invalid email or password", body["error"])

	status, _ = f.post(t, server.RouteLogin, server.LoginRequest{Email: "nobody@example.com", Password: "x"})
	require.Equal(t, http.StatusUnauthorized, status)

	f.fake.Set(func(p *providerfake.Provider) { p.FailStatus = http.StatusBadGateway })
	status, _ = f.post(t, server.RouteLogin, server.LoginRequest{Email: f.fake.Email, Password: f.fake.Password})
	require.Equal(t, http.StatusBadGateway, status)

	require.Equal(t, 0, f.repo.Len())
}

func TestLogin_CaptchaRoundTrip(t *testing.T) {
	f := setupTestFixture(t)
	f.fake.Set(func(p *providerfake.Provider) { p.CaptchaRounds = 1 })

	status, body := f.post(t, server.RouteLogin, server.LoginRequest{Email: f.fake.Email, Password: f.fake.Password})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, true, body["captchaRequired"])
	require.Equal(t, providerfake.CaptchaPNG, body["captchaImage"])
	require.Equal(t, providerfake.LoginState, body["captchaState"])
	require.NotEmpty(t, body["error"])

	status, body = f.post(t, server.RouteLogin, server.LoginRequest{
		Email:        f.fake.Email,
		Password:     f.fake.Password,
		CaptchaCode:  "x7k2p",
		CaptchaState: body["captchaState"].(string),
	})
	require.Equal(t, http.StatusOK, status, body)
	require.NotEmpty(t, body["sessionId"])
	require.Equal(t, 1, f.fake.Calls(http.MethodGet, "/authorize"))
}

func TestRefresh(t *testing.T) {
	f := setupTestFixture(t)
	id := f.login(t)

	status, body := f.post(t, server.RouteRefresh, server.SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, id, body["sessionId"])
	require.EqualValues(t, 3600, body["expiresIn"])

	session, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "access-1-refreshed-1", session.AccessToken)

	status, _ = f.post(t, server.RouteRefresh, server.SessionRequest{SessionID: "missing"})
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestRefresh_RejectedDeletesSession(t *testing.T) {
	f := setupTestFixture(t)
	id := f.login(t)
	f.fake.Set(func(p *providerfake.Provider) { p.RejectRefresh = true })

	status, _ := f.post(t, server.RouteRefresh, server.SessionRequest{SessionID: id})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, 0, f.repo.Len())

	status, _ = f.get(t, server.RouteAPI+"vehicles", id)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestLogout(t *testing.T) {
	f := setupTestFixture(t)
	id := f.login(t)

	status, body := f.post(t, server.RouteLogout, server.SessionRequest{SessionID: id})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])

	status, body = f.post(t, server.RouteLogout, "{}")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])

	status, _ = f.get(t, server.RouteAPI+"vehicles", id)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestVehicleProxy(t *testing.T) {
	f := setupTestFixture(t)
	id := f.login(t)

	status, body := f.get(t, server.RouteAPI+"vehicles/WVW123", id)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "WVW123", body["vin"])

	call := <-f.vehicles
	require.Equal(t, "/vehicles/WVW123", call.Path)
	require.Equal(t, "Bearer access-1", call.Authorization)
	require.Empty(t, call.SessionHeader, "the relay session id stays in the relay")
}

func TestVehicleProxy_RequiresFreshSession(t *testing.T) {
	f := setupTestFixture(t)

	status, body := f.get(t, server.RouteAPI+"vehicles", "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Nil(t, body["needsRefresh"])

	// A token that dies inside the expiry buffer is reported as needing a refresh
	f.fake.Set(func(p *providerfake.Provider) { p.ExpiresIn = 30 })
	id := f.login(t)

	status, body = f.get(t, server.RouteAPI+"vehicles", id)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, true, body["needsRefresh"])
	require.Len(t, f.vehicles, 0)
}

func TestCorsPreflight(t *testing.T) {
	f := setupTestFixture(t)

	req, err := http.NewRequest(http.MethodOptions, f.relay.URL+server.RouteLogin, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-Session-Id")
}
