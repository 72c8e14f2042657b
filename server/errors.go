package server

import (
	"net/http"

	"github.com/jrsteele09/go-login-relay/internal/errors"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error        string `json:"error"`
	NeedsRefresh bool   `json:"needsRefresh,omitempty"`
}

type errorMapping struct {
	target  error
	status  int
	message string
}

// Checked in order, the first match wins.
var errorMappings = []errorMapping{
	{errors.ErrInvalidRequest, http.StatusBadRequest, "Email and password are required"},
	{errors.ErrUpstreamUnavailable, http.StatusBadGateway, "Identity provider unavailable"},
	{errors.ErrInvalidEmail, http.StatusUnauthorized, "Invalid email address"},
	{errors.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
	{errors.ErrCaptchaExtractionFailed, http.StatusUnauthorized, "CAPTCHA could not be loaded, please try again"},
	{errors.ErrAuthorizationCodeNotObtained, http.StatusUnauthorized, "Login did not complete, please try again"},
	{errors.ErrTokenExchangeFailed, http.StatusUnauthorized, "Token exchange failed"},
	{errors.ErrTokenExpired, http.StatusUnauthorized, "Token expired"},
	{errors.ErrRefreshFailed, http.StatusUnauthorized, "Token refresh failed, please log in again"},
	{errors.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{errors.ErrSessionNotFound, http.StatusUnauthorized, "Unauthorized"},
}

// statusFor maps a domain error to its HTTP status and client-facing body.
func statusFor(err error) (int, errorResponse) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, errorResponse{
				Error:        m.message,
				NeedsRefresh: m.target == errors.ErrTokenExpired,
			}
		}
	}
	return http.StatusInternalServerError, errorResponse{Error: "Internal server error"}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	event := log.Info()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeJSON(w, status, body)
}
