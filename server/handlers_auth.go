package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-login-relay/internal/errors"
	"github.com/jrsteele09/go-login-relay/login"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	maxBodyBytes    = 64 << 10
)

// LoginRequest is the body of POST /login. The captcha fields are only set when resuming.
type LoginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaCode  string `json:"captchaCode,omitempty"`
	CaptchaState string `json:"captchaState,omitempty"`
}

type LoginResponse struct {
	SessionID string `json:"sessionId"`
	ExpiresIn int    `json:"expiresIn"`
}

type CaptchaResponse struct {
	Error           string `json:"error"`
	CaptchaRequired bool   `json:"captchaRequired"`
	CaptchaImage    string `json:"captchaImage"`
	CaptchaState    string `json:"captchaState"`
}

// SessionRequest is the body of POST /refresh and POST /logout
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

type RefreshResponse struct {
	ExpiresIn int    `json:"expiresIn"`
	SessionID string `json:"sessionId"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// LoginHandler runs the headless login and answers with a new session, or with the CAPTCHA
// challenge the caller must solve before replaying the request.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		result, err := s.auth.Login(r.Context(), login.Credentials{
			Email:        req.Email,
			Password:     req.Password,
			CaptchaCode:  req.CaptchaCode,
			CaptchaState: req.CaptchaState,
		})
		if err != nil {
			var captchaErr *errors.CaptchaRequiredError
			if errors.As(err, &captchaErr) {
				writeJSON(w, http.StatusBadRequest, CaptchaResponse{
					Error:           "CAPTCHA verification required",
					CaptchaRequired: true,
					CaptchaImage:    captchaErr.Image,
					CaptchaState:    captchaErr.State,
				})
				return
			}
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, LoginResponse{SessionID: result.SessionID, ExpiresIn: result.ExpiresIn})
	}
}

func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SessionRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		result, err := s.auth.Refresh(r.Context(), req.SessionID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, RefreshResponse{ExpiresIn: result.ExpiresIn, SessionID: result.SessionID})
	}
}

// LogoutHandler always succeeds; an unknown or missing session id is already logged out.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SessionRequest
		_ = decodeBody(w, r, &req)

		if err := s.auth.Logout(r.Context(), req.SessionID); err != nil {
			log.Warn().Err(err).Msg("logout failed to remove session")
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	return json.NewDecoder(body).Decode(v)
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
