package errors

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the login relay
var (
	// Login flow errors
	ErrInvalidEmail                 = errors.New("invalid email")
	ErrCaptchaRequired              = errors.New("captcha required")
	ErrCaptchaExtractionFailed      = errors.New("captcha image could not be extracted")
	ErrInvalidCredentials           = errors.New("invalid credentials")
	ErrAuthorizationCodeNotObtained = errors.New("authorization code not obtained")
	ErrTokenExchangeFailed          = errors.New("token exchange failed")

	// Session errors
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTokenExpired    = errors.New("token expired")
	ErrRefreshFailed   = errors.New("token refresh failed")
	ErrSessionNotFound = errors.New("session not found")

	// Transport errors
	ErrUpstreamUnavailable = errors.New("identity provider unavailable")

	// General errors
	ErrInvalidRequest = errors.New("invalid request")
)

// CaptchaRequiredError is returned when the provider interrupts a login with a CAPTCHA.
// It is a control-flow branch rather than a failure: the caller resubmits the login with the
// solved code and State echoed back.
type CaptchaRequiredError struct {
	Image string // image source from the provider's page, usually a data: URI
	State string // correlation value to send back as captchaState
}

func (e *CaptchaRequiredError) Error() string {
	return ErrCaptchaRequired.Error()
}

func (e *CaptchaRequiredError) Unwrap() error {
	return ErrCaptchaRequired
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
