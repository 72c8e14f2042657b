package config

import (
	"strings"
	"time"
)

// ProviderConfig describes the identity provider whose web login is being driven.
type ProviderConfig interface {
	GetProviderBaseURL() string
	GetClientID() string
	GetRedirectURI() string
	GetScopes() []string
	GetUserAgent() string
	GetSettleDelay() time.Duration
	GetMaxRedirects() int
	GetRequestTimeout() time.Duration
	GetVerifyIDToken() bool
	GetIssuerURL() string
}

type Provider struct {
	BaseURL        string        `env:"PROVIDER_BASE_URL" env-default:"https://auth.example.com"`
	ClientID       string        `env:"PROVIDER_CLIENT_ID" env-default:"web-login-client"`
	RedirectURI    string        `env:"PROVIDER_REDIRECT_URI" env-default:"com.example.app:/oauth2redirect"`
	Scopes         []string      `env:"PROVIDER_SCOPES" env-separator:" " env-default:"openid profile email offline_access"`
	UserAgent      string        `env:"PROVIDER_USER_AGENT" env-default:"Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Mobile Safari/537.36"`
	SettleDelay    time.Duration `env:"PROVIDER_SETTLE_DELAY" env-default:"2s"`
	MaxRedirects   int           `env:"PROVIDER_MAX_REDIRECTS" env-default:"10"`
	RequestTimeout time.Duration `env:"PROVIDER_REQUEST_TIMEOUT" env-default:"30s"`
	VerifyIDToken  bool          `env:"PROVIDER_VERIFY_ID_TOKEN" env-default:"false"`
	Issuer         string        `env:"PROVIDER_ISSUER"`
}

var _ ProviderConfig = Provider{}

func (p Provider) GetProviderBaseURL() string {
	return strings.TrimRight(p.BaseURL, "/")
}

func (p Provider) GetClientID() string {
	return p.ClientID
}

func (p Provider) GetRedirectURI() string {
	return p.RedirectURI
}

func (p Provider) GetScopes() []string {
	return p.Scopes
}

func (p Provider) GetUserAgent() string {
	return p.UserAgent
}

// GetSettleDelay is how long to wait after the password step before chasing its redirect.
// The provider's resume endpoint is not immediately consistent after a password POST.
func (p Provider) GetSettleDelay() time.Duration {
	return p.SettleDelay
}

func (p Provider) GetMaxRedirects() int {
	if p.MaxRedirects <= 0 {
		return 10
	}
	return p.MaxRedirects
}

func (p Provider) GetRequestTimeout() time.Duration {
	return durationOrDefault(p.RequestTimeout, 30*time.Second)
}

func (p Provider) GetVerifyIDToken() bool {
	return p.VerifyIDToken
}

// GetIssuerURL is the OIDC issuer used for discovery. Universal Login tenants publish their
// issuer with a trailing slash, so that is the default.
func (p Provider) GetIssuerURL() string {
	if p.Issuer != "" {
		return p.Issuer
	}
	return p.GetProviderBaseURL() + "/"
}
