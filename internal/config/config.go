package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config interface {
	EnvConfig
	CorsConfig
	ProviderConfig
	SecurityConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetLogLevel() string
	GetVehicleAPIURL() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Provider
	Security
	Storage
}

// New reads the configuration from the environment, applying defaults for anything unset.
func New() (Config, error) {
	var c mainConfig
	if err := cleanenv.ReadEnv(&c); err != nil {
		return nil, fmt.Errorf("[config New] failed to read environment: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("[config New] %w", err)
	}
	return c, nil
}

func (c mainConfig) validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("PROVIDER_BASE_URL is required")
	}
	if c.Provider.MaxRedirects <= 0 {
		return fmt.Errorf("PROVIDER_MAX_REDIRECTS must be positive")
	}
	if c.Security.ExpiryBuffer < 0 || c.Security.CaptchaTTL <= 0 {
		return fmt.Errorf("invalid session timing: buffer %s, captcha ttl %s", c.Security.ExpiryBuffer, c.Security.CaptchaTTL)
	}
	switch c.Storage.SessionStore {
	case SessionStoreMemory, SessionStoreFile, SessionStoreRedis:
	case SessionStoreBlob:
		if c.Security.BlobSecret == "" {
			return fmt.Errorf("SESSION_BLOB_SECRET is required for the blob session store")
		}
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.Storage.SessionStore)
	}
	switch c.Storage.CaptchaStore {
	case CaptchaStoreMemory, CaptchaStoreRedis:
	default:
		return fmt.Errorf("unknown CAPTCHA_STORE %q", c.Storage.CaptchaStore)
	}
	return nil
}

// durationOrDefault guards getters against zero values when a struct is built by hand in tests.
func durationOrDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}
