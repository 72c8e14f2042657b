package config

import "time"

type SecurityConfig interface {
	GetExpiryBuffer() time.Duration
	GetCaptchaTTL() time.Duration
	GetReloadMinLifetime() time.Duration
	GetBlobSecret() string
	GetSessionFileKey() string
}

type Security struct {
	ExpiryBuffer      time.Duration `env:"SESSION_EXPIRY_BUFFER" env-default:"60s"`
	CaptchaTTL        time.Duration `env:"CAPTCHA_TTL" env-default:"5m"`
	ReloadMinLifetime time.Duration `env:"SESSION_RELOAD_MIN_LIFETIME" env-default:"5m"`
	BlobSecret        string        `env:"SESSION_BLOB_SECRET"`
	FileKey           string        `env:"SESSION_FILE_KEY"`
}

var _ SecurityConfig = Security{}

// GetExpiryBuffer is how long before expiresAt a session is already reported as expired.
func (s Security) GetExpiryBuffer() time.Duration {
	return durationOrDefault(s.ExpiryBuffer, 60*time.Second)
}

func (s Security) GetCaptchaTTL() time.Duration {
	return durationOrDefault(s.CaptchaTTL, 5*time.Minute)
}

// GetReloadMinLifetime is the remaining lifetime a refresh-less session needs to survive a reload from disk.
func (s Security) GetReloadMinLifetime() time.Duration {
	return durationOrDefault(s.ReloadMinLifetime, 5*time.Minute)
}

func (s Security) GetBlobSecret() string {
	return s.BlobSecret
}

func (s Security) GetSessionFileKey() string {
	return s.FileKey
}
