package config

const (
	SessionStoreMemory = "memory"
	SessionStoreFile   = "file"
	SessionStoreBlob   = "blob"
	SessionStoreRedis  = "redis"

	CaptchaStoreMemory = "memory"
	CaptchaStoreRedis  = "redis"
)

type StorageConfig interface {
	GetSessionStore() string
	GetSessionFile() string
	GetCaptchaStore() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

type Storage struct {
	SessionStore  string `env:"SESSION_STORE" env-default:"memory"`
	SessionFile   string `env:"SESSION_FILE" env-default:"sessions.json"`
	CaptchaStore  string `env:"CAPTCHA_STORE" env-default:"memory"`
	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" env-default:"login-relay"`
}

var _ StorageConfig = Storage{}

func (s Storage) GetSessionStore() string {
	return s.SessionStore
}

// GetSessionFile returns the session file path. A relative path is joined to the data folder by the caller.
func (s Storage) GetSessionFile() string {
	return s.SessionFile
}

func (s Storage) GetCaptchaStore() string {
	return s.CaptchaStore
}

func (s Storage) GetRedisAddr() string {
	return s.RedisAddr
}

func (s Storage) GetRedisPassword() string {
	return s.RedisPassword
}

func (s Storage) GetRedisDB() int {
	return s.RedisDB
}

func (s Storage) GetRedisPrefix() string {
	return s.RedisPrefix
}
