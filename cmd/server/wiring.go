package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-login-relay/auth"
	"github.com/jrsteele09/go-login-relay/captcha"
	"github.com/jrsteele09/go-login-relay/internal/config"
	"github.com/jrsteele09/go-login-relay/login"
	"github.com/jrsteele09/go-login-relay/provider"
	"github.com/jrsteele09/go-login-relay/server"
	"github.com/jrsteele09/go-login-relay/sessions"
	"github.com/jrsteele09/go-login-relay/tokens"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type application struct {
	handler http.Handler
	closers []func() error
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("shutdown cleanup failed")
		}
	}
}

// build wires the relay from configuration: provider transport, stores, login flow and HTTP server.
func build(ctx context.Context, c config.Config) (*application, error) {
	app := &application{}
	httpClient := provider.NewHTTPClient(c.GetUserAgent(), c.GetClientID(), c.GetRequestTimeout(), nil)

	var redisClient *redis.Client
	if c.GetSessionStore() == config.SessionStoreRedis || c.GetCaptchaStore() == config.CaptchaStoreRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("[build] redis ping %s: %w", c.GetRedisAddr(), err)
		}
		app.closers = append(app.closers, redisClient.Close)
	}

	var captchas captcha.Repo
	switch c.GetCaptchaStore() {
	case config.CaptchaStoreRedis:
		captchas = captcha.NewRedisRepo(redisClient, c.GetRedisPrefix(), c.GetCaptchaTTL())
	default:
		ttlRepo := captcha.NewTTLRepo(c.GetCaptchaTTL())
		app.closers = append(app.closers, ttlRepo.Close)
		captchas = ttlRepo
	}

	sessionRepo, err := newSessionRepo(c, redisClient)
	if err != nil {
		return nil, err
	}

	var tokenOpts []tokens.ClientOption
	if c.GetVerifyIDToken() {
		oidcProvider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), c.GetIssuerURL())
		if err != nil {
			return nil, fmt.Errorf("[build] oidc discovery: %w", err)
		}
		tokenOpts = append(tokenOpts, tokens.WithVerifier(oidcProvider.Verifier(&oidc.Config{ClientID: c.GetClientID()})))
	}
	tokenClient := tokens.NewClient(c, httpClient, tokenOpts...)

	steps, err := provider.NewStepClient(c, provider.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	flow, err := login.NewFlow(c, steps, tokenClient, captchas)
	if err != nil {
		return nil, err
	}
	authService, err := auth.NewService(flow, tokenClient, sessionRepo)
	if err != nil {
		return nil, err
	}
	gateway := auth.NewGateway(sessionRepo, c.GetExpiryBuffer())

	srv, err := server.New(c, authService, gateway)
	if err != nil {
		return nil, err
	}
	app.handler = srv
	return app, nil
}

func newSessionRepo(c config.Config, redisClient *redis.Client) (sessions.Repo, error) {
	switch c.GetSessionStore() {
	case config.SessionStoreFile:
		path := c.GetSessionFile()
		if !filepath.IsAbs(path) {
			path = filepath.Join(c.GetDataFolder(), path)
		}
		var opts []sessions.FileRepoOption
		if key := c.GetSessionFileKey(); key != "" {
			opts = append(opts, sessions.WithEncryptionKey(key))
		}
		opts = append(opts, sessions.WithReloadMinLifetime(c.GetReloadMinLifetime()))
		repo, err := sessions.NewFileRepo(path, opts...)
		if err != nil {
			return nil, err
		}
		if err := repo.LoadFromDisk(); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("persisted sessions could not be loaded, starting empty")
		}
		log.Info().Str("path", path).Int("sessions", repo.Len()).Msg("file session store ready")
		return repo, nil
	case config.SessionStoreBlob:
		return sessions.NewBlobRepo(c.GetBlobSecret())
	case config.SessionStoreRedis:
		return sessions.NewRedisRepo(redisClient, c.GetRedisPrefix()), nil
	default:
		return sessions.NewInMemoryRepo(), nil
	}
}
