package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-login-relay/internal/errors"
	"github.com/redis/go-redis/v9"
)

var _ Repo = (*RedisRepo)(nil)

// RedisRepo stores sessions as JSON values so several relay instances can share them.
// Refreshable sessions never expire in Redis; others expire shortly after their access token.
type RedisRepo struct {
	client  *redis.Client
	prefix  string
	grace   time.Duration
	nowTime func() time.Time
}

// NewRedisRepo creates a new [RedisRepo] instance
func NewRedisRepo(client *redis.Client, prefix string) *RedisRepo {
	return &RedisRepo{
		client:  client,
		prefix:  prefix,
		grace:   time.Minute,
		nowTime: time.Now,
	}
}

// redisKey returns the Redis key for a given session id
func (r *RedisRepo) redisKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, sessionID)
}

func (r *RedisRepo) ttl(s Session) time.Duration {
	if s.CanRefresh() {
		return 0
	}
	ttl := s.ExpiresAt.Sub(r.nowTime()) + r.grace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (r *RedisRepo) put(ctx context.Context, sessionID string, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.redisKey(sessionID), data, r.ttl(s)).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}
	return nil
}

// Create implements Repo.
func (r *RedisRepo) Create(ctx context.Context, session Session) (string, error) {
	id := uuid.NewString()
	if err := r.put(ctx, id, session); err != nil {
		return "", fmt.Errorf("[RedisRepo Create] %w", err)
	}
	return id, nil
}

// Get implements Repo.
func (r *RedisRepo) Get(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, errors.ErrSessionNotFound
	}
	data, err := r.client.Get(ctx, r.redisKey(sessionID)).Bytes()
	if err == redis.Nil {
		return Session{}, errors.ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("[RedisRepo Get] failed to get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("[RedisRepo Get] failed to decode session: %w", err)
	}
	return s, nil
}

// Update implements Repo. Concurrent updates of the same session are last-writer-wins.
func (r *RedisRepo) Update(ctx context.Context, sessionID string, patch Patch) (string, error) {
	s, err := r.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	patch(&s)
	if err := r.put(ctx, sessionID, s); err != nil {
		return "", fmt.Errorf("[RedisRepo Update] %w", err)
	}
	return sessionID, nil
}

// Delete implements Repo.
func (r *RedisRepo) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.redisKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("[RedisRepo Delete] failed to delete session: %w", err)
	}
	return nil
}
