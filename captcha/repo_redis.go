package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ Repo = (*RedisRepo)(nil)

// RedisRepo shares suspended logins between relay instances. Expiry is delegated to Redis and
// GETDEL makes the take atomic across instances.
type RedisRepo struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	nowTime func() time.Time
}

// NewRedisRepo creates a Redis-backed repo. prefix namespaces the keys.
func NewRedisRepo(client *redis.Client, prefix string, ttl time.Duration) *RedisRepo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRepo{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		timeout: 2 * time.Second,
		nowTime: time.Now,
	}
}

func (r *RedisRepo) redisKey(state string) string {
	return fmt.Sprintf("%s:captcha:%s", r.prefix, state)
}

// Put implements Repo.
func (r *RedisRepo) Put(challenge Challenge) error {
	if challenge.State == "" {
		return errors.New("state cannot be empty")
	}
	challenge.Timestamp = r.nowTime()
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Set(ctx, r.redisKey(challenge.State), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store challenge in Redis: %w", err)
	}
	return nil
}

// TakeIfFresh implements Repo.
func (r *RedisRepo) TakeIfFresh(state string) (*Challenge, bool) {
	if state == "" {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	data, err := r.client.GetDel(ctx, r.redisKey(state)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Err(err).Msg("failed to take captcha challenge from Redis")
		}
		return nil, false
	}

	var challenge Challenge
	if err := json.Unmarshal(data, &challenge); err != nil {
		log.Err(err).Msg("failed to decode captcha challenge")
		return nil, false
	}
	if r.nowTime().Sub(challenge.Timestamp) > r.ttl {
		return nil, false
	}
	return &challenge, true
}
