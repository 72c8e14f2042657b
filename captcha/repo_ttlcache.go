package captcha

import (
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultTTL is how long a suspended login can be resumed.
const DefaultTTL = 5 * time.Minute

var _ Repo = (*TTLRepo)(nil)

// TTLRepo is an in-process Repo backed by ttlcache; its background loop sweeps stale entries.
type TTLRepo struct {
	ttl     time.Duration
	cache   *ttlcache.Cache[string, Challenge]
	nowTime func() time.Time
}

// TTLRepoOption defines a function type to modify the TTLRepo.
type TTLRepoOption func(*TTLRepo)

// WithNowTime sets the clock that stamps and ages challenges (primarily for testing)
func WithNowTime(nowFunc func() time.Time) TTLRepoOption {
	return func(r *TTLRepo) {
		r.nowTime = nowFunc
	}
}

// NewTTLRepo creates the repo and starts its sweep loop. Call Close to stop it.
func NewTTLRepo(ttl time.Duration, options ...TTLRepoOption) *TTLRepo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &TTLRepo{
		ttl: ttl,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, Challenge](ttl),
			ttlcache.WithDisableTouchOnHit[string, Challenge](),
		),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(r)
	}

	go r.cache.Start()

	return r
}

// Put implements Repo.
func (r *TTLRepo) Put(challenge Challenge) error {
	if challenge.State == "" {
		return errors.New("state cannot be empty")
	}
	challenge.Timestamp = r.nowTime()
	r.cache.Set(challenge.State, challenge, r.ttl)
	return nil
}

// TakeIfFresh implements Repo.
func (r *TTLRepo) TakeIfFresh(state string) (*Challenge, bool) {
	if state == "" {
		return nil, false
	}
	item, ok := r.cache.GetAndDelete(state)
	if !ok || item == nil {
		return nil, false
	}
	challenge := item.Value()
	if r.nowTime().Sub(challenge.Timestamp) > r.ttl {
		return nil, false
	}
	return &challenge, true
}

// Len is the number of challenges currently held, stale ones included until the next sweep.
func (r *TTLRepo) Len() int {
	return r.cache.Len()
}

// Sweep drops stale challenges immediately.
func (r *TTLRepo) Sweep() {
	r.cache.DeleteExpired()
}

// Close stops the sweep loop.
func (r *TTLRepo) Close() error {
	r.cache.Stop()
	return nil
}
