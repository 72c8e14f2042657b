package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jrsteele09/go-login-relay/internal/errors"
)

var _ Repo = (*BlobRepo)(nil)

// blobClaims is the signed payload of a stateless session id.
type blobClaims struct {
	Session Session `json:"session"`
	jwt.RegisteredClaims
}

// DefaultRevocationTTL is how long a deleted blob id stays rejected.
const DefaultRevocationTTL = 24 * time.Hour

// BlobRepo keeps no session state: the session id handed to the client is an HS256-signed token
// that carries the session itself. Only ids signed with the relay's secret are accepted.
// Deleted ids are remembered in-process for the revocation TTL, so revocation does not survive a
// restart and is not shared between replicas.
type BlobRepo struct {
	secret  []byte
	nowTime func() time.Time
	revoked *ttlcache.Cache[string, struct{}]
}

// BlobRepoOption defines a function type to modify the BlobRepo.
type BlobRepoOption func(*BlobRepo)

// WithRevocationTTL sets how long deleted ids are rejected.
func WithRevocationTTL(ttl time.Duration) BlobRepoOption {
	return func(r *BlobRepo) {
		if ttl > 0 {
			r.revoked = newRevocationCache(ttl)
		}
	}
}

// NewBlobRepo creates a stateless repository signing with secret.
func NewBlobRepo(secret string, options ...BlobRepoOption) (*BlobRepo, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("[NewBlobRepo] secret must be at least 16 bytes")
	}
	r := &BlobRepo{
		secret:  []byte(secret),
		nowTime: time.Now,
		revoked: newRevocationCache(DefaultRevocationTTL),
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

func newRevocationCache(ttl time.Duration) *ttlcache.Cache[string, struct{}] {
	return ttlcache.New(
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
}

// Create implements Repo.
func (r *BlobRepo) Create(_ context.Context, session Session) (string, error) {
	return r.encode(session)
}

// Get implements Repo.
func (r *BlobRepo) Get(_ context.Context, sessionID string) (Session, error) {
	claims, err := r.parse(sessionID)
	if err != nil {
		return Session{}, errors.Wrapf(errors.ErrSessionNotFound, "[BlobRepo Get] %v", err)
	}
	if r.revoked.Get(claims.ID) != nil {
		return Session{}, errors.Wrapf(errors.ErrSessionNotFound, "[BlobRepo Get] session was deleted")
	}
	return claims.Session, nil
}

// Update implements Repo. The returned id is a new token; the old one stays valid
// until the client discards it.
func (r *BlobRepo) Update(ctx context.Context, sessionID string, patch Patch) (string, error) {
	session, err := r.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	patch(&session)
	return r.encode(session)
}

// Delete implements Repo. Ids that do not verify are ignored.
func (r *BlobRepo) Delete(_ context.Context, sessionID string) error {
	claims, err := r.parse(sessionID)
	if err != nil {
		return nil
	}
	r.revoked.DeleteExpired()
	r.revoked.Set(claims.ID, struct{}{}, ttlcache.DefaultTTL)
	return nil
}

func (r *BlobRepo) parse(sessionID string) (*blobClaims, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("empty session id")
	}
	claims := &blobClaims{}
	_, err := jwt.ParseWithClaims(sessionID, claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// Expiry belongs to the gateway, which must tell an expired session from a forged one.
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (r *BlobRepo) encode(session Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, blobClaims{
		Session: session,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(r.nowTime()),
		},
	})
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("[BlobRepo encode] failed to sign session: %w", err)
	}
	return signed, nil
}
