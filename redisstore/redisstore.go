// Package redisstore provides a redis session storage implementation.
//
// Records expire through redis TTLs, so no cleanup loop is needed. Keys
// are namespaced with a prefix, "session:" unless WithPrefix says
// otherwise, so the store can share a database with other data.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/bluescreen10/captchax/session"
	"github.com/redis/go-redis/v9"
)

var _ session.Store = &RedisStore{}

// RedisStore is a redis backed storage for session data.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type config func(*RedisStore)

// WithPrefix sets the key prefix. (default "session:")
func WithPrefix(prefix string) config {
	return config(func(s *RedisStore) {
		s.prefix = prefix
	})
}

// New creates and returns a new RedisStore instance.
func New(rdb redis.UniversalClient, cfgs ...config) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "session:"}
	for _, cfg := range cfgs {
		cfg(s)
	}
	return s
}

// Get retrieves the data associated with the given token. Returns
// the data, a boolean indicating whether the token was found and
// not expired, and an error.
func (s *RedisStore) Get(ctx context.Context, token string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, s.prefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []byte{}, false, nil
		}
		return []byte{}, false, err
	}

	return data, true, nil
}

// Set stores the data under the given token with an expiration time. If
// a record with the same token already exists, it is overwritten. A
// record whose expiration already passed is deleted instead.
func (s *RedisStore) Set(ctx context.Context, token string, data []byte, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return s.Delete(ctx, token)
	}
	return s.rdb.Set(ctx, s.prefix+token, data, ttl).Err()
}

// Delete removes the data associated with the given token. If the token
// does not exist, this is a no-op.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, s.prefix+token).Err()
}
