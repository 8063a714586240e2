package grants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jo-hoe/imagecapture/internal/provider"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "imagecapture:grant:"

// RedisStore keeps grants as keys with a TTL, so expiry is handled by Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(options Options) (*RedisStore, error) {
	if options.Address == "" {
		return nil, fmt.Errorf("redis address is required for the redis grant store")
	}
	prefix := options.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     options.Address,
		Password: options.Password,
		DB:       options.DB,
	})
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) Issue(ctx context.Context, ref provider.ImageReference, ttl time.Duration) (Grant, error) {
	if ttl <= 0 {
		return Grant{}, fmt.Errorf("grant ttl must be positive, got %v", ttl)
	}
	grant := Grant{
		Token:     newToken(),
		Ref:       ref,
		ExpiresAt: time.Now().Add(ttl),
	}
	if err := s.client.Set(ctx, s.key(grant.Token), string(ref), ttl).Err(); err != nil {
		return Grant{}, fmt.Errorf("failed to store grant: %w", err)
	}
	return grant, nil
}

func (s *RedisStore) Lookup(ctx context.Context, token string) (provider.ImageReference, error) {
	value, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return provider.Empty, ErrGrantNotFound
	}
	if err != nil {
		return provider.Empty, fmt.Errorf("failed to look up grant: %w", err)
	}
	return provider.ImageReference(value), nil
}

func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(token string) string {
	return s.prefix + token
}
