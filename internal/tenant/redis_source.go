package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSource reads tenant descriptors stored as JSON under tenant:<code>.
type RedisSource struct {
	client *redis.Client
	prefix string
}

// NewRedisSource connects to redisURL and verifies the connection.
func NewRedisSource(redisURL string) (*RedisSource, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisSourceWithClient(client), nil
}

// NewRedisSourceWithClient creates a source from an existing Redis client
func NewRedisSourceWithClient(client *redis.Client) *RedisSource {
	return &RedisSource{
		client: client,
		prefix: "tenant:",
	}
}

func (s *RedisSource) key(code string) string {
	return s.prefix + code
}

// Lookup distinguishes a missing key (ErrTenantNotFound) from Redis being
// unreachable (ErrTenantUnavailable).
func (s *RedisSource) Lookup(ctx context.Context, code string) (Descriptor, error) {
	raw, err := s.client.Get(ctx, s.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrTenantNotFound, code)
	}
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: lookup %s: %v", ErrTenantUnavailable, code, err)
	}

	var desc Descriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return Descriptor{}, fmt.Errorf("%w: decode %s: %v", ErrTenantNotFound, code, err)
	}
	desc.Code = code
	return desc, nil
}

// Put registers or replaces a descriptor.
func (s *RedisSource) Put(ctx context.Context, desc Descriptor) error {
	if !ValidCode(desc.Code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, desc.Code)
	}
	if err := desc.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	if err := s.client.Set(ctx, s.key(desc.Code), payload, 0).Err(); err != nil {
		return fmt.Errorf("save descriptor: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisSource) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
