package tenant

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisSource(t *testing.T) (*RedisSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSourceWithClient(client), mr
}

func TestRedisSourcePutAndLookup(t *testing.T) {
	src, mr := newTestRedisSource(t)
	ctx := context.Background()

	require.NoError(t, src.Put(ctx, Descriptor{Code: "MUN", Name: "Model UN", DatabaseURL: "memory://mun"}))
	assert.True(t, mr.Exists("tenant:MUN"))

	desc, err := src.Lookup(ctx, "MUN")
	require.NoError(t, err)
	assert.Equal(t, "MUN", desc.Code)
	assert.Equal(t, "Model UN", desc.Name)
	assert.Equal(t, "memory://mun", desc.DatabaseURL)
}

func TestRedisSourceMissingKeyIsNotFound(t *testing.T) {
	src, _ := newTestRedisSource(t)
	_, err := src.Lookup(context.Background(), "NONE")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestRedisSourceMalformedJSONIsNotFound(t *testing.T) {
	src, mr := newTestRedisSource(t)
	require.NoError(t, mr.Set("tenant:BAD", "{not json"))
	_, err := src.Lookup(context.Background(), "BAD")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestRedisSourceDownIsUnavailable(t *testing.T) {
	src, mr := newTestRedisSource(t)
	mr.Close()
	_, err := src.Lookup(context.Background(), "MUN")
	assert.ErrorIs(t, err, ErrTenantUnavailable)
}

func TestRedisSourcePutValidates(t *testing.T) {
	src, _ := newTestRedisSource(t)
	ctx := context.Background()
	assert.ErrorIs(t, src.Put(ctx, Descriptor{Code: "bad code", DatabaseURL: "memory://x"}), ErrInvalidCode)
	assert.ErrorIs(t, src.Put(ctx, Descriptor{Code: "OK"}), ErrTenantNotFound)
}
