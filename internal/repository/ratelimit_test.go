package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewRedisRateLimiter(client)
	ctx := context.Background()
	require.NoError(t, rl.Ping(ctx))

	for i := 0; i < 3; i++ {
		ok, err := rl.CheckRateLimit(ctx, "sess-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i+1)
	}
	ok, err := rl.CheckRateLimit(ctx, "sess-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.CheckRateLimit(ctx, "sess-2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	assert.True(t, mr.TTL("reservas:acquire:sess-1") > 0)
	mr.FastForward(time.Minute)

	ok, err = rl.CheckRateLimit(ctx, "sess-1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "window reset")
}

func TestRedisRateLimiter_Down(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err := NewRedisRateLimiter(client).CheckRateLimit(context.Background(), "sess-1", 3, time.Minute)
	assert.Error(t, err)
}

func TestMemoryRateLimiter(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	rl := NewMemoryRateLimiter()
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := rl.CheckRateLimit(ctx, "k", 2, time.Minute)
	assert.True(t, ok)
	ok, _ = rl.CheckRateLimit(ctx, "k", 2, time.Minute)
	assert.True(t, ok)
	ok, _ = rl.CheckRateLimit(ctx, "k", 2, time.Minute)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	ok, _ = rl.CheckRateLimit(ctx, "k", 2, time.Minute)
	assert.True(t, ok)
}
