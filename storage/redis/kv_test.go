package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	oidckit "github.com/open-rails/profilekit/oidc"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("PROFILEKIT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PROFILEKIT_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestKV_RoundTrip(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	kv := NewKV(rdb, "profilekit:test:"+t.Name()+":")
	require.NoError(t, kv.Ping(ctx))

	_, ok, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, kv.Set(ctx, "k", []byte("v"), time.Minute))
	b, ok, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", string(b))

	require.NoError(t, kv.Del(ctx, "k"))
	_, ok, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStateCache_RoundTrip(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	c := NewStateCache(rdb, "profilekit:test:"+t.Name()+":", time.Minute)

	require.NoError(t, c.Put(ctx, "st", oidckit.StateData{Provider: "google", Intent: "login"}))
	sd, ok, err := c.Get(ctx, "st")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "login", sd.Intent)

	require.NoError(t, c.Del(ctx, "st"))
	_, ok, err = c.Get(ctx, "st")
	require.NoError(t, err)
	require.False(t, ok)
}
