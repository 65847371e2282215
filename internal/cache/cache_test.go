package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemoryClient_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	// returned slices are copies
	got[0] = 'x'
	again, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), again)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	_, err := c.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_ZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(10)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	now = now.Add(365 * 24 * time.Hour)

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryClient_EvictsExpiringBeforePersistent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(2)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "forever", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "hour", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "new", []byte("3"), time.Hour))

	_, err := c.Get(ctx, "forever")
	assert.NoError(t, err)
	_, err = c.Get(ctx, "hour")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_Eviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient(2)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "new", []byte("3"), time.Hour))

	assert.Equal(t, 2, c.Len())
	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "long")
	assert.NoError(t, err)

	// overwriting an existing key does not evict
	require.NoError(t, c.Set(ctx, "long", []byte("4"), time.Hour))
	assert.Equal(t, 2, c.Len())
}

func TestMemoryClient_CloseIdempotent(t *testing.T) {
	c := NewMemoryClient(0)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "frag:abc:gpt-4o", CacheKey("frag", "abc", "gpt-4o"))
}

func TestRedisClient_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	if !isDockerAvailable() {
		t.Skip("docker is not available")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := NewRedisClient(ctx, RedisConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port()), Prefix: "test:"})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "frag", []byte(`{"fragment":"<section class=\"page\"></section>"}`), time.Minute))
	got, err := c.Get(ctx, "frag")
	require.NoError(t, err)
	assert.Contains(t, string(got), "fragment")

	require.NoError(t, c.Delete(ctx, "frag"))
	_, err = c.Get(ctx, "frag")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisClient(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

// isDockerAvailable checks if Docker is available for testing.
func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.Client().Ping(ctx)
	return err == nil
}
