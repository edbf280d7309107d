package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelbot/internal/config"
)

func TestDisabledClientIsNil(t *testing.T) {
	client, err := NewRedisClient(&config.Config{})
	require.NoError(t, err)
	assert.Nil(t, client)

	ctx := context.Background()
	assert.ErrorIs(t, client.Set(ctx, "k", "v", time.Second), ErrDisabled)
	_, err = client.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrDisabled)
	assert.ErrorIs(t, client.Publish(ctx, "c", "m"), ErrDisabled)
	assert.NoError(t, client.Close())
	assert.Nil(t, client.Raw())
}

func TestClientOptionsDefaults(t *testing.T) {
	opts := clientOptions(config.RedisConfig{})
	assert.Equal(t, "127.0.0.1:6379", opts.Addr)

	opts = clientOptions(config.RedisConfig{Host: "cache", Port: 7000, DB: 2, Password: "pw"})
	assert.Equal(t, "cache:7000", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, "pw", opts.Password)
}

func TestNilConfig(t *testing.T) {
	_, err := NewRedisClient(nil)
	assert.Error(t, err)
}

func TestLiveSetGetDel(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := NewRedisClient(&config.Config{Redis: config.RedisConfig{Enabled: true, Host: host, Port: port}})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "travelbot:test", "v", time.Minute))
	got, err := client.Get(ctx, "travelbot:test")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	require.NoError(t, client.Del(ctx, "travelbot:test"))
	_, err = client.Get(ctx, "travelbot:test")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
