// Package redis holds the optional shared cache behind auth tokens and
// session snapshots. Every method is safe on a nil *Client, which is what
// NewRedisClient hands back when redis is switched off in config.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"travelbot/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 6379
	pingTimeout = 3 * time.Second
)

// ErrCacheMiss is what Get returns for an absent key.
var ErrCacheMiss = redis.Nil

// ErrDisabled is returned by data calls on a nil Client.
var ErrDisabled = errors.New("redis cache disabled")

type Client struct {
	inner *redis.Client
}

// NewRedisClient dials the configured server and pings it once. With redis
// disabled it returns (nil, nil).
func NewRedisClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	inner := redis.NewClient(clientOptions(cfg.Redis))
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := inner.Ping(ctx).Err(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{inner: inner}, nil
}

func clientOptions(rc config.RedisConfig) *redis.Options {
	host := rc.Host
	if host == "" {
		host = defaultHost
	}
	port := rc.Port
	if port == 0 {
		port = defaultPort
	}
	return &redis.Options{
		Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		Username: rc.Username,
		Password: rc.Password,
		DB:       rc.DB,
	}
}

func (c *Client) enabled() bool {
	return c != nil && c.inner != nil
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.enabled() {
		return ErrDisabled
	}
	return c.inner.Set(ctx, key, value, ttl).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if !c.enabled() {
		return "", ErrDisabled
	}
	return c.inner.Get(ctx, key).Result()
}

// Del is a no-op for an empty key list.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if !c.enabled() {
		return ErrDisabled
	}
	if len(keys) == 0 {
		return nil
	}
	return c.inner.Del(ctx, keys...).Err()
}

// Publish fans an invalidation out to the other server processes.
func (c *Client) Publish(ctx context.Context, channel string, payload interface{}) error {
	if !c.enabled() {
		return ErrDisabled
	}
	return c.inner.Publish(ctx, channel, payload).Err()
}

// Subscribe waits for the server to confirm the subscription before
// returning. Closing the PubSub is up to the caller.
func (c *Client) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	if !c.enabled() {
		return nil, ErrDisabled
	}
	pubsub := c.inner.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return pubsub, nil
}

func (c *Client) Close() error {
	if !c.enabled() {
		return nil
	}
	return c.inner.Close()
}

// Raw is for tests that need to inspect or flush the keyspace.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.inner
}
