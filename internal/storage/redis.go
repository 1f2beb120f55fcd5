package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotConfigured = errors.New("redis is not configured")

type RedisClient struct {
	client *redis.Client
}

type RedisOptions struct {
	URL      string // redis:// or rediss://, wins over Addr
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Builds a client without dialing; go-redis connects lazily
func NewRedis(opts RedisOptions) (*RedisClient, error) {
	var ro *redis.Options

	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		ro = parsed
		if ro.Password == "" {
			ro.Password = opts.Password
		}
	} else {
		if opts.Addr == "" {
			return nil, ErrNotConfigured
		}
		ro = &redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}
	}

	if opts.PoolSize > 0 {
		ro.PoolSize = opts.PoolSize
	}
	ro.DialTimeout = 2 * time.Second
	ro.ReadTimeout = time.Second
	ro.WriteTimeout = time.Second
	ro.PoolTimeout = time.Second
	ro.ConnMaxIdleTime = 5 * time.Minute
	// Deadlines on the caller's context bound reads and writes
	ro.ContextTimeoutEnabled = true

	return &RedisClient{client: redis.NewClient(ro)}, nil
}

// Wraps an existing client, mainly for tests
func NewRedisFromClient(c *redis.Client) *RedisClient {
	return &RedisClient{client: c}
}

// IsConfigured is safe on a nil receiver so callers can hold an optional client.
func (r *RedisClient) IsConfigured() bool {
	return r != nil && r.client != nil
}

func (r *RedisClient) Ping(ctx context.Context) error {
	if !r.IsConfigured() {
		return ErrNotConfigured
	}
	return r.client.Ping(ctx).Err()
}

func (r *RedisClient) Close() error {
	if !r.IsConfigured() {
		return nil
	}
	return r.client.Close()
}

// Runs a Lua script, loading it on first use (EVALSHA falling back to EVAL)
func (r *RedisClient) Run(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	if !r.IsConfigured() {
		return nil, ErrNotConfigured
	}
	return script.Run(ctx, r.client, keys, args...).Result()
}

func (r *RedisClient) TxPipeline() redis.Pipeliner {
	return r.client.TxPipeline()
}
