package storage_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/healthgate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis_RequiresAddress(t *testing.T) {
	_, err := storage.NewRedis(storage.RedisOptions{})
	assert.ErrorIs(t, err, storage.ErrNotConfigured)

	_, err = storage.NewRedis(storage.RedisOptions{URL: "http://not-redis"})
	assert.Error(t, err)
}

func TestNewRedis_PingsByURLAndAddr(t *testing.T) {
	mr := miniredis.RunT(t)

	byAddr, err := storage.NewRedis(storage.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	defer byAddr.Close()
	assert.NoError(t, byAddr.Ping(context.Background()))

	byURL, err := storage.NewRedis(storage.RedisOptions{URL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	defer byURL.Close()
	assert.NoError(t, byURL.Ping(context.Background()))
}

func TestRedisClient_NilIsSafe(t *testing.T) {
	var rc *storage.RedisClient

	assert.False(t, rc.IsConfigured())
	assert.ErrorIs(t, rc.Ping(context.Background()), storage.ErrNotConfigured)
	assert.NoError(t, rc.Close())
}

func TestRedisClient_HonoursContextDeadline(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	defer func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	}()

	rc, err := storage.NewRedis(storage.RedisOptions{Addr: ln.Addr().String()})
	require.NoError(t, err)
	defer rc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = rc.Ping(ctx)

	assert.Error(t, err)
	// well under the client's one second read timeout
	assert.Less(t, time.Since(start), 750*time.Millisecond)
}
