package remote

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj1618/portal-pilot/internal/halt"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestListener_RaisesFlag(t *testing.T) {
	_, rdb := setupRedis(t)
	flag := halt.New(time.Millisecond)
	l := NewListener(rdb, "pp:stop", flag, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Listen(ctx) }()

	require.Eventually(t, func() bool {
		n, err := Publish(context.Background(), rdb, "pp:stop", "operator")
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, flag.Requested, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestListener_IgnoresOtherChannels(t *testing.T) {
	_, rdb := setupRedis(t)
	flag := halt.New(time.Millisecond)
	l := NewListener(rdb, "pp:stop", flag, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Listen(ctx) }()

	require.Eventually(t, func() bool {
		n, _ := Publish(context.Background(), rdb, "pp:stop-other", "")
		m, _ := rdb.PubSubNumSub(context.Background(), "pp:stop").Result()
		return n == 0 && m["pp:stop"] == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, flag.Requested())

	cancel()
	assert.NoError(t, <-done)
}

func TestListener_SubscribeFailure(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()

	l := NewListener(rdb, "pp:stop", halt.New(time.Millisecond), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, l.Listen(ctx))
}

func TestPublish_NoListeners(t *testing.T) {
	_, rdb := setupRedis(t)
	n, err := Publish(context.Background(), rdb, "pp:stop", "")
	require.NoError(t, err)
	assert.Zero(t, n)
}
