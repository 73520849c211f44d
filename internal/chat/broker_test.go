package chat

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type redisInstance struct {
	presence *Presence
	router   *RedisRouter
}

func newRedisClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	return client
}

func newRedisInstance(t *testing.T, mr *miniredis.Miniredis) redisInstance {
	t.Helper()
	presence := NewPresence(4)
	local := NewLocalRouter(presence, slog.Default())
	return redisInstance{
		presence: presence,
		router:   NewRedisRouter(newRedisClient(t, mr), "dm-test", local, slog.Default()),
	}
}

func (i redisInstance) start(t *testing.T) {
	t.Helper()
	require.NoError(t, i.router.Subscribe(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		i.router.Listen(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRedisRouter_Delivers_Across_Instances(t *testing.T) {
	mr := miniredis.RunT(t)
	sender := newRedisInstance(t, mr)
	receiver := newRedisInstance(t, mr)
	sender.start(t)
	receiver.start(t)

	a, b := newFakeConn(), newFakeConn()
	sender.presence.Register("A", a)
	receiver.presence.Register("B", b)

	msg := persisted("A", "B", "hi")
	sender.router.Route(context.Background(), msg)

	require.Eventually(t, func() bool {
		return len(a.received()) == 1 && len(b.received()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	require.True(t, msg.CreatedAt.Equal(b.received()[0].CreatedAt))
	require.Equal(t, msg.Body, b.received()[0].Body)
	require.Equal(t, msg.ID, a.received()[0].ID)
}

func TestRedisRouter_Publish_Failure_Delivers_Locally(t *testing.T) {
	mr := miniredis.RunT(t)
	instance := newRedisInstance(t, mr)
	instance.start(t)
	b := newFakeConn()
	instance.presence.Register("B", b)

	mr.SetError("ERR server unavailable")
	instance.router.Route(context.Background(), persisted("A", "B", "hi"))

	require.Len(t, b.received(), 1)
}

func TestRedisRouter_Failed_Subscribe_Delivers_Locally(t *testing.T) {
	req := require.New(t)
	mr := miniredis.RunT(t)
	instance := newRedisInstance(t, mr)
	b := newFakeConn()
	instance.presence.Register("B", b)

	mr.SetError("ERR server unavailable")
	req.Error(instance.router.Subscribe(context.Background()))
	mr.SetError("")

	// Publishing would now succeed, but nobody here consumes the channel.
	instance.router.Route(context.Background(), persisted("A", "B", "hi"))
	req.Len(b.received(), 1)
}

func TestRedisRouter_Falls_Back_After_Listen_Stops(t *testing.T) {
	mr := miniredis.RunT(t)
	instance := newRedisInstance(t, mr)
	require.NoError(t, instance.router.Subscribe(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	instance.router.Listen(ctx)

	b := newFakeConn()
	instance.presence.Register("B", b)
	instance.router.Route(context.Background(), persisted("A", "B", "hi"))
	require.Len(t, b.received(), 1)
}
