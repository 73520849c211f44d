package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// RedisRouter spreads routing across server instances: every persisted
// message is published once, and each instance's subscriber hands it to its
// own LocalRouter.
//
// Until Subscribe succeeds, and after Listen stops, Route delivers locally.
type RedisRouter struct {
	redis   *redis.Client
	channel string
	local   *LocalRouter
	log     *slog.Logger

	pubsub    *redis.PubSub
	incoming  <-chan *redis.Message
	listening atomic.Bool
}

func NewRedisRouter(redisClient *redis.Client, channel string, local *LocalRouter, log *slog.Logger) *RedisRouter {
	return &RedisRouter{redis: redisClient, channel: channel, local: local, log: log}
}

// Route publishes msg. If Redis is unreachable, or nothing on this instance
// is consuming the channel, the message still reaches the sessions held here.
func (r *RedisRouter) Route(ctx context.Context, msg Message) {
	if !r.listening.Load() {
		r.log.Debug("Redis subscriber not running, routing locally", "message_id", msg.ID)
		r.local.Route(ctx, msg)
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("Encode routed message", "message_id", msg.ID, "error", err)
		return
	}
	if err := r.redis.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.log.Warn("Redis publish failed, routing locally", "message_id", msg.ID, "error", err)
		r.local.Route(ctx, msg)
	}
}

// Subscribe joins the channel and waits for the server to confirm it.
// Messages published after it returns are buffered until Listen runs.
func (r *RedisRouter) Subscribe(ctx context.Context) error {
	if r.pubsub != nil {
		return errors.New("redis router already subscribed")
	}

	pubsub := r.redis.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}
	r.pubsub = pubsub
	r.incoming = pubsub.Channel()
	r.listening.Store(true)
	r.log.Info("Subscribed to Redis", "channel", r.channel)
	return nil
}

// Listen hands messages routed by any instance, including this one, to the
// local router. It returns when ctx is done or the subscription is closed.
func (r *RedisRouter) Listen(ctx context.Context) {
	if r.pubsub == nil {
		r.log.Error("Redis listen without subscription")
		return
	}
	defer func() {
		r.listening.Store(false)
		r.pubsub.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-r.incoming:
			if !ok {
				r.log.Warn("Redis subscription closed, routing locally from now on")
				return
			}
			msg, err := decodeRouted(payload.Payload)
			if err != nil {
				r.log.Warn("Dropping malformed routed message", "error", err)
				continue
			}
			r.local.Route(ctx, msg)
		}
	}
}

func decodeRouted(payload string) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
