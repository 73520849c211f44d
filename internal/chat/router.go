package chat

import (
	"context"
	"log/slog"

	"github.com/samber/lo"
)

// Router pushes an already persisted message to live sessions.
// It never reports failure: a missed push is recovered through history.
type Router interface {
	Route(ctx context.Context, msg Message)
}

// Delivery summarises one fan-out.
type Delivery struct {
	Targets int
	Misses  int
}

// LocalRouter fans out to the sessions registered in this process.
//
// Conn.Push only enqueues onto the connection's own outbound queue; the
// transport write happens on that connection's writer goroutine. A slow peer
// therefore fills its own queue and misses, without holding up other handles,
// and successive messages reach each handle in Route call order.
type LocalRouter struct {
	presence *Presence
	log      *slog.Logger
}

func NewLocalRouter(presence *Presence, log *slog.Logger) *LocalRouter {
	return &LocalRouter{presence: presence, log: log}
}

func (r *LocalRouter) Route(ctx context.Context, msg Message) {
	r.Deliver(ctx, msg)
}

// Deliver pushes msg to the union of the sender's and receiver's handles,
// each handle at most once.
func (r *LocalRouter) Deliver(ctx context.Context, msg Message) Delivery {
	targets := r.presence.LiveConnectionsFor(msg.SenderID)
	if msg.ReceiverID != msg.SenderID {
		targets = append(targets, r.presence.LiveConnectionsFor(msg.ReceiverID)...)
	}
	targets = lo.UniqBy(targets, func(c Conn) string { return c.ID() })

	delivery := Delivery{Targets: len(targets)}
	if len(targets) == 0 {
		r.log.Debug("No live session for message", "message_id", msg.ID)
		return delivery
	}

	ctx = context.WithoutCancel(ctx)
	for _, conn := range targets {
		if err := conn.Push(ctx, msg); err != nil {
			delivery.Misses++
			r.log.Info("Delivery miss", "message_id", msg.ID, "conn_id", conn.ID(), "error", err)
		}
	}
	r.log.Debug("Message routed",
		"message_id", msg.ID,
		"targets", delivery.Targets,
		"misses", delivery.Misses,
	)
	return delivery
}
