package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Must be less than pongWait.
	maxMessageSize = 64 * 1024           // Maximum frame size allowed from peer.
)

// Client is a middleman between the websocket connection and the gateway.
// It is the Conn handle registered in Presence.
type Client struct {
	id      string
	conn    *websocket.Conn
	gateway *Gateway
	session *Session
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	// Buffered channel of outbound frames, drained by WritePump.
	send chan []byte
}

func NewClient(conn *websocket.Conn, gateway *Gateway, log *slog.Logger, buffer int) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		conn:    conn,
		gateway: gateway,
		log:     log.With("conn_id", id),
		send:    make(chan []byte, buffer),
	}
}

func (c *Client) ID() string { return c.id }

// Push queues a receive_message frame. It never waits on the network.
func (c *Client) Push(_ context.Context, msg Message) error {
	frame, err := encodeEnvelope(EventReceiveMessage, msg)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: connection closed", ErrDeliveryMiss)
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", ErrDeliveryMiss)
	}
}

func (c *Client) reply(event string, data any) {
	frame, err := encodeEnvelope(event, data)
	if err != nil {
		c.log.Error("Encode reply", "event", event, "error", err)
		return
	}
	if err := c.enqueue(frame); err != nil {
		c.log.Debug("Reply dropped", "event", event, "error", err)
	}
}

func (c *Client) replyError(err error) {
	c.reply(EventError, ErrorPayload{Code: errorCode(err), Message: err.Error()})
}

// shutdown stops WritePump. Pushes racing with it become delivery misses.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads frames until the connection fails, handling each event in
// order. It always deregisters the session on the way out.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.gateway.OnDisconnect(c.session)
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Websocket read", "error", err)
			}
			return
		}
		c.handle(ctx, raw)
	}
}

func (c *Client) handle(ctx context.Context, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.replyError(fmt.Errorf("%w: %w", ErrInvalidMessage, err))
		return
	}

	switch env.Event {
	case EventJoin:
		var userID string
		if err := json.Unmarshal(env.Data, &userID); err != nil {
			c.replyError(fmt.Errorf("%w: join expects a user id string", ErrInvalidMessage))
			return
		}
		if err := c.gateway.OnBind(c.session, userID); err != nil {
			c.replyError(err)
			return
		}
		c.reply(EventJoined, JoinedPayload{UserID: userID})

	case EventSendMessage:
		var payload SendMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.replyError(fmt.Errorf("%w: %w", ErrInvalidMessage, err))
			return
		}
		if _, err := c.gateway.OnOutgoingMessage(ctx, c.session, payload); err != nil {
			c.replyError(err)
		}

	default:
		c.reply(EventError, ErrorPayload{Code: "unknown_event", Message: fmt.Sprintf("unknown event %q", env.Event)})
	}
}

// WritePump pumps queued frames to the websocket connection and keeps it alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One frame per websocket message; clients parse each as a single envelope.
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
