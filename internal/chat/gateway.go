package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

type SessionState int

const (
	StateConnected SessionState = iota
	StateBound
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the gateway's view of one live connection.
type Session struct {
	conn Conn
	// principal is the authenticated user behind the transport, empty when
	// joins are not authenticated.
	principal string

	mu     sync.Mutex
	state  SessionState
	userID string
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the bound identity, empty until a join succeeds.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

type GatewayConfig struct {
	AppendTimeout    time.Duration
	MaxMessageLength int
}

// Gateway ties live sessions to the store, the presence registry and the router.
type Gateway struct {
	store    MessageStore
	presence *Presence
	router   Router
	validate *validator.Validate
	log      *slog.Logger
	cfg      GatewayConfig
}

func NewGateway(store MessageStore, presence *Presence, router Router, log *slog.Logger, cfg GatewayConfig) *Gateway {
	return &Gateway{
		store:    store,
		presence: presence,
		router:   router,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
		cfg:      cfg,
	}
}

// OnConnect starts tracking a connection. principal is the authenticated
// user id, or empty if the transport carried no credential.
func (g *Gateway) OnConnect(conn Conn, principal string) *Session {
	g.log.Debug("Session connected", "conn_id", conn.ID(), "principal", principal)
	return &Session{conn: conn, principal: principal, state: StateConnected}
}

// OnBind associates the session with userID and registers it for routing.
// Re-binding to another identity drops the previous registration first.
func (g *Gateway) OnBind(s *Session, userID string) error {
	if err := g.validate.Var(userID, "required,max=128"); err != nil {
		return fmt.Errorf("%w: user id: %w", ErrInvalidMessage, err)
	}
	if s.principal != "" && userID != s.principal {
		return ErrForbiddenBinding
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateClosed:
		return ErrSessionClosed
	case s.state == StateBound && s.userID == userID:
		return nil
	case s.state == StateBound:
		g.presence.Deregister(s.userID, s.conn)
		g.log.Debug("Session rebinding", "conn_id", s.conn.ID(), "from", s.userID, "to", userID)
	}
	g.presence.Register(userID, s.conn)
	s.userID = userID
	s.state = StateBound
	g.log.Info("Session bound", "conn_id", s.conn.ID(), "user_id", userID)
	return nil
}

// OnOutgoingMessage sends a message on behalf of the session's bound user.
func (g *Gateway) OnOutgoingMessage(ctx context.Context, s *Session, payload SendMessagePayload) (Message, error) {
	s.mu.Lock()
	state, senderID := s.state, s.userID
	s.mu.Unlock()

	switch state {
	case StateClosed:
		return Message{}, ErrSessionClosed
	case StateConnected:
		return Message{}, ErrUnbound
	}
	if payload.SenderID != "" && payload.SenderID != senderID {
		return Message{}, ErrForbiddenBinding
	}
	if err := g.validate.Struct(payload); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return g.Send(ctx, senderID, payload.ReceiverID, payload.Message)
}

// Send persists a message and then routes it. It is shared by the live
// channel and the request/response send path.
//
// Neither the append nor the routing observes cancellation of ctx: a sender
// disconnecting mid-send does not abandon an already accepted message.
func (g *Gateway) Send(ctx context.Context, senderID, receiverID, body string) (Message, error) {
	if err := g.validate.Var(receiverID, "required,max=128"); err != nil {
		return Message{}, fmt.Errorf("%w: receiver: %w", ErrInvalidMessage, err)
	}
	if err := g.validate.Var(body, fmt.Sprintf("required,max=%d", g.cfg.MaxMessageLength)); err != nil {
		return Message{}, fmt.Errorf("%w: body: %w", ErrInvalidMessage, err)
	}

	ctx = context.WithoutCancel(ctx)
	appendCtx, cancel := ctx, context.CancelFunc(func() {})
	if g.cfg.AppendTimeout > 0 {
		appendCtx, cancel = context.WithTimeout(ctx, g.cfg.AppendTimeout)
	}
	msg, err := g.store.Append(appendCtx, Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
	})
	cancel()
	if err != nil {
		if !errors.Is(err, ErrPersistence) {
			err = fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		g.log.Error("Append message", "sender_id", senderID, "receiver_id", receiverID, "error", err)
		return Message{}, err
	}

	g.router.Route(ctx, msg)
	return msg, nil
}

// OnDisconnect deregisters the session. Safe to call more than once and on
// sessions that never bound.
func (g *Gateway) OnDisconnect(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	if s.state == StateBound {
		g.presence.Deregister(s.userID, s.conn)
	}
	s.state = StateClosed
	g.log.Debug("Session closed", "conn_id", s.conn.ID(), "user_id", s.userID)
}
