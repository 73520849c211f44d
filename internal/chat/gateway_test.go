package chat

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type gatewayFixture struct {
	store    *BadgerStore
	presence *Presence
	router   *LocalRouter
	gateway  *Gateway
}

func newGatewayFixture(t *testing.T) gatewayFixture {
	store := newTestBadgerStore(t)
	presence := NewPresence(4)
	router := NewLocalRouter(presence, slog.Default())
	return gatewayFixture{
		store:    store,
		presence: presence,
		router:   router,
		gateway:  NewGateway(store, presence, router, slog.Default(), testGatewayConfig()),
	}
}

func (f gatewayFixture) bound(t *testing.T, userID string) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := f.gateway.OnConnect(conn, "")
	require.NoError(t, f.gateway.OnBind(s, userID))
	return s, conn
}

func TestGateway_Live_Scenario(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	ctx := context.Background()
	sa, a := f.bound(t, "A")
	_, b := f.bound(t, "B")

	msg, err := f.gateway.OnOutgoingMessage(ctx, sa, SendMessagePayload{SenderID: "A", ReceiverID: "B", Message: "hi"})
	req.NoError(err)
	req.NotZero(msg.ID)
	req.False(msg.CreatedAt.IsZero())
	req.Equal("A", msg.SenderID)
	req.Equal("B", msg.ReceiverID)
	req.Equal("hi", msg.Body)

	req.Equal([]Message{msg}, b.received())
	req.Equal([]Message{msg}, a.received())

	stored, err := f.store.QueryBetween(ctx, "A", "B")
	req.NoError(err)
	req.Equal([]Message{msg}, stored)
}

func TestGateway_Offline_Receiver_Then_History(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	ctx := context.Background()
	sa, _ := f.bound(t, "A")

	msg, err := f.gateway.OnOutgoingMessage(ctx, sa, SendMessagePayload{ReceiverID: "B", Message: "are you there?"})
	req.NoError(err)

	// B comes online later and reads history.
	sb, b := f.bound(t, "B")
	req.Equal(StateBound, sb.State())
	req.Empty(b.received())

	history := NewHistoryService(f.store, nil, slog.Default())
	msgs, err := history.Conversation(ctx, "B", "A")
	req.NoError(err)
	req.Len(msgs, 1)
	req.Equal(msg.ID, msgs[0].ID)
}

func TestGateway_Nobody_Live_Still_Persists(t *testing.T) {
	f := newGatewayFixture(t)
	msg, err := f.gateway.Send(context.Background(), "A", "B", "hello")
	require.NoError(t, err)

	msgs, err := f.store.QueryBetween(context.Background(), "A", "B")
	require.NoError(t, err)
	require.Equal(t, []Message{msg}, msgs)
}

func TestGateway_Unbound_Send_Rejected(t *testing.T) {
	req := require.New(t)
	store := newTestBadgerStore(t)
	router := &recordingRouter{}
	gw := NewGateway(store, NewPresence(4), router, slog.Default(), testGatewayConfig())
	s := gw.OnConnect(newFakeConn(), "")

	_, err := gw.OnOutgoingMessage(context.Background(), s, SendMessagePayload{ReceiverID: "B", Message: "hi"})
	req.ErrorIs(err, ErrUnbound)
	req.Zero(router.count())

	msgs, err := store.QueryAllFor(context.Background(), "B")
	req.NoError(err)
	req.Empty(msgs)
}

func TestGateway_Persistence_Failure_Not_Routed(t *testing.T) {
	req := require.New(t)
	router := &recordingRouter{}
	presence := NewPresence(4)
	gw := NewGateway(failingStore{}, presence, router, slog.Default(), testGatewayConfig())
	s := gw.OnConnect(newFakeConn(), "")
	req.NoError(gw.OnBind(s, "A"))

	_, err := gw.OnOutgoingMessage(context.Background(), s, SendMessagePayload{ReceiverID: "B", Message: "hi"})
	req.ErrorIs(err, ErrPersistence)
	req.Equal("persistence_failure", errorCode(err))
	req.Zero(router.count())
}

func TestGateway_Sender_Mismatch_Forbidden(t *testing.T) {
	f := newGatewayFixture(t)
	sa, _ := f.bound(t, "A")

	_, err := f.gateway.OnOutgoingMessage(context.Background(), sa, SendMessagePayload{SenderID: "mallory", ReceiverID: "B", Message: "hi"})
	require.ErrorIs(t, err, ErrForbiddenBinding)
}

func TestGateway_Invalid_Payload(t *testing.T) {
	f := newGatewayFixture(t)
	sa, _ := f.bound(t, "A")
	ctx := context.Background()

	_, err := f.gateway.OnOutgoingMessage(ctx, sa, SendMessagePayload{ReceiverID: "B"})
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = f.gateway.OnOutgoingMessage(ctx, sa, SendMessagePayload{Message: "hi"})
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = f.gateway.Send(ctx, "A", "B", strings.Repeat("x", 1001))
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestGateway_Authenticated_Binding(t *testing.T) {
	f := newGatewayFixture(t)
	s := f.gateway.OnConnect(newFakeConn(), "A")

	require.ErrorIs(t, f.gateway.OnBind(s, "B"), ErrForbiddenBinding)
	require.Equal(t, StateConnected, s.State())

	require.NoError(t, f.gateway.OnBind(s, "A"))
	require.Equal(t, "A", s.UserID())
}

func TestGateway_Rebind_Moves_Registration(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	s, conn := f.bound(t, "A")

	req.NoError(f.gateway.OnBind(s, "B"))
	req.Empty(f.presence.LiveConnectionsFor("A"))
	req.Equal([]Conn{conn}, f.presence.LiveConnectionsFor("B"))

	// Binding again to the current identity changes nothing.
	req.NoError(f.gateway.OnBind(s, "B"))
	req.Len(f.presence.LiveConnectionsFor("B"), 1)
}

func TestGateway_Disconnect_Idempotent(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	s, _ := f.bound(t, "A")

	f.gateway.OnDisconnect(s)
	f.gateway.OnDisconnect(s)

	req.Equal(StateClosed, s.State())
	req.Empty(f.presence.LiveConnectionsFor("A"))
	req.ErrorIs(f.gateway.OnBind(s, "A"), ErrSessionClosed)

	_, err := f.gateway.OnOutgoingMessage(context.Background(), s, SendMessagePayload{ReceiverID: "B", Message: "late"})
	req.ErrorIs(err, ErrSessionClosed)
}

func TestGateway_Disconnect_Unbound_Is_NoOp(t *testing.T) {
	f := newGatewayFixture(t)
	s := f.gateway.OnConnect(newFakeConn(), "")

	f.gateway.OnDisconnect(s)

	require.Equal(t, StateClosed, s.State())
	require.Equal(t, 0, f.presence.Online())
}

func TestGateway_Send_Survives_Cancelled_Caller(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	_, b := f.bound(t, "B")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg, err := f.gateway.Send(ctx, "A", "B", "sent as the socket dropped")
	req.NoError(err)
	req.Equal([]Message{msg}, b.received())
}

func TestGateway_Per_Sender_Order(t *testing.T) {
	req := require.New(t)
	f := newGatewayFixture(t)
	sa, _ := f.bound(t, "A")
	_, b := f.bound(t, "B")
	ctx := context.Background()

	var bodies []string
	for _, body := range []string{"one", "two", "three", "four"} {
		_, err := f.gateway.OnOutgoingMessage(ctx, sa, SendMessagePayload{ReceiverID: "B", Message: body})
		req.NoError(err)
		bodies = append(bodies, body)
	}

	var got []string
	for _, m := range b.received() {
		got = append(got, m.Body)
	}
	req.Equal(bodies, got)
}
