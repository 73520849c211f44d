package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	got  []Message
	fail error
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.NewString()}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Push(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.got = append(c.got, msg)
	return nil
}

func (c *fakeConn) received() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.got...)
}

// failingStore refuses every write.
type failingStore struct {
	MessageStore
}

func (failingStore) Append(context.Context, Message) (Message, error) {
	return Message{}, errors.New("disk on fire")
}

// recordingRouter remembers what it was asked to route.
type recordingRouter struct {
	mu     sync.Mutex
	routed []Message
}

func (r *recordingRouter) Route(_ context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed = append(r.routed, msg)
}

func (r *recordingRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.routed)
}

func newTestBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	store, err := NewBadgerStore(db, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
		db.Close()
	})
	return store
}

func testGatewayConfig() GatewayConfig {
	return GatewayConfig{AppendTimeout: time.Second, MaxMessageLength: 1000}
}
