package chat

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Conn is a live connection handle as seen by the registry and the router.
// The registry never owns it: whoever opened the connection must Deregister
// it on every close path.
type Conn interface {
	// ID is the opaque session token. It is stable for the life of the connection.
	ID() string
	Push(ctx context.Context, msg Message) error
}

// Presence maps a user identity to its live connections.
//
// Users are spread over independently locked shards so that connects,
// disconnects and route lookups for different users do not contend.
type Presence struct {
	shards []*presenceShard
}

type presenceShard struct {
	mu    sync.RWMutex
	users map[string]map[string]Conn
}

func NewPresence(shards int) *Presence {
	if shards <= 0 {
		shards = 1
	}
	p := &Presence{shards: make([]*presenceShard, shards)}
	for i := range p.shards {
		p.shards[i] = &presenceShard{users: make(map[string]map[string]Conn)}
	}
	return p
}

func (p *Presence) shard(userID string) *presenceShard {
	return p.shards[xxhash.Sum64String(userID)%uint64(len(p.shards))]
}

// Register adds conn to the user's set. Registering the same handle twice is a no-op.
func (p *Presence) Register(userID string, conn Conn) {
	s := p.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.users[userID]
	if !ok {
		conns = make(map[string]Conn)
		s.users[userID] = conns
	}
	conns[conn.ID()] = conn
}

// Deregister removes conn from the user's set and prunes the entry when it
// becomes empty. Unknown users or handles are ignored.
func (p *Presence) Deregister(userID string, conn Conn) {
	s := p.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	conns, ok := s.users[userID]
	if !ok {
		return
	}
	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(s.users, userID)
	}
}

// LiveConnectionsFor returns a snapshot of the user's handles, empty when offline.
func (p *Presence) LiveConnectionsFor(userID string) []Conn {
	s := p.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := s.users[userID]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Online reports the number of users with at least one live connection.
func (p *Presence) Online() int {
	n := 0
	for _, s := range p.shards {
		s.mu.RLock()
		n += len(s.users)
		s.mu.RUnlock()
	}
	return n
}
