package session

import (
	"sync"

	"taskboard/service/auth"
)

// Sender is the outbound half of a connection's transport. The registry
// tracks membership only; writing stays with the relay.
type Sender interface {
	Send(data []byte) error
	Close() error
}

// Conn is one live client connection. Owned exclusively by the Registry
// from Register until Disconnect. ID, User and the sender are immutable
// after Register; the room set is only ever touched under the registry
// mutex, so snapshots go through Registry.RoomsOf.
type Conn struct {
	ID   string
	User auth.Identity

	sender Sender
	rooms  map[string]struct{}
}

func (c *Conn) Sender() Sender { return c.sender }

// Registry owns the connection and room membership tables. Every join/leave
// keeps the two indexes consistent: a connection's room set always matches
// the rooms that list it as a member. A single mutex guards both tables so
// per-room broadcast ordering survives a multi-goroutine runtime.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn            // connID -> conn
	rooms map[string]map[string]*Conn // boardID -> (connID -> conn)
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
		rooms: make(map[string]map[string]*Conn),
	}
}

// Register creates a connection record with an empty room set. The caller
// must have run the connection through the authentication gate first; the
// registry never sees rejected connections.
func (r *Registry) Register(connID string, user auth.Identity, sender Sender) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.conns[connID]; ok {
		return c
	}
	c := &Conn{
		ID:     connID,
		User:   user,
		sender: sender,
		rooms:  make(map[string]struct{}),
	}
	r.conns[connID] = c
	return c
}

// Join adds the connection to a board room, creating the room lazily.
// Idempotent: joining a room twice is a no-op. Unknown connections are
// ignored (the connection raced its own teardown).
func (r *Registry) Join(connID, boardID string) {
	if connID == "" || boardID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return
	}
	if _, joined := c.rooms[boardID]; joined {
		return
	}
	c.rooms[boardID] = struct{}{}
	mm := r.rooms[boardID]
	if mm == nil {
		mm = make(map[string]*Conn)
		r.rooms[boardID] = mm
	}
	mm[connID] = c
}

// Leave removes the connection from a board room and deletes the room when
// its last member leaves. Idempotent.
func (r *Registry) Leave(connID, boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID, boardID)
}

func (r *Registry) leaveLocked(connID, boardID string) {
	c, ok := r.conns[connID]
	if ok {
		delete(c.rooms, boardID)
	}
	if mm := r.rooms[boardID]; mm != nil {
		delete(mm, connID)
		if len(mm) == 0 {
			delete(r.rooms, boardID)
		}
	}
}

// Disconnect leaves every room the connection belongs to and deletes its
// record, returning the rooms it vacated. Safe to call repeatedly; only the
// first call reports true, so racing error paths run transport cleanup
// exactly once.
func (r *Registry) Disconnect(connID string) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	rooms := make([]string, 0, len(c.rooms))
	for boardID := range c.rooms {
		rooms = append(rooms, boardID)
	}
	for _, boardID := range rooms {
		r.leaveLocked(connID, boardID)
	}
	delete(r.conns, connID)
	return rooms, true
}

// Get returns the live connection record, if any.
func (r *Registry) Get(connID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// RoomsOf returns a snapshot of the boards the connection has joined.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.rooms))
	for b := range c.rooms {
		out = append(out, b)
	}
	return out
}

// IsMember reports whether the connection currently belongs to the room.
func (r *Registry) IsMember(connID, boardID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, joined := c.rooms[boardID]
	return joined
}

// MembersOf returns a snapshot of the room's member connection IDs,
// excluding origin (pass "" to include everyone). The snapshot is fixed at
// call time; later joins or leaves do not affect it.
func (r *Registry) MembersOf(boardID, origin string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mm := r.rooms[boardID]
	out := make([]string, 0, len(mm))
	for id := range mm {
		if id == origin {
			continue
		}
		out = append(out, id)
	}
	return out
}

// MemberConns is MembersOf with the live records, for relay fan-out.
func (r *Registry) MemberConns(boardID, origin string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mm := r.rooms[boardID]
	out := make([]*Conn, 0, len(mm))
	for id, c := range mm {
		if id == origin {
			continue
		}
		out = append(out, c)
	}
	return out
}

// HasRoom reports whether the board room currently exists. Rooms are
// garbage-collected on last leave, so an absent room is the normal state.
func (r *Registry) HasRoom(boardID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[boardID]
	return ok
}

// ConnCount returns the number of registered connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close disconnects every registered connection and closes its transport.
// Used on process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Conn)
	r.rooms = make(map[string]map[string]*Conn)
	r.mu.Unlock()

	for _, c := range conns {
		if c.sender != nil {
			_ = c.sender.Close()
		}
	}
}
