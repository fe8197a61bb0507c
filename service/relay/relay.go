package relay

import (
	"sync"

	"taskboard/logger"
	"taskboard/service/auth"
	"taskboard/service/session"
)

// Relay orchestrates join requests and board mutation broadcasts on top of
// the session registry. A single relay serves one process; the optional
// bridge extends a room across nodes.
type Relay struct {
	reg    *session.Registry
	bridge *Bridge // may be nil

	// Serializes broadcasts so members of one room see events in the order
	// Broadcast was called.
	bmu sync.Mutex

	// Called after a connection's registry record is removed, with the
	// identity and rooms it held. Used for presence teardown.
	OnDisconnect func(connID string, user auth.Identity, rooms []string)
}

func NewRelay(reg *session.Registry) *Relay {
	return &Relay{reg: reg}
}

// AttachBridge enables cross-node fan-out. Must be called before serving.
func (r *Relay) AttachBridge(b *Bridge) {
	r.bridge = b
	b.bind(r)
}

func (r *Relay) Registry() *session.Registry { return r.reg }

// HandleJoin admits an already-authenticated connection to a board room.
// Board-level access permission is the caller's concern; by the time this
// runs the caller has confirmed the user may see the board.
func (r *Relay) HandleJoin(connID, boardID string) {
	r.reg.Join(connID, boardID)
	if r.bridge != nil {
		r.bridge.subscribe(boardID)
	}
}

// HandleLeave removes the connection from the room.
func (r *Relay) HandleLeave(connID, boardID string) {
	r.reg.Leave(connID, boardID)
	r.dropEmptyBridgeRoom(boardID)
}

// Broadcast fans (event, payload) out to every member of the board room
// except origin. Delivery is best-effort per member: one dead transport
// does not stop the rest, it just gets that member disconnected.
func (r *Relay) Broadcast(origin, boardID, event string, payload map[string]any) {
	data, err := EncodeFrame(event, boardID, payload)
	if err != nil {
		logger.Errorf("[relay] encode event=%s board=%s err=%v", event, boardID, err)
		return
	}
	r.deliverLocal(origin, boardID, data)
	if r.bridge != nil {
		r.bridge.publish(boardID, data)
	}
}

// deliverLocal writes an encoded frame to the local members of a room. The
// member snapshot is fixed before the first write: a join or leave landing
// mid-fan-out does not affect this broadcast.
func (r *Relay) deliverLocal(origin, boardID string, data []byte) {
	r.bmu.Lock()
	members := r.reg.MemberConns(boardID, origin)
	var failed []string
	for _, m := range members {
		if err := m.Sender().Send(data); err != nil {
			logger.Warnf("[relay] deliver board=%s conn=%s err=%v", boardID, m.ID, err)
			failed = append(failed, m.ID)
		}
	}
	r.bmu.Unlock()

	for _, id := range failed {
		r.Disconnect(id)
	}
}

// Disconnect runs full teardown for a connection: registry removal, room
// GC, transport close, presence hook. Every error path funnels here and
// repeated calls are no-ops, so cleanup happens exactly once.
func (r *Relay) Disconnect(connID string) {
	c, ok := r.reg.Get(connID)
	if !ok {
		return
	}
	rooms, first := r.reg.Disconnect(connID)
	if !first {
		return
	}
	if s := c.Sender(); s != nil {
		_ = s.Close()
	}
	for _, boardID := range rooms {
		r.dropEmptyBridgeRoom(boardID)
	}
	if r.OnDisconnect != nil {
		r.OnDisconnect(connID, c.User, rooms)
	}
}

func (r *Relay) dropEmptyBridgeRoom(boardID string) {
	if r.bridge == nil {
		return
	}
	if !r.reg.HasRoom(boardID) {
		r.bridge.unsubscribe(boardID)
	}
}
