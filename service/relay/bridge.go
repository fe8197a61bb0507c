package relay

import (
	"encoding/json"
	"strings"
	"sync"

	"taskboard/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

const bridgeSubjectPrefix = "board.events."

// BridgeConfig mirrors the NATS connection knobs the relay cares about.
type BridgeConfig struct {
	Servers []string
	Name    string
	NodeID  string
}

// Bridge shares a board room across relay nodes over NATS. Each node
// publishes its local broadcasts to board.events.<boardID> and subscribes
// to the subject while it hosts at least one member of that room. Frames
// carry the publishing node's id so a node never re-delivers its own.
type Bridge struct {
	nc     *nats.Conn
	nodeID string

	relay *Relay

	mu   sync.Mutex
	subs map[string]*nats.Subscription // boardID -> sub
}

type bridgeEnvelope struct {
	Node string          `json:"node"`
	Data json.RawMessage `json:"data"`
}

func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("bridge: no servers")
	}
	opts := []nats.Option{nats.Name(cfg.Name)}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "bridge: connect")
	}
	return &Bridge{
		nc:     nc,
		nodeID: cfg.NodeID,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

func (b *Bridge) bind(r *Relay) { b.relay = r }

func (b *Bridge) Close() {
	b.mu.Lock()
	for boardID, sub := range b.subs {
		_ = sub.Unsubscribe()
		delete(b.subs, boardID)
	}
	b.mu.Unlock()
	b.nc.Close()
}

func (b *Bridge) publish(boardID string, frame []byte) {
	env, err := json.Marshal(&bridgeEnvelope{Node: b.nodeID, Data: frame})
	if err != nil {
		logger.Errorf("[bridge] marshal board=%s err=%v", boardID, err)
		return
	}
	if err := b.nc.Publish(bridgeSubjectPrefix+boardID, env); err != nil {
		logger.Errorf("[bridge] publish board=%s err=%v", boardID, err)
	}
}

// subscribe starts listening for a board the first time a local member
// joins it. Remote frames are delivered to all local members: the origin
// connection lives on another node, so nobody here is the sender.
func (b *Bridge) subscribe(boardID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[boardID]; ok {
		return
	}
	sub, err := b.nc.Subscribe(bridgeSubjectPrefix+boardID, func(msg *nats.Msg) {
		var env bridgeEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			logger.Warnf("[bridge] bad envelope board=%s err=%v", boardID, err)
			return
		}
		if env.Node == b.nodeID {
			return
		}
		b.relay.deliverLocal("", boardID, env.Data)
	})
	if err != nil {
		logger.Errorf("[bridge] subscribe board=%s err=%v", boardID, err)
		return
	}
	b.subs[boardID] = sub
}

// unsubscribe stops listening once the local room is gone.
func (b *Bridge) unsubscribe(boardID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[boardID]; ok {
		_ = sub.Unsubscribe()
		delete(b.subs, boardID)
	}
}
