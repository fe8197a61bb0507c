package client

import (
	"net/http"
	"sync"

	"taskboard/global"
	"taskboard/service/relay"
	"taskboard/tools/errs"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// State of a board session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	}
	return "unknown"
}

// Event is a board mutation notification received from the relay. Payload
// stays opaque; DecodePayload converts it to a typed struct when wanted.
type Event struct {
	Name    string
	Board   string
	Payload map[string]any
}

// EventHandler observes relayed events.
type EventHandler func(ev Event)

// StateHandler observes lifecycle transitions; err is non-nil when the
// transition was forced by a transport failure.
type StateHandler func(s State, err error)

// wire is one physical websocket attempt. A Session replaces its wire on
// every Connect, so a read loop left over from a torn-down session can
// never touch the new one's state.
type wire struct {
	ws   *websocket.Conn
	done chan struct{}
}

// Session is a client-side handle on one board's relay channel. All
// connection state lives on the instance; two Sessions in one process never
// collide. The session performs no automatic reconnect: a transport drop
// lands in StateDisconnected and the caller decides what happens next.
type Session struct {
	url    string
	dialer *websocket.Dialer

	onEvent EventHandler
	onState StateHandler

	// opMu serializes Connect/Disconnect end to end, dial included, so two
	// overlapping Connect calls cannot each open a transport and leak the
	// loser's websocket. mu alone guards the fields below.
	opMu sync.Mutex

	mu    sync.Mutex
	state State
	board string
	w     *wire
}

// Option configures a Session.
type Option func(*Session)

func WithEventHandler(h EventHandler) Option { return func(s *Session) { s.onEvent = h } }
func WithStateHandler(h StateHandler) Option { return func(s *Session) { s.onState = h } }
func WithDialer(d *websocket.Dialer) Option  { return func(s *Session) { s.dialer = d } }

// NewSession creates a disconnected session against the relay endpoint.
// An empty url falls back to global.DefaultRelayURL.
func NewSession(url string, opts ...Option) *Session {
	if url == "" {
		url = global.DefaultRelayURL
	}
	s := &Session{
		url:    url,
		dialer: websocket.DefaultDialer,
		state:  StateDisconnected,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Board returns the board this session is joined to, or "".
func (s *Session) Board() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// Connect opens the transport with the credential attached and joins
// boardID. If a prior session exists in any state it is fully torn down
// first (leave + transport close); a Session holds at most one live
// transport. The join itself is fire-and-forget: once the transport is up
// and the join frame is written, the session is Joined.
func (s *Session) Connect(boardID, credential string) error {
	if boardID == "" {
		return errors.New("client: boardID required")
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.teardownLocked(true)
	}
	s.setStateLocked(StateConnecting, nil)
	s.mu.Unlock()

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+credential)
	ws, resp, err := s.dialer.Dial(s.url, hdr)
	if err != nil {
		s.mu.Lock()
		s.setStateLocked(StateDisconnected, nil)
		s.mu.Unlock()
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return errs.ErrTokenExpired.WrapMsg("handshake rejected")
		}
		return errors.Wrap(err, "client: dial")
	}

	w := &wire{ws: ws, done: make(chan struct{})}

	s.mu.Lock()
	s.w = w
	s.setStateLocked(StateConnected, nil)

	join := &relay.Frame{Event: relay.EventJoinBoard, Board: boardID}
	if err := ws.WriteJSON(join); err != nil {
		s.teardownLocked(false)
		s.setStateLocked(StateDisconnected, nil)
		s.mu.Unlock()
		return errs.ErrTransport.WrapMsg(err.Error())
	}
	s.board = boardID
	s.setStateLocked(StateJoined, nil)
	s.mu.Unlock()

	go s.readLoop(w)
	return nil
}

// Disconnect leaves the board and closes the transport. Calling it when
// already disconnected is a no-op.
func (s *Session) Disconnect() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return nil
	}
	s.teardownLocked(true)
	s.setStateLocked(StateDisconnected, nil)
	return nil
}

// Emit broadcasts a mutation event to the other members of the joined
// board. Fire-and-forget: no acknowledgment comes back.
func (s *Session) Emit(event string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateJoined || s.w == nil {
		return errs.ErrTransport.WrapMsg("not joined")
	}
	f := &relay.Frame{Event: event, Board: s.board, Payload: payload}
	if err := s.w.ws.WriteJSON(f); err != nil {
		return errs.ErrTransport.WrapMsg(err.Error())
	}
	return nil
}

// teardownLocked closes the current wire. With polite=true a leaveBoard
// frame and a close message go out first; on a dead transport those writes
// just fail quietly.
func (s *Session) teardownLocked(polite bool) {
	w := s.w
	s.w = nil
	board := s.board
	s.board = ""
	if w == nil {
		return
	}
	close(w.done)
	if polite {
		if board != "" {
			_ = w.ws.WriteJSON(&relay.Frame{Event: relay.EventLeaveBoard, Board: board})
		}
		_ = w.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	_ = w.ws.Close()
}

func (s *Session) setStateLocked(st State, err error) {
	if s.state == st && err == nil {
		return
	}
	s.state = st
	if s.onState != nil {
		h := s.onState
		go h(st, err)
	}
}

// readLoop delivers relayed events until the wire dies. A transport error
// forces StateDisconnected regardless of current state; malformed frames
// are dropped without killing the session.
func (s *Session) readLoop(w *wire) {
	for {
		_, data, err := w.ws.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				// Deliberate teardown; state already handled.
				return
			default:
			}
			s.mu.Lock()
			if s.w == w {
				s.teardownLocked(false)
				s.setStateLocked(StateDisconnected, errs.ErrTransport.WrapMsg(err.Error()))
			}
			s.mu.Unlock()
			return
		}

		f, perr := relay.ParseFrame(data)
		if perr != nil {
			continue
		}
		if s.onEvent != nil {
			s.onEvent(Event{Name: f.Event, Board: f.Board, Payload: f.Payload})
		}
	}
}
