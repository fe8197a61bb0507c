package client

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"taskboard/global"
	"taskboard/service/auth"
	"taskboard/service/relay"
	"taskboard/service/session"
	"taskboard/tools/errs"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("client-test-secret")

type testRig struct {
	url   string
	gate  *auth.Gate
	reg   *session.Registry
	relay *relay.Relay
	ts    *httptest.Server
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &global.AppConfig{
		NodeID:        "test-node",
		SendQueueSize: 16,
		PingInterval:  30 * time.Second,
		ReadTimeout:   60 * time.Second,
		WriteTimeout:  2 * time.Second,
	}
	gate := auth.NewGate(auth.DefaultOptions(testSecret))
	reg := session.NewRegistry()
	rl := relay.NewRelay(reg)
	srv := relay.NewServer(cfg, gate, rl, nil, nil)

	r := gin.New()
	r.GET("/board", srv.HandleWS)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return &testRig{
		url:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/board",
		gate:  gate,
		reg:   reg,
		relay: rl,
		ts:    ts,
	}
}

func (rig *testRig) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := rig.gate.Generate(userID, userID)
	require.NoError(t, err)
	return token
}

func waitMembers(t *testing.T, rig *testRig, board string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(rig.reg.MembersOf(board, "")) == n
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSession_JoinAndReceiveMutation(t *testing.T) {
	rig := newRig(t)

	got1 := make(chan Event, 8)
	got2 := make(chan Event, 8)

	s1 := NewSession(rig.url, WithEventHandler(func(ev Event) { got1 <- ev }))
	s2 := NewSession(rig.url, WithEventHandler(func(ev Event) { got2 <- ev }))
	defer s1.Disconnect()
	defer s2.Disconnect()

	require.NoError(t, s1.Connect("b1", rig.token(t, "alice")))
	require.NoError(t, s2.Connect("b1", rig.token(t, "bob")))
	require.Equal(t, StateJoined, s1.State())
	require.Equal(t, "b1", s1.Board())
	waitMembers(t, rig, "b1", 2)

	require.NoError(t, s1.Emit("cardMoved", map[string]any{"cardId": "c1", "to": "col2"}))

	select {
	case ev := <-got2:
		require.Equal(t, "cardMoved", ev.Name)
		require.Equal(t, "b1", ev.Board)

		var mv struct {
			CardID string `json:"cardId"`
			To     string `json:"to"`
		}
		require.NoError(t, DecodePayload(ev.Payload, &mv))
		require.Equal(t, "c1", mv.CardID)
		require.Equal(t, "col2", mv.To)
	case <-time.After(3 * time.Second):
		t.Fatal("peer never received cardMoved")
	}

	// Exactly once for the peer, zero copies echoed to the sender.
	select {
	case ev := <-got2:
		t.Fatalf("duplicate delivery: %+v", ev)
	case ev := <-got1:
		t.Fatalf("event echoed to sender: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSession_ExpiredTokenRejectedBeforeRegistration(t *testing.T) {
	rig := newRig(t)

	past := time.Now().Add(-time.Hour)
	claims := &auth.Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwtlib.NewNumericDate(past),
		},
	}
	expired, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	s := NewSession(rig.url)
	err = s.Connect("b1", expired)
	require.Error(t, err)
	require.True(t, errs.IsAuthErr(err))
	require.Equal(t, StateDisconnected, s.State())

	// The rejected attempt allocated nothing server-side.
	require.Equal(t, 0, rig.reg.ConnCount())
	require.False(t, rig.reg.HasRoom("b1"))
}

func TestSession_DisconnectIsIdempotent(t *testing.T) {
	rig := newRig(t)

	s := NewSession(rig.url)
	require.NoError(t, s.Connect("b1", rig.token(t, "alice")))
	waitMembers(t, rig, "b1", 1)

	require.NoError(t, s.Disconnect())
	require.Equal(t, StateDisconnected, s.State())
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())

	// Server-side cleanup: the connection left and the empty room is gone.
	require.Eventually(t, func() bool {
		return rig.reg.ConnCount() == 0 && !rig.reg.HasRoom("b1")
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSession_ConnectTearsDownPriorBoard(t *testing.T) {
	rig := newRig(t)

	s := NewSession(rig.url)
	defer s.Disconnect()

	require.NoError(t, s.Connect("b1", rig.token(t, "alice")))
	waitMembers(t, rig, "b1", 1)

	require.NoError(t, s.Connect("b2", rig.token(t, "alice")))
	require.Equal(t, "b2", s.Board())

	waitMembers(t, rig, "b2", 1)
	require.Eventually(t, func() bool {
		return len(rig.reg.MembersOf("b1", "")) == 0
	}, 3*time.Second, 10*time.Millisecond)

	// Only the new transport is alive.
	require.Eventually(t, func() bool {
		return rig.reg.ConnCount() == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSession_TransportDropForcesDisconnected(t *testing.T) {
	rig := newRig(t)

	states := make(chan State, 8)
	errsCh := make(chan error, 8)
	s := NewSession(rig.url, WithStateHandler(func(st State, err error) {
		states <- st
		errsCh <- err
	}))
	defer s.Disconnect()

	require.NoError(t, s.Connect("b1", rig.token(t, "alice")))
	waitMembers(t, rig, "b1", 1)

	// Server kills the connection out from under the client.
	members := rig.reg.MembersOf("b1", "")
	require.Len(t, members, 1)
	rig.relay.Disconnect(members[0])

	require.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, 3*time.Second, 10*time.Millisecond)

	// The forced transition carried a transport error; no auto-reconnect.
	sawTransportErr := false
	deadline := time.After(time.Second)
	for !sawTransportErr {
		select {
		case err := <-errsCh:
			if err != nil && errs.ErrTransport.Is(err) {
				sawTransportErr = true
			}
		case <-deadline:
			t.Fatal("no transport error surfaced")
		}
	}
	require.Equal(t, StateDisconnected, s.State())
}

func TestSession_ConcurrentConnectsKeepOneTransport(t *testing.T) {
	rig := newRig(t)

	s := NewSession(rig.url)
	defer s.Disconnect()

	tok1 := rig.token(t, "alice")
	tok2 := rig.token(t, "alice")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = s.Connect("b1", tok1)
	}()
	go func() {
		defer wg.Done()
		_ = s.Connect("b2", tok2)
	}()
	wg.Wait()

	// Whichever Connect ran last owns the only live transport.
	require.Equal(t, StateJoined, s.State())
	winner := s.Board()
	require.Contains(t, []string{"b1", "b2"}, winner)
	loser := "b1"
	if winner == "b1" {
		loser = "b2"
	}

	require.Eventually(t, func() bool {
		return rig.reg.ConnCount() == 1 &&
			len(rig.reg.MembersOf(winner, "")) == 1 &&
			len(rig.reg.MembersOf(loser, "")) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestMalformedFrameKeepsConnectionAlive(t *testing.T) {
	rig := newRig(t)

	got := make(chan Event, 8)
	s2 := NewSession(rig.url, WithEventHandler(func(ev Event) { got <- ev }))
	defer s2.Disconnect()
	require.NoError(t, s2.Connect("b1", rig.token(t, "bob")))
	waitMembers(t, rig, "b1", 1)

	// Raw peer so garbage can go over the wire directly.
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+rig.token(t, "alice"))
	ws, _, err := websocket.DefaultDialer.Dial(rig.url, hdr)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, ws.WriteJSON(&relay.Frame{Event: relay.EventJoinBoard, Board: "b1"}))
	waitMembers(t, rig, "b1", 2)

	// More garbage after the join: a frame missing its event name.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"board":"b1"}`)))

	// The same connection still relays valid mutations.
	require.NoError(t, ws.WriteJSON(&relay.Frame{
		Event:   "cardMoved",
		Board:   "b1",
		Payload: map[string]any{"cardId": "c7"},
	}))

	select {
	case ev := <-got:
		require.Equal(t, "cardMoved", ev.Name)
		require.Equal(t, "c7", ev.Payload["cardId"])
	case <-time.After(3 * time.Second):
		t.Fatal("connection was torn down by the malformed frames")
	}
	require.Equal(t, 2, rig.reg.ConnCount())
}

func TestSession_EmitRequiresJoinedState(t *testing.T) {
	s := NewSession("")
	err := s.Emit("cardMoved", nil)
	require.Error(t, err)
	require.True(t, errs.ErrTransport.Is(err))
}
