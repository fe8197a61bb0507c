package relay

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"taskboard/global"
	"taskboard/logger"
	"taskboard/service/auth"
	"taskboard/service/storage"
	"taskboard/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server binds the board websocket channel to HTTP. One Server per process.
type Server struct {
	cfg   *global.AppConfig
	gate  *auth.Gate
	relay *Relay

	presence *storage.Presence   // may be nil
	boards   *storage.BoardStore // may be nil; then access checks are skipped
}

func NewServer(cfg *global.AppConfig, gate *auth.Gate, r *Relay, presence *storage.Presence, boards *storage.BoardStore) *Server {
	s := &Server{cfg: cfg, gate: gate, relay: r, presence: presence, boards: boards}
	r.OnDisconnect = s.afterDisconnect
	return s
}

func (s *Server) Relay() *Relay { return s.relay }

// bearerToken pulls the credential out of the handshake: Authorization
// header first, then the token query parameter for browser clients that
// cannot set headers on a websocket dial.
func bearerToken(c *gin.Context) string {
	if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
		return authz
	}
	return strings.TrimSpace(c.Query("token"))
}

// HandleWS is the board channel endpoint. The credential is checked before
// the upgrade: a rejected connection never reaches the registry and gets no
// goroutines, no queues, nothing.
func (s *Server) HandleWS(c *gin.Context) {
	user, err := s.gate.Authenticate(bearerToken(c))
	if err != nil {
		logger.Infof("[ws] handshake rejected: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade error: %v", err)
		return
	}

	connID := ids.GenerateString()
	client := NewClient(connID, ws, s.cfg.SendQueueSize, s.cfg.PingInterval, s.cfg.WriteTimeout)
	s.relay.Registry().Register(connID, user, client)
	go client.WritePump()

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if perr := s.presence.Online(ctx, user.UserID, s.cfg.NodeID); perr != nil {
			logger.Warnf("[ws] presence online user=%s err=%v", user.UserID, perr)
		}
		cancel()
	}

	logger.Infof("[ws] connected conn=%s user=%s", connID, user.UserID)
	s.readLoop(connID, user, ws)

	// One teardown path for every exit: read error, peer close, shutdown.
	s.relay.Disconnect(connID)
}

func (s *Server) readLoop(connID string, user auth.Identity, ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})
	ws.SetReadLimit(1 << 20) // 1MB

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s err=%v", connID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s err=%v", connID, rerr)
			} else {
				logger.Infof("[ws] read err conn=%s err=%v", connID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Warnf("[ws] drop bad frame conn=%s err=%v sample=%q", connID, perr, sample)
			continue
		}

		switch frame.Event {
		case EventJoinBoard:
			if !s.mayAccess(user.UserID, frame.Board) {
				logger.Infof("[ws] join denied conn=%s user=%s board=%s", connID, user.UserID, frame.Board)
				continue
			}
			s.relay.HandleJoin(connID, frame.Board)
			logger.Infof("[ws] joined conn=%s board=%s", connID, frame.Board)
		case EventLeaveBoard:
			s.relay.HandleLeave(connID, frame.Board)
			logger.Infof("[ws] left conn=%s board=%s", connID, frame.Board)
		default:
			// Mutation events are only relayed for boards the sender has
			// actually joined; anything else is dropped like a bad frame.
			if !s.isMember(connID, frame.Board) {
				logger.Warnf("[ws] drop event=%s conn=%s not in board=%s", frame.Event, connID, frame.Board)
				continue
			}
			s.relay.Broadcast(connID, frame.Board, frame.Event, frame.Payload)
		}
	}
}

func (s *Server) mayAccess(userID, boardID string) bool {
	if s.boards == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ok, err := s.boards.UserMayAccess(ctx, userID, boardID)
	if err != nil {
		logger.Errorf("[ws] access check user=%s board=%s err=%v", userID, boardID, err)
		return false
	}
	return ok
}

func (s *Server) isMember(connID, boardID string) bool {
	return s.relay.Registry().IsMember(connID, boardID)
}

func (s *Server) afterDisconnect(connID string, user auth.Identity, rooms []string) {
	if s.presence != nil && user.UserID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.presence.Offline(ctx, user.UserID); err != nil {
			logger.Warnf("[ws] presence offline user=%s err=%v", user.UserID, err)
		}
		cancel()
	}
	logger.Infof("[ws] disconnected conn=%s user=%s rooms=%d", connID, user.UserID, len(rooms))
}

// HandleSnapshot serves the current board state a client re-fetches after a
// reconnect gap. Requires the mongo collaborator.
func (s *Server) HandleSnapshot(c *gin.Context) {
	user, err := s.gate.Authenticate(bearerToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if s.boards == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no board store configured"})
		return
	}
	boardID := c.Param("id")
	if !s.mayAccess(user.UserID, boardID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	snap, err := s.boards.Snapshot(ctx, boardID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}
