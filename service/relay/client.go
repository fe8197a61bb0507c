package relay

import (
	"sync"
	"time"

	"taskboard/tools/errs"

	"github.com/gorilla/websocket"
)

// Client is one websocket session as held by the server. Writes go through
// a buffered queue consumed by a single writer goroutine; the read loop in
// ws_server.go is the only reader.
type Client struct {
	ConnID string
	WS     *websocket.Conn

	sendQ chan []byte
	done  chan struct{}

	closeOnce sync.Once

	pingInterval time.Duration
	writeTimeout time.Duration
}

func NewClient(connID string, ws *websocket.Conn, queueSize int, pingInterval, writeTimeout time.Duration) *Client {
	if queueSize <= 0 {
		queueSize = 256
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Client{
		ConnID:       connID,
		WS:           ws,
		sendQ:        make(chan []byte, queueSize),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
	}
}

// Send enqueues an outbound message. A full queue means the client cannot
// keep up; the caller treats that like any other delivery failure and
// disconnects the member.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return errs.ErrTransport.WrapMsg("connection closed")
	default:
	}
	select {
	case c.sendQ <- data:
		return nil
	default:
		return errs.ErrTransport.WrapMsg("send queue full")
	}
}

// Close tears the transport down. Safe to call from any error path; only
// the first call acts.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.WS.Close()
	})
	return nil
}

// WritePump drains the send queue onto the websocket and keeps the
// connection alive with periodic pings. Runs in its own goroutine; exits
// when Close fires or a write fails.
func (c *Client) WritePump() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendQ:
			if err := c.writeMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-t.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.WS.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Client) writeMessage(mt int, data []byte) error {
	if err := c.WS.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.WS.WriteMessage(mt, data)
}
