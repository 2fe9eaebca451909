// Package chat implements the real-time consultation messaging core: the
// in-memory connection registry, the broadcast engine, and the per-connection
// session protocol handler.
package chat

import (
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
)

// Close codes used at handshake and teardown. 4001 mirrors the upstream
// clients' expectation for authentication failures; policy violations and
// internal errors use the standard codes.
const (
	CloseAuthFailure = 4001
	ClosePolicy      = gorillawebsocket.ClosePolicyViolation
	CloseInternal    = gorillawebsocket.CloseInternalServerErr
)

// sendBufferSize is the per-connection outbound queue. A connection that
// cannot drain this many events within the send timeout is considered dead.
const sendBufferSize = 256

// Conn abstracts a websocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents one live connection: exactly one authenticated user
// joined to exactly one consultation. Not persisted.
type Client struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ConsultationID uuid.UUID

	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(userID, consultationID uuid.UUID, conn Conn) *Client {
	return &Client{
		ID:             uuid.New(),
		UserID:         userID,
		ConsultationID: consultationID,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
	}
}

// Read blocks for the next inbound frame.
func (c *Client) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// TrySend enqueues data for delivery, giving up after timeout or once the
// client is closed. Returning false is the liveness signal: a connection
// that cannot accept a frame in time is treated as dead.
func (c *Client) TrySend(data []byte, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	case <-t.C:
		return false
	}
}

// Close shuts the client down exactly once: the write pump drains out and
// the underlying connection is closed. Safe to call from any goroutine and
// on any exit path.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Closed reports whether Close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// WritePump writes queued frames to the connection and pings it on every
// pingPeriod tick. It exits on the first write error or when the client is
// closed; per-connection send ordering follows from the single pump
// goroutine.
func (c *Client) WritePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.conn.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
