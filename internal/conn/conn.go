// Package conn tracks live WebSocket connections: identity, liveness
// probing, buffered fire-and-forget sends, and termination.
package conn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds every socket write, including close frames and pings.
	writeWait = 10 * time.Second

	// sendQueueSize is the per-connection outbound buffer. Senders never
	// block: a full buffer drops the message (the peer is either wedged or
	// about to be reaped by the heartbeat).
	sendQueueSize = 64
)

// Conn is one registered WebSocket connection. The HTTP handler goroutine is
// the only reader; the write pump started at registration is the only writer
// of data frames. Control frames (pings, the abrupt-close path) go through
// gorilla's WriteControl, which is safe concurrently with the pump.
type Conn struct {
	id         string
	ws         *websocket.Conn
	remoteAddr string
	createdAt  time.Time

	// alive is flipped true by pong receipt and swapped false by each
	// heartbeat sweep; a sweep that observes false terminates the conn.
	alive atomic.Bool

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
	aborted     bool
}

func (c *Conn) ID() string           { return c.id }
func (c *Conn) RemoteAddr() string   { return c.remoteAddr }
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// MarkAlive records a liveness acknowledgment; wired to the pong handler.
func (c *Conn) MarkAlive() { c.alive.Store(true) }

// Closed reports whether the connection has begun closing. Queued messages
// may still be flushing.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send queues data for delivery without blocking. It reports false when the
// connection is closing or the buffer is full; callers treat either as a
// routing miss, never as an error to propagate.
func (c *Conn) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close shuts the connection down gracefully: queued messages are flushed,
// then a close frame with the given code/reason is written, then the socket
// closes. Idempotent; the first close (graceful or abrupt) wins.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Abort closes the socket immediately, skipping the flush and close frame.
// Used for unresponsive peers where a polite close would go unread.
func (c *Conn) Abort() {
	c.closeOnce.Do(func() {
		c.aborted = true
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) writePump() {
	for {
		select {
		case data := <-c.send:
			if c.writeData(data) != nil {
				_ = c.ws.Close()
				return
			}
		case <-c.done:
			c.drainAndClose()
			return
		}
	}
}

// drainAndClose flushes whatever Close left in the buffer (for example a
// host-disconnected notification queued just before the close), then writes
// the close frame so the peer sees the recorded code.
func (c *Conn) drainAndClose() {
	defer func() { _ = c.ws.Close() }()

	if c.aborted {
		return
	}
	for {
		select {
		case data := <-c.send:
			if c.writeData(data) != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Conn) writeData(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
