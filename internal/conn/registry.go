package conn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/beamcast/signal-relay/internal/metrics"
)

// ErrTooManyConnections is returned by Register when the global connection
// cap is reached. The caller is expected to send a try-again-later close and
// drop the socket.
var ErrTooManyConnections = errors.New("too many connections")

// Registry owns every live connection. It enforces the global cap at
// registration and runs the keepalive probe loop that reaps peers which stop
// acknowledging pings.
type Registry struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	maxConns  int
	heartbeat time.Duration

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewRegistry(logger *slog.Logger, m *metrics.Metrics, maxConns int, heartbeat time.Duration) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		log:       logger.With("component", "registry"),
		metrics:   m,
		maxConns:  maxConns,
		heartbeat: heartbeat,
		conns:     make(map[string]*Conn),
	}
}

// Register adds a freshly upgraded socket and starts its write pump. The
// connection starts out alive; the first sweep pings it and the second sweep
// reaps it if no pong arrived in between.
func (r *Registry) Register(ws *websocket.Conn, remoteAddr string) (*Conn, error) {
	c := &Conn{
		id:         uuid.NewString(),
		ws:         ws,
		remoteAddr: remoteAddr,
		createdAt:  time.Now(),
		send:       make(chan []byte, sendQueueSize),
		done:       make(chan struct{}),
	}
	c.alive.Store(true)

	r.mu.Lock()
	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		r.mu.Unlock()
		r.metrics.Inc(metrics.EventConnRejectedCapacity)
		return nil, ErrTooManyConnections
	}
	r.conns[c.id] = c
	r.mu.Unlock()

	go c.writePump()

	r.metrics.Inc(metrics.EventConnOpened)
	r.log.Debug("connection registered", "conn_id", c.id, "remote_addr", remoteAddr)
	return c, nil
}

// Release removes bookkeeping for a connection and makes sure its transport
// is closed. Safe to call redundantly; only the first call counts.
func (r *Registry) Release(c *Conn) {
	if c == nil {
		return
	}
	c.Abort()

	r.mu.Lock()
	_, present := r.conns[c.id]
	delete(r.conns, c.id)
	r.mu.Unlock()

	if present {
		r.metrics.Inc(metrics.EventConnClosed)
		r.log.Debug("connection released", "conn_id", c.id, "remote_addr", c.remoteAddr)
	}
}

// IsAlive reports whether the connection is registered and not closing.
func (r *Registry) IsAlive(id string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	r.mu.Unlock()
	return ok && !c.Closed()
}

// Terminate abruptly closes the identified connection. Unknown IDs are
// no-ops; repeated calls are harmless. Bookkeeping is removed by the
// connection's handler as its read loop unwinds.
func (r *Registry) Terminate(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	r.mu.Unlock()
	if ok {
		c.Abort()
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll starts a graceful close of every registered connection with the
// given code and reason. It is used at shutdown; the write pumps flush their
// queues and close frames asynchronously, so callers that need the sockets
// gone should poll Len afterwards.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close(code, reason)
	}
}

// Run drives the keepalive probe loop until ctx is canceled. Every interval
// it terminates connections that missed the previous probe and pings the
// rest.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		if c.Closed() {
			continue
		}
		if !c.alive.Swap(false) {
			r.metrics.Inc(metrics.EventHeartbeatTimeout)
			r.log.Info("terminating unresponsive connection",
				"conn_id", c.id,
				"remote_addr", c.remoteAddr,
				"age", time.Since(c.createdAt).Round(time.Second).String(),
			)
			c.Abort()
			continue
		}
		_ = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	}
}
