package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beamcast/signal-relay/internal/metrics"
)

// newTestServer upgrades, registers, and reads each connection the way the
// signaling handler does, pushing registered conns to connCh for inspection.
func newTestServer(t *testing.T, r *Registry, connCh chan *Conn) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		c, err := r.Register(ws, req.RemoteAddr)
		if err != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = ws.Close()
			return
		}
		if connCh != nil {
			connCh <- c
		}
		ws.SetPongHandler(func(string) error { c.MarkAlive(); return nil })
		defer r.Release(c)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func TestRegistry_HeartbeatTerminatesSilentPeer(t *testing.T) {
	r := NewRegistry(nil, metrics.New(), 0, 50*time.Millisecond)
	connCh := make(chan *Conn, 1)
	ts := newTestServer(t, r, connCh)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	c := dial(t, ts)
	defer c.Close()

	// Swallow pings so the server never sees a pong.
	c.SetPingHandler(func(string) error { return nil })

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ReadMessage()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected abrupt close error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for heartbeat termination")
	}

	waitFor(t, func() bool { return r.Len() == 0 }, "registry to drop the dead conn")
}

func TestRegistry_PongKeepsConnectionRegistered(t *testing.T) {
	r := NewRegistry(nil, metrics.New(), 0, 50*time.Millisecond)
	connCh := make(chan *Conn, 1)
	ts := newTestServer(t, r, connCh)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	c := dial(t, ts)
	defer c.Close()

	// The default gorilla ping handler answers with a pong; the read loop
	// below keeps control frames flowing.
	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ReadMessage()
		errCh <- err
	}()

	var reg *Conn
	select {
	case reg = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for registration")
	}

	// Several sweep intervals must pass without termination.
	time.Sleep(300 * time.Millisecond)

	select {
	case err := <-errCh:
		t.Fatalf("connection closed despite pongs: %v", err)
	default:
	}
	if !r.IsAlive(reg.ID()) {
		t.Fatalf("expected connection to still be alive")
	}
}

func TestRegistry_CapacityRejectsWithTryAgainLater(t *testing.T) {
	m := metrics.New()
	r := NewRegistry(nil, m, 1, time.Minute)
	ts := newTestServer(t, r, nil)
	defer ts.Close()

	first := dial(t, ts)
	defer first.Close()

	waitFor(t, func() bool { return r.Len() == 1 }, "first conn to register")

	second := dial(t, ts)
	defer second.Close()

	_, _, err := second.ReadMessage()
	if err == nil {
		t.Fatalf("expected rejection close")
	}
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("expected close code %d, got %v", websocket.CloseTryAgainLater, err)
	}
	if got := m.Get(metrics.EventConnRejectedCapacity); got != 1 {
		t.Fatalf("rejection counter = %d, want 1", got)
	}
	if r.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", r.Len())
	}
}

func TestConn_CloseFlushesQueuedMessagesThenSendsCloseFrame(t *testing.T) {
	r := NewRegistry(nil, metrics.New(), 0, time.Minute)
	connCh := make(chan *Conn, 1)
	ts := newTestServer(t, r, connCh)
	defer ts.Close()

	c := dial(t, ts)
	defer c.Close()

	reg := <-connCh
	if !reg.Send([]byte(`{"type":"host-disconnected"}`)) {
		t.Fatalf("send rejected")
	}
	reg.Close(websocket.CloseNormalClosure, "")

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("expected queued message before close, got %v", err)
	}
	if string(data) != `{"type":"host-disconnected"}` {
		t.Fatalf("unexpected message %s", data)
	}

	_, _, err = c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected close normal closure, got %v", err)
	}

	if reg.Send([]byte("late")) {
		t.Fatalf("send after close should report false")
	}
}

func TestRegistry_TerminateIsIdempotent(t *testing.T) {
	r := NewRegistry(nil, metrics.New(), 0, time.Minute)
	connCh := make(chan *Conn, 1)
	ts := newTestServer(t, r, connCh)
	defer ts.Close()

	c := dial(t, ts)
	defer c.Close()

	reg := <-connCh
	if !r.IsAlive(reg.ID()) {
		t.Fatalf("expected registered conn to be alive")
	}

	r.Terminate(reg.ID())
	r.Terminate(reg.ID())
	r.Terminate("no-such-id")

	if r.IsAlive(reg.ID()) {
		t.Fatalf("expected terminated conn to be dead")
	}
	waitFor(t, func() bool { return r.Len() == 0 }, "terminated conn to be released")
}

func TestRegistry_CloseAllSaysGoodbyeToEveryConnection(t *testing.T) {
	r := NewRegistry(nil, metrics.New(), 0, time.Minute)
	connCh := make(chan *Conn, 2)
	ts := newTestServer(t, r, connCh)
	defer ts.Close()

	first := dial(t, ts)
	defer first.Close()
	second := dial(t, ts)
	defer second.Close()

	waitFor(t, func() bool { return r.Len() == 2 }, "both conns to register")

	r.CloseAll(websocket.CloseGoingAway, "server shutting down")

	for _, c := range []*websocket.Conn{first, second} {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := c.ReadMessage()
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Fatalf("expected going-away close, got %v", err)
		}
	}

	waitFor(t, func() bool { return r.Len() == 0 }, "registry to drain")
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
