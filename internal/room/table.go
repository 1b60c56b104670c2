// Package room maintains the live room/role state of the relay: which
// connection hosts which room, which viewers watch it, and the single
// departure path that keeps the two in lockstep.
package room

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beamcast/signal-relay/internal/metrics"
	"github.com/beamcast/signal-relay/internal/wire"
)

const maxRoomIDLen = 32

// Peer is the table's view of a connection. Implemented by conn.Conn; tests
// substitute mocks. Send must never block.
type Peer interface {
	ID() string
	Send(data []byte) bool
	Close(code int, reason string)
	Closed() bool
}

// Role is the binding a connection holds, if any. A connection is Unbound
// (no table entry), a Host, or a Viewer; there is no other state, and a
// binding is never replaced in place.
type Role interface{ role() }

type Host struct{ RoomID string }

type Viewer struct {
	RoomID   string
	ViewerID string
}

func (Host) role()   {}
func (Viewer) role() {}

type room struct {
	id        string
	host      Peer
	viewers   map[string]Peer // viewer ID → peer
	createdAt time.Time
}

// Limits bound the table. Zero values mean unlimited.
type Limits struct {
	MaxRooms          int
	MaxViewersPerRoom int
}

// Table is the single mutual-exclusion domain for rooms and role bindings.
// The mutex is held for table mutations only; outbound notifications are
// non-blocking queue handoffs, and connection closes are deferred until
// after unlock.
type Table struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	limits  Limits

	mu       sync.Mutex
	rooms    map[string]*room
	bindings map[string]Role // connection ID → role
}

func NewTable(logger *slog.Logger, m *metrics.Metrics, limits Limits) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		log:      logger.With("component", "rooms"),
		metrics:  m,
		limits:   limits,
		rooms:    make(map[string]*room),
		bindings: make(map[string]Role),
	}
}

// normalizeRoomID canonicalizes a client-supplied room ID: surrounding
// whitespace dropped, case folded to upper, then validated against the
// alphanumeric alphabet and length bound.
func normalizeRoomID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if id == "" || len(id) > maxRoomIDLen {
		return "", ErrInvalidRoomID
	}
	for _, r := range id {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", ErrInvalidRoomID
		}
	}
	return id, nil
}

// CreateRoom registers a new room with p as its host and returns the
// normalized room ID.
func (t *Table) CreateRoom(rawID string, p Peer) (string, error) {
	id, err := normalizeRoomID(rawID)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	if _, bound := t.bindings[p.ID()]; bound {
		t.mu.Unlock()
		return "", ErrAlreadyInRoom
	}
	if _, exists := t.rooms[id]; exists {
		t.mu.Unlock()
		return "", ErrRoomExists
	}
	if t.limits.MaxRooms > 0 && len(t.rooms) >= t.limits.MaxRooms {
		t.mu.Unlock()
		return "", ErrTooManyRooms
	}
	t.rooms[id] = &room{
		id:        id,
		host:      p,
		viewers:   make(map[string]Peer),
		createdAt: time.Now(),
	}
	t.bindings[p.ID()] = Host{RoomID: id}
	t.mu.Unlock()

	t.metrics.Inc(metrics.EventRoomCreated)
	t.log.Info("room created", "room_id", id, "conn_id", p.ID())
	return id, nil
}

// JoinRoom binds p as a viewer of the identified room, allocates its viewer
// ID, and notifies the host. The notification is fire-and-forget: an
// unreachable host does not fail the join.
func (t *Table) JoinRoom(rawID string, p Peer) (roomID, viewerID string, err error) {
	id, err := normalizeRoomID(rawID)
	if err != nil {
		// Malformed IDs cannot name a live room; joins get the lookup answer.
		return "", "", ErrRoomNotFound
	}

	t.mu.Lock()
	if _, bound := t.bindings[p.ID()]; bound {
		t.mu.Unlock()
		return "", "", ErrAlreadyInRoom
	}
	rm, ok := t.rooms[id]
	if !ok {
		t.mu.Unlock()
		return "", "", ErrRoomNotFound
	}
	if t.limits.MaxViewersPerRoom > 0 && len(rm.viewers) >= t.limits.MaxViewersPerRoom {
		t.mu.Unlock()
		return "", "", ErrRoomFull
	}

	var vid string
	for attempt := 0; ; attempt++ {
		vid, err = newViewerID()
		if err != nil {
			t.mu.Unlock()
			return "", "", fmt.Errorf("generate viewer id: %w", err)
		}
		if _, taken := rm.viewers[vid]; !taken {
			break
		}
		if attempt >= 3 {
			t.mu.Unlock()
			return "", "", fmt.Errorf("failed to allocate viewer id after retries")
		}
	}
	rm.viewers[vid] = p
	t.bindings[p.ID()] = Viewer{RoomID: id, ViewerID: vid}
	notified := rm.host.Send(wire.ViewerJoined(vid))
	t.mu.Unlock()

	t.metrics.Inc(metrics.EventViewerJoined)
	if !notified {
		t.metrics.Inc(metrics.EventSendQueueFull)
	}
	t.log.Debug("viewer joined", "room_id", id, "viewer_id", vid, "conn_id", p.ID())
	return id, vid, nil
}

// Leave removes p's binding and notifies its counterparts. This is the one
// departure path: client-initiated leave, transport disconnect, and janitor
// sweeps all funnel here, so the side effects happen exactly once no matter
// how many triggers fire. Unbound peers are no-ops.
//
// A departing host tears its room down: every viewer is told
// host-disconnected, unbound, and discarded. A departing viewer is removed
// from the room and the host is told viewer-left. The departing connection
// itself is left for the caller to close, since each trigger wants a
// different close code.
func (t *Table) Leave(p Peer) bool {
	msgHostGone := wire.HostDisconnected()

	t.mu.Lock()
	role, bound := t.bindings[p.ID()]
	if !bound {
		t.mu.Unlock()
		return false
	}
	delete(t.bindings, p.ID())

	var (
		discard []Peer
		dropped int
	)
	switch r := role.(type) {
	case Host:
		rm := t.rooms[r.RoomID]
		if rm != nil {
			delete(t.rooms, r.RoomID)
			for _, viewer := range rm.viewers {
				delete(t.bindings, viewer.ID())
				if !viewer.Send(msgHostGone) {
					dropped++
				}
				discard = append(discard, viewer)
			}
		}
	case Viewer:
		rm := t.rooms[r.RoomID]
		if rm != nil {
			delete(rm.viewers, r.ViewerID)
			if !rm.host.Send(wire.ViewerLeft(r.ViewerID)) {
				dropped++
			}
		}
	}
	t.mu.Unlock()

	t.metrics.Add(metrics.EventSendQueueFull, uint64(dropped))
	switch r := role.(type) {
	case Host:
		for _, viewer := range discard {
			viewer.Close(websocket.CloseNormalClosure, "host disconnected")
		}
		t.metrics.Inc(metrics.EventHostDisconnected)
		t.metrics.Inc(metrics.EventRoomDeleted)
		t.log.Info("room closed by host departure",
			"room_id", r.RoomID, "conn_id", p.ID(), "viewers", len(discard))
	case Viewer:
		t.metrics.Inc(metrics.EventViewerLeft)
		t.log.Debug("viewer left", "room_id", r.RoomID, "viewer_id", r.ViewerID, "conn_id", p.ID())
	}
	return true
}

// RoleOf returns p's current binding, or nil when unbound.
func (t *Table) RoleOf(p Peer) Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bindings[p.ID()]
}

// FindViewer returns the viewer's peer, or nil when the room or viewer is
// gone. Callers treat nil as a routing miss.
func (t *Table) FindViewer(roomID, viewerID string) Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	rm := t.rooms[roomID]
	if rm == nil {
		return nil
	}
	return rm.viewers[viewerID]
}

// HostOf returns the room's host peer, or nil when the room is gone.
func (t *Table) HostOf(roomID string) Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	rm := t.rooms[roomID]
	if rm == nil {
		return nil
	}
	return rm.host
}

// Counts reports the live room and viewer totals.
func (t *Table) Counts() (rooms, viewers int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rooms = len(t.rooms)
	for _, rm := range t.rooms {
		viewers += len(rm.viewers)
	}
	return rooms, viewers
}

// SweepStale removes rooms whose host connection is dead (catching missed
// disconnects) and expires rooms older than ttl, closing the expired hosts
// with the dedicated room-expiry code. The tear-downs reuse Leave, so
// viewers see the same host-disconnected flow as a live disconnect.
func (t *Table) SweepStale(now time.Time, ttl time.Duration) (deadHost, expired int) {
	t.mu.Lock()
	var dead, aged []Peer
	for _, rm := range t.rooms {
		switch {
		case rm.host.Closed():
			dead = append(dead, rm.host)
		case ttl > 0 && now.Sub(rm.createdAt) > ttl:
			aged = append(aged, rm.host)
		}
	}
	t.mu.Unlock()

	for _, host := range dead {
		if t.Leave(host) {
			deadHost++
			t.metrics.Inc(metrics.EventRoomSweptDeadHost)
		}
	}
	for _, host := range aged {
		if t.Leave(host) {
			expired++
			t.metrics.Inc(metrics.EventRoomExpired)
			host.Close(wire.CloseRoomExpired, "room expired")
		}
	}
	return deadHost, expired
}
