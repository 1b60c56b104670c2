package signaling

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beamcast/signal-relay/internal/conn"
	"github.com/beamcast/signal-relay/internal/metrics"
	"github.com/beamcast/signal-relay/internal/ratelimit"
	"github.com/beamcast/signal-relay/internal/room"
	"github.com/beamcast/signal-relay/internal/wire"
)

// wsWriteWait bounds control-frame writes performed outside a connection's
// write pump (the capacity-rejection close).
const wsWriteWait = 1 * time.Second

// Config wires together the runtime dependencies for the signaling endpoint.
type Config struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Registry *conn.Registry
	Rooms    *room.Table

	// MaxMessageBytes caps a single inbound frame; larger frames close the
	// socket with 1009 (message too big). Zero means unlimited.
	MaxMessageBytes int64

	// MaxMessagesPerSecond bounds the inbound frame rate per connection;
	// exceeding it closes the socket with 1008 (policy violation). Zero
	// disables rate limiting.
	MaxMessagesPerSecond int
}

// Server implements the relay's WebSocket signaling surface: one endpoint,
// GET /ws, carrying the room lifecycle and SDP/ICE forwarding frames.
type Server struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *conn.Registry
	rooms    *room.Table

	maxMessageBytes      int64
	maxMessagesPerSecond int

	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		log:      logger.With("component", "signaling"),
		metrics:  cfg.Metrics,
		registry: cfg.Registry,
		rooms:    cfg.Rooms,

		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,

		upgrader: websocket.Upgrader{
			// Origin checks are enforced by the outer httpserver origin
			// middleware. For unit tests that don't use httpserver.Server,
			// accept all origins here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleSignal)
}

// Snapshot reports live occupancy: registered connections, rooms, and
// viewers. It backs the health endpoint and the metrics gauges.
func (s *Server) Snapshot() (connections, rooms, viewers int) {
	connections = s.registry.Len()
	rooms, viewers = s.rooms.Counts()
	return connections, rooms, viewers
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.log.Debug("websocket upgrade rejected", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	c, err := s.registry.Register(ws, r.RemoteAddr)
	if err != nil {
		// Accept-then-close so the client sees a close code rather than an
		// opaque handshake failure.
		s.log.Info("rejecting connection at capacity", "remote_addr", r.RemoteAddr)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server at capacity")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		_ = ws.Close()
		return
	}

	s.serveConn(c, ws)
}

// serveConn owns the connection's read side from registration to teardown.
// Every exit funnels through the deferred cleanup, so the room-side
// disconnect effects run exactly once no matter how the socket dies.
func (s *Server) serveConn(c *conn.Conn, ws *websocket.Conn) {
	log := s.log.With("conn_id", c.ID(), "remote_addr", c.RemoteAddr())

	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.Inc(metrics.EventInternalError)
			log.Error("panic while handling signaling frame", "panic", rec, "stack", string(debug.Stack()))
			c.Close(websocket.CloseInternalServerErr, "internal error")
		}
		s.rooms.Leave(c)
		s.registry.Release(c)
	}()

	if s.maxMessageBytes > 0 {
		ws.SetReadLimit(s.maxMessageBytes)
	}
	ws.SetPongHandler(func(string) error {
		c.MarkAlive()
		return nil
	})

	var limiter *ratelimit.Bucket
	if s.maxMessagesPerSecond > 0 {
		limiter = ratelimit.NewBucket(nil, s.maxMessagesPerSecond)
	}

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			s.noteReadEnd(log, err)
			return
		}
		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.EventFrameBinary)
			log.Debug("closing connection after binary frame")
			c.Close(websocket.CloseUnsupportedData, "text frames only")
			return
		}
		if limiter != nil && !limiter.Allow() {
			s.metrics.Inc(metrics.EventRateLimited)
			log.Info("closing connection for exceeding message rate")
			c.Send(wire.Error(wire.ErrCodeRateLimited, "Message rate exceeded"))
			c.Close(websocket.ClosePolicyViolation, "message rate exceeded")
			return
		}

		f, err := wire.Parse(data)
		if err != nil {
			s.metrics.Inc(metrics.EventFrameMalformed)
			log.Debug("dropping malformed frame", "err", err)
			continue
		}
		s.dispatch(c, f, log)
	}
}

// noteReadEnd classifies the error that ended a read loop. The oversize case
// is the interesting one: gorilla enforces the read limit itself and has
// already sent the 1009 close by the time ReadMessage returns ErrReadLimit.
func (s *Server) noteReadEnd(log *slog.Logger, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.metrics.Inc(metrics.EventFrameOversize)
		log.Info("closing connection after oversized frame")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		log.Debug("connection closed by peer")
	default:
		log.Debug("read loop ended", "err", err)
	}
}

func (s *Server) dispatch(c *conn.Conn, f wire.Frame, log *slog.Logger) {
	switch f.Type {
	case wire.KindCreateRoom:
		s.handleCreateRoom(c, f, log)
	case wire.KindJoinRoom:
		s.handleJoinRoom(c, f, log)
	case wire.KindLeaveRoom:
		s.handleLeaveRoom(c, log)
	case wire.KindOffer:
		s.handleOffer(c, f, log)
	case wire.KindAnswer:
		s.handleAnswer(c, f, log)
	case wire.KindICECandidate:
		s.handleCandidate(c, f, log)
	}
}

func (s *Server) handleCreateRoom(c *conn.Conn, f wire.Frame, log *slog.Logger) {
	id, err := s.rooms.CreateRoom(f.RoomID, c)
	if err != nil {
		s.replyError(c, err, log)
		return
	}
	c.Send(wire.RoomCreated(id))
}

func (s *Server) handleJoinRoom(c *conn.Conn, f wire.Frame, log *slog.Logger) {
	roomID, viewerID, err := s.rooms.JoinRoom(f.RoomID, c)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			c.Send(wire.RoomNotFound(f.RoomID))
			return
		}
		s.replyError(c, err, log)
		return
	}
	c.Send(wire.RoomJoined(roomID, viewerID))
}

func (s *Server) handleLeaveRoom(c *conn.Conn, log *slog.Logger) {
	if !s.rooms.Leave(c) {
		log.Debug("dropping leave-room from unbound connection")
		return
	}
	c.Close(websocket.CloseNormalClosure, "left room")
}

// handleOffer forwards a host's session offer to the addressed viewer. The
// payload crosses opaque; only the addressing field is consumed.
func (s *Server) handleOffer(c *conn.Conn, f wire.Frame, log *slog.Logger) {
	host, ok := s.rooms.RoleOf(c).(room.Host)
	if !ok {
		s.metrics.Inc(metrics.EventRoutingMiss)
		log.Debug("dropping offer from non-host connection")
		return
	}
	viewer := s.rooms.FindViewer(host.RoomID, f.ViewerID)
	if viewer == nil {
		s.metrics.Inc(metrics.EventRoutingMiss)
		log.Debug("dropping offer for unknown viewer", "room_id", host.RoomID, "viewer_id", f.ViewerID)
		return
	}
	if !viewer.Send(wire.Offer(f.Payload)) {
		s.metrics.Inc(metrics.EventSendQueueFull)
		return
	}
	s.metrics.Inc(metrics.EventOfferForwarded)
}

// handleAnswer forwards a viewer's answer to its room's host, tagged with the
// sender's viewer ID so the host can match it to the right offer.
func (s *Server) handleAnswer(c *conn.Conn, f wire.Frame, log *slog.Logger) {
	viewer, ok := s.rooms.RoleOf(c).(room.Viewer)
	if !ok {
		s.metrics.Inc(metrics.EventRoutingMiss)
		log.Debug("dropping answer from non-viewer connection")
		return
	}
	host := s.rooms.HostOf(viewer.RoomID)
	if host == nil {
		s.metrics.Inc(metrics.EventRoutingMiss)
		log.Debug("dropping answer for vanished room", "room_id", viewer.RoomID)
		return
	}
	if !host.Send(wire.Answer(viewer.ViewerID, f.Payload)) {
		s.metrics.Inc(metrics.EventSendQueueFull)
		return
	}
	s.metrics.Inc(metrics.EventAnswerForwarded)
}

// handleCandidate forwards trickle ICE in whichever direction the sender's
// role implies. Host candidates must name a viewer; viewer candidates go to
// the host stamped with the relay's record of the sender, never a
// client-supplied one.
func (s *Server) handleCandidate(c *conn.Conn, f wire.Frame, log *slog.Logger) {
	switch r := s.rooms.RoleOf(c).(type) {
	case room.Host:
		if f.ViewerID == "" {
			s.metrics.Inc(metrics.EventRoutingMiss)
			log.Debug("dropping host candidate without viewerId")
			return
		}
		viewer := s.rooms.FindViewer(r.RoomID, f.ViewerID)
		if viewer == nil {
			s.metrics.Inc(metrics.EventRoutingMiss)
			log.Debug("dropping candidate for unknown viewer", "room_id", r.RoomID, "viewer_id", f.ViewerID)
			return
		}
		if !viewer.Send(wire.Candidate("", f.Payload)) {
			s.metrics.Inc(metrics.EventSendQueueFull)
			return
		}
		s.metrics.Inc(metrics.EventCandidateForwarded)
	case room.Viewer:
		host := s.rooms.HostOf(r.RoomID)
		if host == nil {
			s.metrics.Inc(metrics.EventRoutingMiss)
			log.Debug("dropping candidate for vanished room", "room_id", r.RoomID)
			return
		}
		if !host.Send(wire.Candidate(r.ViewerID, f.Payload)) {
			s.metrics.Inc(metrics.EventSendQueueFull)
			return
		}
		s.metrics.Inc(metrics.EventCandidateForwarded)
	default:
		s.metrics.Inc(metrics.EventRoutingMiss)
		log.Debug("dropping candidate from unbound connection")
	}
}

// replyError translates a room table error into an error frame on c. Errors
// outside the table's taxonomy indicate a bug or resource failure and close
// the connection instead.
func (s *Server) replyError(c *conn.Conn, err error, log *slog.Logger) {
	switch {
	case errors.Is(err, room.ErrInvalidRoomID):
		c.Send(wire.Error(wire.ErrCodeInvalidRoomID, "Invalid room id"))
	case errors.Is(err, room.ErrRoomExists):
		c.Send(wire.Error(wire.ErrCodeRoomExists, "Room already exists"))
	case errors.Is(err, room.ErrTooManyRooms):
		c.Send(wire.Error(wire.ErrCodeTooManyRooms, "Too many rooms"))
	case errors.Is(err, room.ErrRoomFull):
		c.Send(wire.Error(wire.ErrCodeRoomFull, "Room is full"))
	case errors.Is(err, room.ErrAlreadyInRoom):
		c.Send(wire.Error(wire.ErrCodeAlreadyInRoom, "Already in a room"))
	default:
		s.metrics.Inc(metrics.EventInternalError)
		log.Error("signaling operation failed", "err", err)
		c.Close(websocket.CloseInternalServerErr, "internal error")
	}
}
