package metrics

import "sync"

// Event names recorded by the relay. Kept as plain strings so the registry
// stays a simple map; the Prometheus handler exposes them under one counter
// family with an `event` label.
const (
	EventConnOpened           = "conn_opened"
	EventConnClosed           = "conn_closed"
	EventConnRejectedCapacity = "conn_rejected_at_capacity"
	EventHeartbeatTimeout     = "heartbeat_timeout"

	EventRoomCreated       = "room_created"
	EventRoomDeleted       = "room_deleted"
	EventRoomExpired       = "room_expired"
	EventRoomSweptDeadHost = "room_swept_dead_host"
	EventViewerJoined      = "viewer_joined"
	EventViewerLeft        = "viewer_left"
	EventHostDisconnected  = "host_disconnected"

	EventOfferForwarded     = "offer_forwarded"
	EventAnswerForwarded    = "answer_forwarded"
	EventCandidateForwarded = "candidate_forwarded"

	EventFrameMalformed = "frame_malformed"
	EventFrameOversize  = "frame_oversize"
	EventFrameBinary    = "frame_binary"
	EventRoutingMiss    = "routing_miss"
	EventSendQueueFull  = "send_queue_full"
	EventRateLimited    = "rate_limited"
	EventInternalError  = "internal_error"
)

// Metrics is a minimal, concurrency-safe counter registry with pluggable
// gauge callbacks. It deliberately avoids a metrics library dependency; the
// Prometheus text handler in this package is the only consumer.
type Metrics struct {
	mu     sync.Mutex
	m      map[string]uint64
	gauges []gauge
}

type gauge struct {
	name string
	help string
	fn   func() int64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	if delta == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// RegisterGauge exposes a sampled value (room count, connection count, ...)
// under the given fully-qualified metric name. The callback runs at scrape
// time and must be safe to call concurrently.
func (m *Metrics) RegisterGauge(name, help string, fn func() int64) {
	m.mu.Lock()
	m.gauges = append(m.gauges, gauge{name: name, help: help, fn: fn})
	m.mu.Unlock()
}

func (m *Metrics) gaugeList() []gauge {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]gauge, len(m.gauges))
	copy(out, m.gauges)
	return out
}
