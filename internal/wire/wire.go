// Package wire defines the JSON frames exchanged on the signaling socket.
//
// Every frame is a single JSON text message with a mandatory "type" field.
// Offer/answer/candidate payloads are opaque to the relay: they are decoded
// as raw JSON and forwarded byte-for-byte without inspection.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type Kind string

// Client-sent frame kinds. Parse accepts exactly this set.
const (
	KindCreateRoom   Kind = "create-room"
	KindJoinRoom     Kind = "join-room"
	KindLeaveRoom    Kind = "leave-room"
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
)

// Server-sent frame kinds.
const (
	KindRoomCreated      Kind = "room-created"
	KindRoomJoined       Kind = "room-joined"
	KindRoomNotFound     Kind = "room-not-found"
	KindViewerJoined     Kind = "viewer-joined"
	KindViewerLeft       Kind = "viewer-left"
	KindHostDisconnected Kind = "host-disconnected"
	KindError            Kind = "error"
)

// CloseRoomExpired is the application-defined WebSocket close code sent to a
// room's host when the janitor removes the room for exceeding its maximum
// age. It is deliberately distinct from the RFC 6455 codes so clients can
// tell expiry apart from error closures.
const CloseRoomExpired = 4001

// Error codes carried by "error" frames.
const (
	ErrCodeInvalidRoomID = "invalid_room_id"
	ErrCodeRoomExists    = "room_exists"
	ErrCodeTooManyRooms  = "too_many_rooms"
	ErrCodeRoomFull      = "room_full"
	ErrCodeAlreadyInRoom = "already_in_room"
	ErrCodeRateLimited   = "rate_limited"
)

// Frame is the wire representation of every signaling message. Which fields
// are allowed depends on Type; validate enforces the per-kind shape for
// client-sent frames.
type Frame struct {
	Type     Kind            `json:"type"`
	RoomID   string          `json:"roomId,omitempty"`
	ViewerID string          `json:"viewerId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Parse decodes and validates a client-sent frame. Unknown fields, trailing
// data, missing required fields, and server-only or unknown kinds are all
// rejected.
func Parse(data []byte) (Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var f Frame
	if err := dec.Decode(&f); err != nil {
		return Frame{}, err
	}
	if err := f.validate(); err != nil {
		return Frame{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Frame{}, fmt.Errorf("unexpected trailing data")
	}
	return f, nil
}

func (f Frame) validate() error {
	switch f.Type {
	case KindCreateRoom:
		if f.RoomID == "" {
			return fmt.Errorf("create-room message missing roomId")
		}
		if f.ViewerID != "" || f.Payload != nil || f.Code != "" || f.Message != "" {
			return fmt.Errorf("create-room message has unexpected fields")
		}
	case KindJoinRoom:
		if f.RoomID == "" {
			return fmt.Errorf("join-room message missing roomId")
		}
		if f.ViewerID != "" || f.Payload != nil || f.Code != "" || f.Message != "" {
			return fmt.Errorf("join-room message has unexpected fields")
		}
	case KindLeaveRoom:
		if f.RoomID != "" || f.ViewerID != "" || f.Payload != nil || f.Code != "" || f.Message != "" {
			return fmt.Errorf("leave-room message has unexpected fields")
		}
	case KindOffer:
		if len(f.Payload) == 0 {
			return fmt.Errorf("offer message missing payload")
		}
		if f.ViewerID == "" {
			return fmt.Errorf("offer message missing viewerId")
		}
		if f.RoomID != "" || f.Code != "" || f.Message != "" {
			return fmt.Errorf("offer message has unexpected fields")
		}
	case KindAnswer:
		if len(f.Payload) == 0 {
			return fmt.Errorf("answer message missing payload")
		}
		// The relay tags answers with the sender's viewerId itself; clients
		// must not supply one.
		if f.RoomID != "" || f.ViewerID != "" || f.Code != "" || f.Message != "" {
			return fmt.Errorf("answer message has unexpected fields")
		}
	case KindICECandidate:
		if len(f.Payload) == 0 {
			return fmt.Errorf("ice-candidate message missing payload")
		}
		if f.RoomID != "" || f.Code != "" || f.Message != "" {
			return fmt.Errorf("ice-candidate message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", f.Type)
	}
	return nil
}

// Server-sent frame builders. Frames are flat string/raw-JSON structures, so
// marshaling cannot fail once the payload has passed Parse; a failure here is
// a programming error.
func encode(f Frame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		panic(fmt.Sprintf("wire: encode %q frame: %v", f.Type, err))
	}
	return data
}

func RoomCreated(roomID string) []byte {
	return encode(Frame{Type: KindRoomCreated, RoomID: roomID})
}

func RoomJoined(roomID, viewerID string) []byte {
	return encode(Frame{Type: KindRoomJoined, RoomID: roomID, ViewerID: viewerID})
}

func RoomNotFound(roomID string) []byte {
	return encode(Frame{Type: KindRoomNotFound, RoomID: roomID})
}

func ViewerJoined(viewerID string) []byte {
	return encode(Frame{Type: KindViewerJoined, ViewerID: viewerID})
}

func ViewerLeft(viewerID string) []byte {
	return encode(Frame{Type: KindViewerLeft, ViewerID: viewerID})
}

func HostDisconnected() []byte {
	return encode(Frame{Type: KindHostDisconnected})
}

func Error(code, message string) []byte {
	return encode(Frame{Type: KindError, Code: code, Message: message})
}

// Offer builds the host→viewer forward. The addressing field is stripped;
// the payload crosses untouched.
func Offer(payload json.RawMessage) []byte {
	return encode(Frame{Type: KindOffer, Payload: payload})
}

// Answer builds the viewer→host forward, tagged with the sender's viewerId.
func Answer(viewerID string, payload json.RawMessage) []byte {
	return encode(Frame{Type: KindAnswer, ViewerID: viewerID, Payload: payload})
}

// Candidate builds an ICE forward. viewerID is the sender's id when the
// candidate travels viewer→host and empty when it travels host→viewer.
func Candidate(viewerID string, payload json.RawMessage) []byte {
	return encode(Frame{Type: KindICECandidate, ViewerID: viewerID, Payload: payload})
}
