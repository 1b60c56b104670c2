// Package signaling contains the WebSocket signaling surface that pairs a
// room's host with its viewers and forwards their WebRTC session negotiation.
//
// The relay never inspects SDP or ICE payloads; it only addresses them.
package signaling
