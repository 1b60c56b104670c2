package wire

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestParse_CreateRoom(t *testing.T) {
	got, err := Parse([]byte(`{"type":"create-room","roomId":"ABCD1234"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != KindCreateRoom || got.RoomID != "ABCD1234" {
		t.Fatalf("unexpected decoded frame: %#v", got)
	}
}

func TestParse_OfferKeepsPayloadVerbatim(t *testing.T) {
	payload := `{"sdp":"v=0\r\n","type":"offer","extra":[1,2,3]}`
	raw := []byte(`{"type":"offer","viewerId":"ab12cd34","payload":` + payload + `}`)

	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Type != KindOffer || got.ViewerID != "ab12cd34" {
		t.Fatalf("unexpected decoded frame: %#v", got)
	}
	if !bytes.Equal(got.Payload, []byte(payload)) {
		t.Fatalf("payload = %s, want %s", got.Payload, payload)
	}
}

func TestParse_LeaveRoomRejectsExtraFields(t *testing.T) {
	if _, err := Parse([]byte(`{"type":"leave-room","roomId":"ABCD1234"}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_AnswerRejectsClientSuppliedViewerID(t *testing.T) {
	if _, err := Parse([]byte(`{"type":"answer","viewerId":"spoofed","payload":{}}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_DisallowUnknownFields(t *testing.T) {
	if _, err := Parse([]byte(`{"type":"join-room","roomId":"ABCD1234","unexpected":true}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_RejectsTrailingData(t *testing.T) {
	if _, err := Parse([]byte(`{"type":"leave-room"}{"type":"leave-room"}`)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_RejectsServerKindsAndJunk(t *testing.T) {
	for _, raw := range []string{
		`{"type":"room-created","roomId":"ABCD1234"}`,
		`{"type":"host-disconnected"}`,
		`{"type":"error","code":"x","message":"y"}`,
		`{"type":"no-such-kind"}`,
		`{"type":""}`,
		`{}`,
		`[]`,
		`not json`,
	} {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestParse_MissingRequiredFields(t *testing.T) {
	for _, raw := range []string{
		`{"type":"create-room"}`,
		`{"type":"join-room"}`,
		`{"type":"offer","viewerId":"ab12cd34"}`,
		`{"type":"offer","payload":{"sdp":"v=0"}}`,
		`{"type":"answer"}`,
		`{"type":"ice-candidate"}`,
	} {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestAnswer_TagsViewerID(t *testing.T) {
	data := Answer("ab12cd34", json.RawMessage(`{"sdp":"v=0"}`))

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != KindAnswer || f.ViewerID != "ab12cd34" {
		t.Fatalf("unexpected frame: %#v", f)
	}
	if string(f.Payload) != `{"sdp":"v=0"}` {
		t.Fatalf("payload = %s", f.Payload)
	}
}

func TestError_CarriesCodeAndMessage(t *testing.T) {
	data := Error(ErrCodeRoomExists, "Room already exists")

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != KindError || f.Code != ErrCodeRoomExists || f.Message != "Room already exists" {
		t.Fatalf("unexpected frame: %#v", f)
	}
}
