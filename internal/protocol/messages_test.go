package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join message (criteria mode)
// ---------------------------------------------------------------------------

func TestParseClientMessage_Join(t *testing.T) {
	input := []byte(`{"type":"join","gender":"m","age_group":"19-25","seeking_gender":"f","seeking_age_groups":["19-25","26-35"]}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoin {
		t.Fatalf("expected type %q, got %q", TypeJoin, msgType)
	}

	jm, ok := msg.(JoinMsg)
	if !ok {
		t.Fatalf("expected JoinMsg, got %T", msg)
	}
	if jm.Gender != "m" || jm.AgeGroup != "19-25" {
		t.Errorf("unexpected identity criteria: gender=%q age_group=%q", jm.Gender, jm.AgeGroup)
	}
	if jm.SeekingGender != "f" {
		t.Errorf("expected seeking_gender %q, got %q", "f", jm.SeekingGender)
	}
	expected := []string{"19-25", "26-35"}
	if len(jm.SeekingAgeGroups) != len(expected) {
		t.Fatalf("expected %d seeking age groups, got %d", len(expected), len(jm.SeekingAgeGroups))
	}
	for i, v := range expected {
		if jm.SeekingAgeGroups[i] != v {
			t.Errorf("seeking_age_groups[%d]: expected %q, got %q", i, v, jm.SeekingAgeGroups[i])
		}
	}
	if jm.IsAdult {
		t.Error("is_adult should default to false when omitted")
	}
	if jm.Tag != "" {
		t.Errorf("tag should be empty when omitted, got %q", jm.Tag)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a tag-mode join message
// ---------------------------------------------------------------------------

func TestParseClientMessage_JoinWithTag(t *testing.T) {
	input := []byte(`{"type":"join","tag":"movies","is_adult":true}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoin {
		t.Fatalf("expected type %q, got %q", TypeJoin, msgType)
	}

	jm := msg.(JoinMsg)
	if jm.Tag != "movies" {
		t.Errorf("expected tag %q, got %q", "movies", jm.Tag)
	}
	if !jm.IsAdult {
		t.Error("expected is_adult=true")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a chat message
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","room_id":"abc-123","text":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.RoomID != "abc-123" {
		t.Errorf("expected room_id %q, got %q", "abc-123", cm.RoomID)
	}
	if cm.Text != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", cm.Text)
	}
}

func TestParseClientMessage_ImageMsg(t *testing.T) {
	input := []byte(`{"type":"message","room_id":"abc-123","image_id":"img-9"}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cm := msg.(ChatMsg)
	if cm.ImageID != "img-9" {
		t.Errorf("expected image_id %q, got %q", "img-9", cm.ImageID)
	}
	if cm.Text != "" {
		t.Errorf("expected empty text, got %q", cm.Text)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing lifecycle messages
// ---------------------------------------------------------------------------

func TestParseClientMessage_EndChat(t *testing.T) {
	input := []byte(`{"type":"end_chat","room_id":"room-1"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeEndChat {
		t.Fatalf("expected type %q, got %q", TypeEndChat, msgType)
	}
	em := msg.(EndChatMsg)
	if em.RoomID != "room-1" {
		t.Errorf("expected room_id %q, got %q", "room-1", em.RoomID)
	}
}

func TestParseClientMessage_IgnoreUser(t *testing.T) {
	input := []byte(`{"type":"ignore_user","room_id":"room-2"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeIgnoreUser {
		t.Fatalf("expected type %q, got %q", TypeIgnoreUser, msgType)
	}
	im := msg.(IgnoreUserMsg)
	if im.RoomID != "room-2" {
		t.Errorf("expected room_id %q, got %q", "room-2", im.RoomID)
	}
}

func TestParseClientMessage_JoinRoomAck(t *testing.T) {
	input := []byte(`{"type":"join_room_ack","room_id":"room-3"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoinRoomAck {
		t.Fatalf("expected type %q, got %q", TypeJoinRoomAck, msgType)
	}
	am := msg.(JoinRoomAckMsg)
	if am.RoomID != "room-3" {
		t.Errorf("expected room_id %q, got %q", "room-3", am.RoomID)
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a join_room server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_JoinRoom(t *testing.T) {
	data, err := NewServerMessage(TypeJoinRoom, JoinRoomMsg{RoomID: "uuid-456"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeJoinRoom {
		t.Errorf("expected type %q, got %v", TypeJoinRoom, result["type"])
	}
	if result["room_id"] != "uuid-456" {
		t.Errorf("expected room_id %q, got %v", "uuid-456", result["room_id"])
	}
}

func TestNewServerMessage_TypeFieldOverridesPayload(t *testing.T) {
	// The injected type always wins over whatever was in the payload struct.
	data, err := NewServerMessage(TypeChatEnded, ChatEndedMsg{Type: "bogus"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeChatEnded {
		t.Errorf("expected type %q, got %v", TypeChatEnded, result["type"])
	}
}

// ---------------------------------------------------------------------------
// Test: Error cases
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for unknown type, got nil")
	}
	if msgType != "unknown_type" {
		t.Errorf("expected type %q returned even on error, got %q", "unknown_type", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil msg on error, got %v", msg)
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	input := []byte(`{"room_id":"abc"}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for missing type, got nil")
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	input := []byte(`{not json`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Chat message validation
// ---------------------------------------------------------------------------

func TestValidateChatMsg(t *testing.T) {
	cases := []struct {
		name    string
		msg     ChatMsg
		wantErr bool
	}{
		{"text only", ChatMsg{Text: "hi"}, false},
		{"image only", ChatMsg{ImageID: "img-1"}, false},
		{"neither", ChatMsg{}, true},
		{"both", ChatMsg{Text: "hi", ImageID: "img-1"}, true},
		{"oversized text", ChatMsg{Text: strings.Repeat("a", MaxMessageBytes+1)}, true},
		{"too many chars", ChatMsg{Text: strings.Repeat("é", MaxTextChars+1)}, true},
		{"invalid utf8", ChatMsg{Text: string([]byte{0xff, 0xfe})}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateChatMsg(tc.msg)
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
